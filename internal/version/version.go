// Package version reports build metadata.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time with -ldflags "-X watchcache/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	Built     = ""
)

type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	Built     string `json:"built,omitempty"`
	GoVersion string `json:"go_version"`
}

// Current returns the linked build metadata. The commit falls back to the
// VCS revision recorded by the Go toolchain.
func Current() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		Built:     Built,
		GoVersion: runtime.Version(),
	}
	if info.GitCommit == "" {
		info.GitCommit = vcsRevision()
	}
	return info
}

func (i Info) String() string {
	if i.GitCommit == "" {
		return fmt.Sprintf("watchcache %s", i.Version)
	}
	commit := i.GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("watchcache %s (%s)", i.Version, commit)
}

func vcsRevision() string {
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return ""
}
