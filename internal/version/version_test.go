package version

import (
	"runtime"
	"testing"
)

func TestCurrentUsesLinkedValues(t *testing.T) {
	previousVersion, previousCommit, previousBuilt := Version, GitCommit, Built
	t.Cleanup(func() {
		Version, GitCommit, Built = previousVersion, previousCommit, previousBuilt
	})

	Version = "1.2.3"
	GitCommit = "0123456789abcdef"
	Built = "2026-01-11T12:34:56Z"

	info := Current()
	if info.Version != "1.2.3" || info.Built != "2026-01-11T12:34:56Z" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Fatalf("expected go version %q, got %q", runtime.Version(), info.GoVersion)
	}
	if got := info.String(); got != "watchcache 1.2.3 (0123456789ab)" {
		t.Fatalf("unexpected string: %q", got)
	}
}

func TestStringWithoutCommit(t *testing.T) {
	info := Info{Version: "dev"}
	if got := info.String(); got != "watchcache dev" {
		t.Fatalf("unexpected string: %q", got)
	}
}
