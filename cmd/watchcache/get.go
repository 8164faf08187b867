package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"watchcache/internal/config"
	"watchcache/internal/filecache"
	"watchcache/internal/logging"
	"watchcache/internal/metrics"
	"watchcache/internal/parse"
	"watchcache/internal/watcher"
)

type noopHandle struct{}

func (noopHandle) Close() error { return nil }

// staticSource never reports changes; get reads each file once.
type staticSource struct{}

func (staticSource) Watch(dir string, options watcher.WatchOptions, callback func(watcher.Event)) (watcher.Handle, error) {
	return noopHandle{}, nil
}

func runGet(args []string, out, errOut io.Writer) int {
	flags := flag.NewFlagSet("watchcache get", flag.ContinueOnError)
	flags.SetOutput(errOut)
	configValues := addConfigFlags(flags)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: watchcache get [-config path] [-root dir] NAME")
		return 2
	}
	name := flags.Arg(0)

	cfg, err := configValues.load(nil)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	entry, ok := findEntry(cfg, name)
	if !ok {
		fmt.Fprintf(errOut, "entry %q is not configured\n", name)
		return 1
	}

	value, err := loadEntry(cfg, entry, newLogger(cfg, errOut))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	encoded, err := parse.MarshalJSON(value)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, string(encoded))
	return 0
}

// loadEntry parses one configured entry, falling back to its default when
// the file is missing or unreadable.
func loadEntry(cfg config.Config, entry config.EntryConfig, logger *logging.Logger) (any, error) {
	single := cfg
	single.Entries = []config.EntryConfig{entry}
	cache, err := openCache(single, logger, metrics.NewRegistry(nil), staticSource{})
	if err != nil {
		return nil, err
	}
	defer cache.Close()
	return filecache.Get[any](cache, entry.Name)
}
