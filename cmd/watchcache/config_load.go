package main

import (
	"flag"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"watchcache"
	"watchcache/internal/config"
	"watchcache/internal/filecache"
	"watchcache/internal/logging"
	"watchcache/internal/metrics"
	"watchcache/internal/parse"
	"watchcache/internal/watcher"
)

const defaultConfigFile = "watchcache.toml"

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

type configFlags struct {
	path string
	root string
	sets stringList
}

func addConfigFlags(flags *flag.FlagSet) *configFlags {
	values := &configFlags{}
	flags.StringVar(&values.path, "config", defaultConfigFile, "Config file path")
	flags.StringVar(&values.root, "root", "", "Directory to watch (overrides cache.root)")
	flags.Var(&values.sets, "set", "Override a config key as key=value (repeatable)")
	return values
}

// load layers the embedded defaults, the config file, the environment,
// -set overrides and finally the dedicated flags.
func (f *configFlags) load(extra map[string]any) (config.Config, error) {
	overrides, err := config.ParseOverrides(f.sets)
	if err != nil {
		return config.Config{}, err
	}
	if root := strings.TrimSpace(f.root); root != "" {
		overrides["cache.root"] = root
	}
	for key, value := range extra {
		overrides[key] = value
	}
	defaults, err := fs.ReadFile(watchcache.EmbeddedConfigFS, watchcache.DefaultConfigPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("read embedded defaults: %w", err)
	}
	return config.Load(f.path, defaults, overrides)
}

func newLogger(cfg config.Config, out io.Writer) *logging.Logger {
	buffer := logging.NewLogBuffer(logging.DefaultBufferSize)
	return logging.NewLoggerWithFormat(buffer, cfg.LogLevel(), out, cfg.LogFormat())
}

// openCache creates the cache described by cfg and registers every
// configured entry. A nil source uses an fsnotify watcher.
func openCache(cfg config.Config, logger *logging.Logger, registry *metrics.Registry, source watcher.Source) (*filecache.Cache, error) {
	cache, err := filecache.NewWithOptions(cfg.Cache.Name, cfg.Cache.Root, filecache.Options{
		Logger:   logger,
		Debounce: cfg.Debounce(),
		Source:   source,
		Metrics:  registry,
	})
	if err != nil {
		return nil, err
	}
	for _, entry := range cfg.Entries {
		if err := watchEntry(cache, entry); err != nil {
			_ = cache.Close()
			return nil, err
		}
	}
	return cache, nil
}

func watchEntry(cache *filecache.Cache, entry config.EntryConfig) error {
	parser, err := parse.ByFormat(entry.Format, entry.Compression)
	if err != nil {
		return fmt.Errorf("entry %s: %w", entry.Name, err)
	}
	if _, err := filecache.Watch[any](cache, entry.Name, parser, entry.Default); err != nil {
		return fmt.Errorf("entry %s: %w", entry.Name, err)
	}
	return nil
}

func findEntry(cfg config.Config, name string) (config.EntryConfig, bool) {
	for _, entry := range cfg.Entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return config.EntryConfig{}, false
}
