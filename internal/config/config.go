// Package config loads the watchcache configuration.
//
// Values are layered: embedded defaults, the TOML config file, WATCHCACHE_*
// environment variables and finally explicit overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"watchcache/internal/config/tomlkeys"
	"watchcache/internal/logging"
	"watchcache/internal/parse"
)

const EnvPrefix = "WATCHCACHE"

type Config struct {
	Cache   CacheConfig   `json:"cache,omitempty" jsonschema:"description=Watched directory settings"`
	Log     LogConfig     `json:"log,omitempty"`
	Server  ServerConfig  `json:"server,omitempty"`
	Refresh RefreshConfig `json:"refresh,omitempty"`
	Entries []EntryConfig `json:"entry,omitempty" jsonschema:"description=Files to watch"`
}

type CacheConfig struct {
	Name       string `json:"name,omitempty" jsonschema:"description=Name used in logs and events"`
	Root       string `json:"root,omitempty" jsonschema:"description=Directory to watch; it may not exist yet"`
	DebounceMS int64  `json:"debounce-ms,omitempty" jsonschema:"minimum=1,description=Delay before a changed file is reloaded"`
}

type LogConfig struct {
	Level  string `json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warning,enum=error,enum=fatal"`
	Format string `json:"format,omitempty" jsonschema:"enum=console,enum=json"`
}

type ServerConfig struct {
	Addr           string   `json:"addr,omitempty"`
	AllowedOrigins []string `json:"allowed-origins,omitempty" jsonschema:"description=Extra origins allowed to open the event stream"`
	RateLimit      float64  `json:"rate-limit,omitempty" jsonschema:"minimum=0,description=Requests per second; 0 disables limiting"`
	RateBurst      int64    `json:"rate-burst,omitempty" jsonschema:"minimum=0"`
}

type RefreshConfig struct {
	SoftTTLMS int64 `json:"soft-ttl-ms,omitempty" jsonschema:"minimum=0"`
	HardTTLMS int64 `json:"hard-ttl-ms,omitempty" jsonschema:"minimum=0"`
}

type EntryConfig struct {
	Name        string `json:"name" jsonschema:"description=File name relative to the cache root"`
	Format      string `json:"format,omitempty" jsonschema:"enum=json,enum=yaml,enum=toml,enum=text,enum=lines,enum=proto-struct,enum=proto-json"`
	Compression string `json:"compression,omitempty" jsonschema:"enum=none,enum=zstd"`
	Default     any    `json:"default,omitempty" jsonschema:"description=Value served until the file is loaded"`
}

func (c Config) Debounce() time.Duration {
	return time.Duration(c.Cache.DebounceMS) * time.Millisecond
}

func (c Config) SoftTTL() time.Duration {
	return time.Duration(c.Refresh.SoftTTLMS) * time.Millisecond
}

func (c Config) HardTTL() time.Duration {
	return time.Duration(c.Refresh.HardTTLMS) * time.Millisecond
}

func (c Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}

func (c Config) LogFormat() logging.Format {
	format, _ := logging.ParseFormat(c.Log.Format)
	return format
}

// Load builds a Config from the defaults payload, the optional file at path,
// the environment and overrides. A missing file is not an error.
func Load(path string, defaultsPayload []byte, overrides map[string]any) (Config, error) {
	defaults, err := tomlkeys.Decode(defaultsPayload)
	if err != nil {
		return Config{}, fmt.Errorf("decode defaults: %w", err)
	}
	layers := []tomlkeys.Store{defaults}

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		} else {
			store, err := tomlkeys.Decode(payload)
			if err != nil {
				return Config{}, fmt.Errorf("decode %s: %w", path, err)
			}
			layers = append(layers, store)
		}
	}

	layers = append(layers, envLayer(defaults.Keys(), os.LookupEnv))

	overrideLayer := tomlkeys.New()
	for key, value := range overrides {
		overrideLayer.Set(key, value)
	}
	layers = append(layers, overrideLayer)

	values := tomlkeys.Merge(layers...)
	cfg, err := fromStore(values)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envLayer(keys []string, lookup func(string) (string, bool)) tomlkeys.Store {
	store := tomlkeys.New()
	known := append([]string{"refresh.soft-ttl-ms"}, keys...)
	for _, key := range known {
		if value, ok := lookup(tomlkeys.EnvName(EnvPrefix, key)); ok {
			store.Set(key, value)
		}
	}
	return store
}

func fromStore(values tomlkeys.Store) (Config, error) {
	cfg := Config{}
	cfg.Cache.Name = stringSetting(values, "cache.name", "watchcache")
	cfg.Cache.Root = stringSetting(values, "cache.root", "")
	cfg.Cache.DebounceMS = intSetting(values, "cache.debounce-ms", 50)
	cfg.Log.Level = stringSetting(values, "log.level", string(logging.LevelInfo))
	cfg.Log.Format = stringSetting(values, "log.format", string(logging.FormatConsole))
	cfg.Server.Addr = stringSetting(values, "server.addr", ":8080")
	cfg.Server.AllowedOrigins, _ = values.GetStrings("server.allowed-origins")
	cfg.Server.RateLimit = floatSetting(values, "server.rate-limit", 0)
	cfg.Server.RateBurst = intSetting(values, "server.rate-burst", 0)
	cfg.Refresh.SoftTTLMS = intSetting(values, "refresh.soft-ttl-ms", 0)
	cfg.Refresh.HardTTLMS = intSetting(values, "refresh.hard-ttl-ms", 0)

	if _, ok := values.Get("entry"); ok {
		tables, ok := values.GetTables("entry")
		if !ok {
			return Config{}, errors.New("entry must be an array of tables")
		}
		for index, table := range tables {
			entry := tomlkeys.FromRaw(table)
			defaultValue, _ := entry.Get("default")
			cfg.Entries = append(cfg.Entries, EntryConfig{
				Name:        stringSetting(entry, "name", ""),
				Format:      stringSetting(entry, "format", parse.FormatJSON),
				Compression: stringSetting(entry, "compression", parse.CompressionNone),
				Default:     rawDefault(table, defaultValue),
			})
			if cfg.Entries[index].Name == "" {
				return Config{}, fmt.Errorf("entry %d: name is required", index)
			}
		}
	}
	return cfg, nil
}

// rawDefault keeps table-valued defaults intact; flattening would split them
// into dotted keys.
func rawDefault(table map[string]any, flattened any) any {
	if value, ok := table["default"]; ok {
		return value
	}
	return flattened
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Cache.Root) == "" {
		return errors.New("cache.root is required")
	}
	if c.Cache.DebounceMS <= 0 {
		return fmt.Errorf("cache.debounce-ms must be positive, got %d", c.Cache.DebounceMS)
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("log.level %q is not a known level", c.Log.Level)
	}
	if _, ok := logging.ParseFormat(c.Log.Format); !ok {
		return fmt.Errorf("log.format %q is not a known format", c.Log.Format)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return errors.New("server rate limits must not be negative")
	}
	if c.Refresh.SoftTTLMS < 0 || c.Refresh.HardTTLMS < 0 {
		return errors.New("refresh ttls must not be negative")
	}
	if c.Refresh.HardTTLMS > 0 && c.Refresh.SoftTTLMS > c.Refresh.HardTTLMS {
		return errors.New("refresh.soft-ttl-ms must not exceed refresh.hard-ttl-ms")
	}
	seen := make(map[string]struct{}, len(c.Entries))
	for _, entry := range c.Entries {
		if _, ok := seen[entry.Name]; ok {
			return fmt.Errorf("entry %q is declared twice", entry.Name)
		}
		seen[entry.Name] = struct{}{}
		if _, err := parse.ByFormat(entry.Format, entry.Compression); err != nil {
			return fmt.Errorf("entry %q: %w", entry.Name, err)
		}
	}
	return nil
}

// ParseOverrides turns key=value pairs into typed overrides. Integers,
// floats and booleans are recognized; everything else stays a string.
func ParseOverrides(pairs []string) (map[string]any, error) {
	overrides := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q, expected key=value", pair)
		}
		overrides[tomlkeys.NormalizeKey(key)] = parseScalar(strings.TrimSpace(value))
	}
	return overrides, nil
}

func parseScalar(value string) any {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseFloat(value, 64); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return value
}

func intSetting(values tomlkeys.Store, key string, fallback int64) int64 {
	if value, ok := values.GetInt(key); ok {
		return value
	}
	return fallback
}

func floatSetting(values tomlkeys.Store, key string, fallback float64) float64 {
	if value, ok := values.GetFloat(key); ok {
		return value
	}
	return fallback
}

func stringSetting(values tomlkeys.Store, key string, fallback string) string {
	if value, ok := values.GetString(key); ok && value != "" {
		return value
	}
	return fallback
}
