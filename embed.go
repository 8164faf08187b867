package watchcache

import "embed"

// EmbeddedConfigFS provides the default configuration file.
//
//go:embed config
var EmbeddedConfigFS embed.FS

const DefaultConfigPath = "config/watchcache.toml"
