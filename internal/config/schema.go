package config

import (
	"github.com/invopop/jsonschema"

	"watchcache/internal/schema"
)

const (
	SchemaConfig = "config"
	SchemaEntry  = "entry"
)

// RegisterSchemas makes the config file schemas resolvable by name.
func RegisterSchemas() error {
	if err := schema.Register(SchemaConfig, func() *jsonschema.Schema {
		return schema.Generate(&Config{})
	}); err != nil {
		return err
	}
	return schema.Register(SchemaEntry, func() *jsonschema.Schema {
		return schema.Generate(&EntryConfig{})
	})
}
