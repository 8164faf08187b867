package schema

import "github.com/invopop/jsonschema"

func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
}

// Generate reflects a schema from the json tags of value.
func Generate(value any) *jsonschema.Schema {
	s := newReflector().Reflect(value)
	if s.Version == "" {
		s.Version = jsonschema.Version
	}
	return s
}
