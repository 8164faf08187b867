// Package tomlkeys flattens TOML documents into normalized dotted keys so
// that table and dotted-key spellings of the same setting are equivalent.
package tomlkeys

import (
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Store struct {
	flat map[string]any
}

func New() Store {
	return Store{flat: make(map[string]any)}
}

func Decode(data []byte) (Store, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

func FromRaw(raw map[string]any) Store {
	flat := make(map[string]any)
	flattenMap("", raw, flat)

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	store := New()
	for _, key := range keys {
		normalized := NormalizeKey(key)
		if _, exists := store.flat[normalized]; exists {
			continue
		}
		store.flat[normalized] = flat[key]
	}
	return store
}

// Merge returns a store where keys from later stores win.
func Merge(stores ...Store) Store {
	merged := New()
	for _, store := range stores {
		for key, value := range store.flat {
			merged.flat[key] = value
		}
	}
	return merged
}

func (s Store) Set(key string, value any) {
	normalized := NormalizeKey(key)
	if normalized == "" || s.flat == nil {
		return
	}
	s.flat[normalized] = value
}

func (s Store) Get(key string) (any, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	return value, ok
}

func (s Store) Keys() []string {
	keys := make([]string, 0, len(s.flat))
	for key := range s.flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// GetBool accepts booleans and their string spellings.
func (s Store) GetBool(key string) (bool, bool) {
	value, ok := s.Get(key)
	if !ok {
		return false, false
	}
	switch typed := value.(type) {
	case bool:
		return typed, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		return parsed, err == nil
	default:
		return false, false
	}
}

func (s Store) GetInt(key string) (int64, bool) {
	value, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	return asInt64(value)
}

func (s Store) GetFloat(key string) (float64, bool) {
	value, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return parsed, err == nil
	}
	if parsed, ok := asInt64(value); ok {
		return float64(parsed), true
	}
	return 0, false
}

func (s Store) GetString(key string) (string, bool) {
	value, ok := s.Get(key)
	if !ok {
		return "", false
	}
	typed, ok := value.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(typed), true
}

// GetStrings accepts string arrays and comma separated strings.
func (s Store) GetStrings(key string) ([]string, bool) {
	value, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	var items []string
	switch typed := value.(type) {
	case []string:
		items = typed
	case []any:
		for _, item := range typed {
			text, ok := item.(string)
			if !ok {
				return nil, false
			}
			items = append(items, text)
		}
	case string:
		items = strings.Split(typed, ",")
	default:
		return nil, false
	}
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned, true
}

// GetTables returns an array of tables such as [[entry]].
func (s Store) GetTables(key string) ([]map[string]any, bool) {
	value, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	switch typed := value.(type) {
	case []map[string]any:
		return typed, true
	case []any:
		tables := make([]map[string]any, 0, len(typed))
		for _, item := range typed {
			table, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			tables = append(tables, table)
		}
		return tables, true
	default:
		return nil, false
	}
}

func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		lowered := strings.ToLower(strings.TrimSpace(part))
		parts[i] = strings.ReplaceAll(lowered, "_", "-")
	}
	return strings.Join(parts, ".")
}

// EnvName maps a normalized key to an environment variable name.
func EnvName(prefix, key string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_")
	name := strings.ToUpper(replacer.Replace(NormalizeKey(key)))
	if prefix == "" {
		return name
	}
	return strings.ToUpper(prefix) + "_" + name
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		flattenValue(joinKey(prefix, key), value, out)
	}
}

func flattenValue(key string, value any, out map[string]any) {
	switch typed := value.(type) {
	case map[string]any:
		flattenMap(key, typed, out)
	default:
		out[key] = value
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		return parsed, err == nil
	}
	return 0, false
}
