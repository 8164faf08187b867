package tomlkeys

import "testing"

func TestTableAndDottedKeysAreEquivalent(t *testing.T) {
	cases := []string{
		`[cache]
debounce-ms = 75
`,
		`cache.debounce-ms = 75
`,
	}
	for _, input := range cases {
		store, err := Decode([]byte(input))
		if err != nil {
			t.Fatalf("decode toml: %v", err)
		}
		value, ok := store.GetInt("cache.debounce-ms")
		if !ok {
			t.Fatalf("expected cache.debounce-ms value")
		}
		if value != 75 {
			t.Fatalf("expected 75, got %d", value)
		}
	}
}

func TestNormalizationHandlesUnderscoresAndCase(t *testing.T) {
	input := `[Cache]
DEBOUNCE_MS = 123
`
	store, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("decode toml: %v", err)
	}
	value, ok := store.GetInt("cache.debounce-ms")
	if !ok || value != 123 {
		t.Fatalf("expected 123, got %d (%v)", value, ok)
	}
}

func TestTypedGetters(t *testing.T) {
	input := `flag = true
count = 7
ratio = 1.5
name = " hello "
origins = ["a", "b"]

[[entry]]
name = "config.json"

[[entry]]
name = "rules.yaml"
`
	store, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("decode toml: %v", err)
	}
	if flag, ok := store.GetBool("flag"); !ok || !flag {
		t.Fatalf("expected flag true")
	}
	if count, ok := store.GetInt("count"); !ok || count != 7 {
		t.Fatalf("expected count 7, got %d", count)
	}
	if ratio, ok := store.GetFloat("ratio"); !ok || ratio != 1.5 {
		t.Fatalf("expected ratio 1.5, got %v", ratio)
	}
	if name, ok := store.GetString("name"); !ok || name != "hello" {
		t.Fatalf("expected trimmed name, got %q", name)
	}
	if origins, ok := store.GetStrings("origins"); !ok || len(origins) != 2 || origins[1] != "b" {
		t.Fatalf("unexpected origins %v", origins)
	}
	tables, ok := store.GetTables("entry")
	if !ok || len(tables) != 2 || tables[1]["name"] != "rules.yaml" {
		t.Fatalf("unexpected tables %v", tables)
	}
}

func TestStringValuesAreCoerced(t *testing.T) {
	store := New()
	store.Set("server.rate-burst", "12")
	store.Set("server.rate-limit", "2.5")
	store.Set("log.enabled", "false")
	store.Set("server.allowed-origins", "a.test, b.test")

	if value, ok := store.GetInt("server.rate_burst"); !ok || value != 12 {
		t.Fatalf("expected 12, got %d", value)
	}
	if value, ok := store.GetFloat("server.rate-limit"); !ok || value != 2.5 {
		t.Fatalf("expected 2.5, got %v", value)
	}
	if value, ok := store.GetBool("log.enabled"); !ok || value {
		t.Fatalf("expected false, got %v", value)
	}
	if value, ok := store.GetStrings("server.allowed-origins"); !ok || len(value) != 2 || value[0] != "a.test" {
		t.Fatalf("unexpected origins %v", value)
	}
}

func TestMergeLaterWins(t *testing.T) {
	first := New()
	first.Set("a", 1)
	first.Set("b", 1)
	second := New()
	second.Set("b", 2)

	merged := Merge(first, second)
	if value, _ := merged.GetInt("b"); value != 2 {
		t.Fatalf("expected later store to win, got %d", value)
	}
	if keys := merged.Keys(); len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("watchcache", "cache.debounce-ms"); got != "WATCHCACHE_CACHE_DEBOUNCE_MS" {
		t.Fatalf("unexpected env name %q", got)
	}
}
