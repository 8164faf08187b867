package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("Start watching /srv/conf", map[string]string{"cache": "app"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != LevelInfo {
		t.Fatalf("expected info level, got %q", entry.Level)
	}
	if entry.Message != "Start watching /srv/conf" {
		t.Fatalf("unexpected message %q", entry.Message)
	}
	if entry.Context["cache"] != "app" {
		t.Fatalf("expected context cache=app, got %v", entry.Context)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Info("info", nil)
	logger.Warn("warn", nil)
	logger.Fatal("fatal", nil)

	entries := buffer.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != LevelWarning {
		t.Fatalf("expected warning level, got %q", entries[0].Level)
	}
	if entries[1].Level != LevelFatal {
		t.Fatalf("expected fatal level, got %q", entries[1].Level)
	}
}

func TestLoggerWithMergesBaseContext(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelDebug, io.Discard).With(map[string]string{
		"cache": "app",
	})

	logger.Error("Error reading file config.json", map[string]string{"error": "boom"})

	entries := buffer.Filter(LevelError, "Error reading file config.json")
	if len(entries) != 1 {
		t.Fatalf("expected 1 error entry, got %d", len(entries))
	}
	if entries[0].Context["cache"] != "app" || entries[0].Context["error"] != "boom" {
		t.Fatalf("unexpected context %v", entries[0].Context)
	}
}

func TestLoggerRendersJSONThroughZerolog(t *testing.T) {
	var output bytes.Buffer
	logger := NewLoggerWithFormat(nil, LevelInfo, &output, FormatJSON)

	logger.Fatal("Fail to watch /missing", map[string]string{"path": "/missing"})

	line := strings.TrimSpace(output.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	if decoded["level"] != "fatal" {
		t.Fatalf("expected fatal level, got %v", decoded["level"])
	}
	if decoded["message"] != "Fail to watch /missing" {
		t.Fatalf("unexpected message %v", decoded["message"])
	}
	if decoded["path"] != "/missing" {
		t.Fatalf("expected path field, got %v", decoded["path"])
	}
}

func TestLoggerConsoleFormat(t *testing.T) {
	var output bytes.Buffer
	logger := NewLoggerWithFormat(nil, LevelInfo, &output, FormatConsole)

	logger.Warn("Cannot find path /srv/conf", nil)

	if !strings.Contains(output.String(), "Cannot find path /srv/conf") {
		t.Fatalf("expected console output to contain message, got %q", output.String())
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"":        FormatJSON,
		"json":    FormatJSON,
		"Console": FormatConsole,
		"text":    FormatConsole,
	}
	for raw, expected := range cases {
		got, ok := ParseFormat(raw)
		if !ok || got != expected {
			t.Fatalf("ParseFormat(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseFormat("xml"); ok {
		t.Fatal("expected xml to be rejected")
	}
}
