package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []outEntry {
	t.Helper()
	var out []outEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e outEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func TestStdoutLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("engine", &buf, LevelWarn)

	l.Debug("dropped")
	l.Info("dropped too")
	l.Warn("kept", Field{Key: "run_id", Value: "r1"})
	l.Error("kept as well", Field{Key: "error", Value: errors.New("boom")})

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %s", len(entries), buf.String())
	}
	if entries[0].Level != "warn" || entries[0].Fields["run_id"] != "r1" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Fields["error"] != "boom" {
		t.Errorf("error field should be flattened to its message, got %v", entries[1].Fields["error"])
	}
	if entries[1].Component != "engine" {
		t.Errorf("expected component engine, got %q", entries[1].Component)
	}
}

func TestStdoutLogger_WithKeepsFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("root", &buf, LevelDebug)

	child := l.With(Field{Key: "component", Value: "dispatch"}, Field{Key: "worker", Value: 3})
	child.Info("started")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Component != "dispatch" {
		t.Errorf("expected component dispatch, got %q", entries[0].Component)
	}
	if v, ok := entries[0].Fields["worker"].(float64); !ok || v != 3 {
		t.Errorf("expected persistent worker field, got %v", entries[0].Fields["worker"])
	}
	if _, ok := entries[0].Fields["component"]; ok {
		t.Error("component must not be duplicated as a field")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
