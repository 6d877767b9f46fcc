package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLoggerFieldsAndWith(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "beat"))
	log.Info("hook fired", Int("period", 10), Err(errors.New("late")), Err(nil), Stack("  "))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	m := lines[0]
	if m["comp"] != "beat" || m["message"] != "hook fired" || m["period"] != float64(10) {
		t.Fatalf("unexpected entry %v", m)
	}
	if _, ok := m["stack"]; ok {
		t.Fatal("blank stack must be omitted")
	}
	if !strings.HasPrefix(m["caller"].(string), "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Debug("dropped")
	log.Warn("kept")
	if n := len(decodeLines(t, buf.Bytes())); n != 1 {
		t.Fatalf("lines = %d, want 1", n)
	}
	if log.Enabled(LevelInfo) || !log.Enabled(LevelError) {
		t.Fatal("Enabled disagrees with level")
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop() should not be zero")
	}
}

// Not parallel: New sets zerolog globals.
func TestServiceApplySwitchesToFile(t *testing.T) {
	var console bytes.Buffer
	svc, log := New(Config{Level: "info", Console: true}, WithConsoleOutput(&console))
	defer svc.Close()

	log.Info("to console")
	if !strings.Contains(console.String(), "to console") {
		t.Fatalf("console output = %q", console.String())
	}

	path := filepath.Join(t.TempDir(), "hb.log")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("to file", String("hook", "monitor"))
	if strings.Contains(console.String(), "to file") {
		t.Fatal("console sink still active after Apply")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := decodeLines(t, b)
	if len(lines) != 1 || lines[0]["hook"] != "monitor" || lines[0]["level"] != "debug" {
		t.Fatalf("file lines = %v", lines)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]Level{
		"trace": LevelTrace, " DEBUG ": LevelDebug, "warning": LevelWarn, "error": LevelError, "bogus": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in, LevelInfo); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
