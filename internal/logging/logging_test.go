package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelStringRoundTrip(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, err := ParseLevel(LevelString(level))
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", LevelString(level), err)
		}
		if parsed != level {
			t.Errorf("round trip of %v gave %v", level, parsed)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"key", true},
		{"KEY", true},
		{"char", true},
		{"code", true},
		{"text", true},
		{"content", true},
		{"value", true},
		{"password", true},
		{"api_key", true},
		{"auth_token", true},
		{"bearer", true},
		{"cookie", true},
		{"session_id", false},
		{"keystrokes", false},
		{"score", false},
		{"sample_count", false},
		{"classification", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			if got := shouldRedact(test.key); got != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, got, test.expected)
			}
		})
	}
}

func newBufferLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(&Config{
		Level:     LevelDebug,
		Format:    FormatJSON,
		Component: "test",
		Writer:    &buf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return entry
}

func TestRedactionInOutput(t *testing.T) {
	l, buf := newBufferLogger(t)
	l.Info("keydown", "key", "a", "code", "KeyA", "keystrokes", 3)

	entry := decodeLine(t, buf)
	if entry["key"] != Redacted {
		t.Errorf("key = %v, want redacted", entry["key"])
	}
	if entry["code"] != Redacted {
		t.Errorf("code = %v, want redacted", entry["code"])
	}
	if entry["keystrokes"] != float64(3) {
		t.Errorf("keystrokes = %v, want 3", entry["keystrokes"])
	}
	if entry["component"] != "test" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestWithSessionAndComponent(t *testing.T) {
	l, buf := newBufferLogger(t)
	l.WithSession("abc").WithComponent("detector").Info("analysis")

	entry := decodeLine(t, buf)
	if entry["session_id"] != "abc" {
		t.Errorf("session_id = %v", entry["session_id"])
	}
	if entry["msg"] != "analysis" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelWarn, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message missing")
	}
}

func TestNopAndDefault(t *testing.T) {
	Nop().Error("dropped")

	if Default() == nil {
		t.Fatal("Default returned nil")
	}
	prev := Default()
	l, _ := newBufferLogger(t)
	SetDefault(l)
	if Default() != l {
		t.Error("SetDefault did not replace the default logger")
	}
	SetDefault(prev)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "keycadence.log")
	l, err := New(&Config{Output: "file", FilePath: path, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("written")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "written") {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestFileRotatorRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	r, err := NewFileRotator(path, 1, 2)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	defer r.Close()

	line := []byte(strings.Repeat("x", 1023) + "\n")
	for i := 0; i < 3*1024+10; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := r.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	for _, name := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(name); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("backup beyond MaxBackups should not exist")
	}

	info, _ := os.Stat(path)
	if info.Size() > 1024*1024 {
		t.Errorf("active file exceeds max size: %d", info.Size())
	}
}

func TestFileRotatorEmptyPath(t *testing.T) {
	if _, err := NewFileRotator("", 1, 1); err == nil {
		t.Error("expected error for empty path")
	}
}
