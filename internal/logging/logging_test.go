package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
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
		{"INFO", LevelInfo, false},
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

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("expected default format Text, got %v", cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.MaxSize <= 0 {
		t.Errorf("expected positive MaxSize, got %d", cfg.MaxSize)
	}
	if cfg.MaxAge <= 0 {
		t.Errorf("expected positive MaxAge, got %d", cfg.MaxAge)
	}
	if cfg.MaxBackups <= 0 {
		t.Errorf("expected positive MaxBackups, got %d", cfg.MaxBackups)
	}
}

func TestLoggerNew(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "stderr"

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.Logger == nil {
		t.Error("logger.Logger is nil")
	}
}

func TestLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelInfo, Writer: &buf, Component: "jsdbase"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.WithComponent("corpus").Info("corpus loaded")
	if !strings.Contains(buf.String(), "component=corpus") {
		t.Errorf("component not attached: %s", buf.String())
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "run-456")
	if got := RunIDFromContext(ctx); got != "run-456" {
		t.Errorf("expected %q, got %q", "run-456", got)
	}
}

func TestRunIDFromNilContext(t *testing.T) {
	if got := RunIDFromContext(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestRunIDFromEmptyContext(t *testing.T) {
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()

	if id1 == "" {
		t.Error("NewRunID returned empty string")
	}
	if id1 == id2 {
		t.Error("NewRunID returned duplicate IDs")
	}
}

func TestRunIDInRecords(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelDebug, Format: FormatJSON, Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	ctx := ContextWithRunID(context.Background(), "run-789")
	logger.WithComponent("pipeline").With("case", "EN001").DebugContext(ctx, "case sampled")
	logger.Info("no context")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %q", len(lines), buf.String())
	}

	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode first record: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode second record: %v", err)
	}
	if first[RunIDKey] != "run-789" || first["case"] != "EN001" || first["component"] != "pipeline" {
		t.Errorf("unexpected first record: %v", first)
	}
	if _, ok := second[RunIDKey]; ok {
		t.Errorf("record without run context carries a run ID: %v", second)
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"password", true},
		{"PASSWORD", true},
		{"user_password", true},
		{"secret", true},
		{"api_key", true},
		{"apikey", true},
		{"token", true},
		{"auth_token", true},
		{"access_token", true},
		{"refresh_token", true},
		{"credential", true},
		{"auth_header", true},
		{"session_id", false},
		{"case", false},
		{"username", false},
		{"email", false},
		{"name", false},
		{"id", false},
		{"timestamp", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			result := shouldRedact(test.key)
			if result != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, result, test.expected)
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger, err := New(&Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Writer:    &buf,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("failed to create JSON logger: %v", err)
	}
	defer logger.Close()

	logger.Info("case sampled", "case", "EN001", "samples", 42)
	logger.Debug("hidden")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not a single JSON line: %v: %q", err, buf.String())
	}
	if entry["msg"] != "case sampled" || entry["case"] != "EN001" || entry["component"] != "test" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["samples"] != float64(42) {
		t.Errorf("samples = %v", entry["samples"])
	}
}

func TestRedactionInOutput(t *testing.T) {
	var buf bytes.Buffer

	logger, err := New(&Config{Level: LevelDebug, Format: FormatText, Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Debug("connect", "api_key", "abc123", "corpus", "pan14")

	out := buf.String()
	if strings.Contains(out, "abc123") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "api_key=[REDACTED]") || !strings.Contains(out, "corpus=pan14") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "JSON": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	logger, err := New(&Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "file",
		FilePath:   logPath,
		MaxSize:    1,
		MaxAge:     7,
		MaxBackups: 3,
	})
	if err != nil {
		t.Fatalf("failed to create file logger: %v", err)
	}

	logger.Info("run finished", "cases", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	if !strings.Contains(string(data), "run finished") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestFileRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, err := New(&Config{
		Level:      LevelInfo,
		Output:     "file",
		FilePath:   logPath,
		MaxSize:    1,
		MaxBackups: 3,
	})
	if err != nil {
		t.Fatalf("failed to create file logger: %v", err)
	}
	defer logger.Close()

	logger.Info("before rotation")
	if err := logger.Rotate(); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	logger.Info("after rotation")

	files, err := filepath.Glob(filepath.Join(filepath.Dir(logPath), "test*.log"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("expected current and one backup file, got %v", files)
	}
}

func TestFileOutputRequiresPath(t *testing.T) {
	if _, err := New(&Config{Output: "file"}); err == nil {
		t.Error("expected error for file output without path")
	}
}

func TestRotateWithoutFile(t *testing.T) {
	logger, err := New(&Config{Writer: io.Discard})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if err := logger.Rotate(); err != nil {
		t.Errorf("rotate without file: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("close without file: %v", err)
	}
}
