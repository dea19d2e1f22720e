package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"blinkscan/internal/config"
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
			if level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, err := ParseLevel(LevelString(level))
		if err != nil || parsed != level {
			t.Errorf("level %v did not round-trip", level)
		}
	}
}

func TestFromConfig(t *testing.T) {
	lc := config.LoggingConfig{
		Level:      "debug",
		Format:     "json",
		Output:     "file",
		FilePath:   "/var/log/blinkscan.log",
		MaxSizeMB:  7,
		MaxBackups: 2,
	}
	cfg := FromConfig(&lc)

	if cfg.Level != LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Error("expected JSON format")
	}
	if cfg.MaxSize != 7 || cfg.MaxBackups != 2 {
		t.Errorf("unexpected rotation settings: %d/%d", cfg.MaxSize, cfg.MaxBackups)
	}
	if cfg.Component != "blinkscan" {
		t.Errorf("unexpected component %q", cfg.Component)
	}
}

func newBufferLogger(t *testing.T, level Level) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := New(&Config{
		Level:     level,
		Format:    FormatJSON,
		Writer:    &buf,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	line, _, _ := strings.Cut(buf.String(), "\n")
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", line, err)
	}
	return entry
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, LevelInfo)

	logger.WithSession("abc").Info("session started", "source", "api")

	entry := decodeLine(t, buf)
	if entry["msg"] != "session started" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	if entry["component"] != "test" || entry["session_id"] != "abc" || entry["source"] != "api" {
		t.Errorf("missing attributes: %v", entry)
	}
}

func TestTypedTextRedaction(t *testing.T) {
	logger, buf := newBufferLogger(t, LevelInfo)
	logger.Info("session ended", "text", "HELLO", "chars", 5)

	entry := decodeLine(t, buf)
	if entry["text"] != Redacted {
		t.Errorf("typed text should be redacted, got %v", entry["text"])
	}
	if entry["chars"] != float64(5) {
		t.Errorf("other attributes should pass through, got %v", entry["chars"])
	}

	debugLogger, debugBuf := newBufferLogger(t, LevelDebug)
	debugLogger.Info("session ended", "text", "HELLO")
	if got := decodeLine(t, debugBuf)["text"]; got != "HELLO" {
		t.Errorf("debug level keeps typed text, got %v", got)
	}
}

func TestNewRequestID(t *testing.T) {
	logger, _ := newBufferLogger(t, LevelInfo)

	id1 := logger.NewRequestID()
	id2 := logger.WithComponent("api").NewRequestID()

	if id1 == id2 {
		t.Error("NewRequestID returned duplicate IDs")
	}
	if !strings.HasPrefix(id1, "test-") {
		t.Errorf("NewRequestID should start with component name, got %q", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	if got := RequestIDFromContext(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}

	ctx := ContextWithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("expected req-1, got %q", got)
	}

	logger, buf := newBufferLogger(t, LevelInfo)
	logger.WithContext(ctx).Info("handled")
	if got := decodeLine(t, buf)["request_id"]; got != "req-1" {
		t.Errorf("expected request_id req-1, got %v", got)
	}
}

func TestFileRotator(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 3})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	testData := []byte("test log line\n")
	n, err := rotator.Write(testData)
	if err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if n != len(testData) {
		t.Errorf("expected to write %d bytes, wrote %d", len(testData), n)
	}
	if err := rotator.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file was not created: %v", err)
	}
}

func TestFileRotatorRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}

	chunk := bytes.Repeat([]byte("x"), 700*1024)
	for i := 0; i < 3; i++ {
		if _, err := rotator.Write(chunk); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
	if err := rotator.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	backups, err := rotator.Backups()
	if err != nil {
		t.Fatalf("failed to list backups: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("expected 1 backup after cleanup, got %v", backups)
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("current log missing: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("current log should hold one chunk, has %d bytes", info.Size())
	}
}

func TestCrashHandler(t *testing.T) {
	dir := t.TempDir()
	logger, buf := newBufferLogger(t, LevelInfo)

	var seen CrashReport
	h := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  dir,
		Version:   "test",
		Component: "pipeline",
		Logger:    logger,
		OnCrash:   func(r CrashReport) { seen = r },
	})
	h.SetSessionID("sess-1")

	panicked := h.Recover(map[string]any{"op": "tick"}, func() {
		panic("boom")
	})
	if !panicked {
		t.Fatal("expected panic to be reported")
	}
	if seen.PanicValue != "boom" || seen.SessionID != "sess-1" {
		t.Errorf("unexpected report: %+v", seen)
	}
	if !strings.Contains(buf.String(), "recovered panic") {
		t.Error("panic was not logged")
	}

	reports, err := h.CrashReports()
	if err != nil {
		t.Fatalf("CrashReports failed: %v", err)
	}
	if len(reports) != 1 || reports[0].Component != "pipeline" {
		t.Errorf("unexpected reports: %+v", reports)
	}

	if h.Recover(nil, func() {}) {
		t.Error("normal return should not count as a panic")
	}
}
