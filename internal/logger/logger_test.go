package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	logger := Init(Options{Service: "test-service", Level: slog.LevelInfo, Stdout: &buf})
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	slog.Info("hello", "n", 1)
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line["service"] != "test-service" || line["msg"] != "hello" {
		t.Errorf("unexpected record: %v", line)
	}

	slog.Debug("hidden")
	if bytes.Count(buf.Bytes(), []byte{'\n'}) != 1 {
		t.Error("debug record should be filtered at info level")
	}
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insight.log")
	var buf bytes.Buffer
	Init(Options{Service: "svc", File: path, Stdout: &buf})
	slog.Warn("rotated")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("rotated")) || !bytes.Contains(buf.Bytes(), []byte("rotated")) {
		t.Error("record should reach both stdout and the log file")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestGenerateTraceID(t *testing.T) {
	a, b := GenerateTraceID(), GenerateTraceID()
	if a == b {
		t.Fatal("trace ids must be unique")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("trace id %q is not a UUID: %v", a, err)
	}
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()

	if attrs := LogWithTrace(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no trace id, got %v", attrs)
	}

	ctx = WithTraceID(ctx, "abc-123")
	if attrs := LogWithTrace(ctx); len(attrs) == 0 {
		t.Fatal("expected non-empty attrs with trace id set")
	}
}
