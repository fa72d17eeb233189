package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo)

	l.Info("test message", slog.String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
	if entry["service"] != "tallyman" {
		t.Errorf("service = %q, want %q", entry["service"], "tallyman")
	}
}

func TestSetup_IncludesTimeAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, nil)

	l.Warn("warning test")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
}

func TestSetup_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelWarn)

	l.Info("should be dropped")
	l.Debug("should be dropped too")

	if buf.Len() != 0 {
		t.Errorf("expected no output below WARN, got %s", buf.String())
	}
}

func TestSetup_MultipleAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo)

	l.Info("ballot recorded",
		slog.String("poll_id", "p-123"),
		slog.String("participant_id", "pt-456"),
		slog.Bool("replaced", true),
		slog.Int("version", 2),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["poll_id"] != "p-123" {
		t.Errorf("poll_id = %q, want %q", entry["poll_id"], "p-123")
	}
	if entry["participant_id"] != "pt-456" {
		t.Errorf("participant_id = %q, want %q", entry["participant_id"], "pt-456")
	}
	if entry["replaced"] != true {
		t.Errorf("replaced = %v, want true", entry["replaced"])
	}
	if entry["version"] != float64(2) {
		t.Errorf("version = %v, want %v", entry["version"], 2)
	}
}

func TestSetupDefault_SetsGlobalLoggerWithAdjustableLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	level := SetupDefault(&buf)

	slog.Default().Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug log should be filtered at default level, got %s", buf.String())
	}

	level.Set(slog.LevelDebug)
	slog.Default().Debug("global test", slog.String("test_key", "test_val"))

	out := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, out)
	}

	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}
