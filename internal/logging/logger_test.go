package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace":   LevelTrace,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", "text", &buf)
	logger.Debug("hidden")
	logger.Info("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNewLoggerLabelsTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("trace", "text", &buf)
	logger.Log(context.Background(), LevelTrace, "simulate")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Fatalf("expected TRACE label, got %q", buf.String())
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", "json", &buf)
	logger.Debug("sweep", "metric", "amplitude")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "sweep" || entry["metric"] != "amplitude" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewLoggerTintDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", "", &buf)
	logger.Info("analysis finished", "model", "erk")
	out := buf.String()
	if !strings.Contains(out, "analysis finished") || !strings.Contains(out, "model=erk") {
		t.Fatalf("unexpected tint output: %q", out)
	}
}
