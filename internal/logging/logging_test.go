package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		level   string
		enabled slog.Level
		off     slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"", slog.LevelInfo, slog.LevelDebug},
		{"bogus", slog.LevelInfo, slog.LevelDebug},
		{"WARN", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		logger := New(tt.level, "json")
		if !logger.Enabled(ctx, tt.enabled) {
			t.Errorf("%q: expected %v enabled", tt.level, tt.enabled)
		}
		if logger.Enabled(ctx, tt.off) {
			t.Errorf("%q: expected %v disabled", tt.level, tt.off)
		}
	}
}

func TestFormats(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "json").Info("scored", "tx_id", 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
	if entry["msg"] != "scored" || entry["tx_id"] != float64(7) {
		t.Errorf("unexpected entry %v", entry)
	}

	buf.Reset()
	NewWithWriter(&buf, "info", "text").Info("scored", "tx_id", 7)
	if !strings.Contains(buf.String(), "tx_id=7") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" {
		t.Error("expected empty request ID")
	}

	ctx = WithRequestID(ctx, "req-123")
	if RequestID(ctx) != "req-123" {
		t.Errorf("expected req-123, got %q", RequestID(ctx))
	}
	if L(ctx) == nil || L(context.Background()) == nil {
		t.Error("expected logger")
	}
}
