package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestCorrelationID(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationID(ctx); got != "" {
		t.Errorf("expected empty correlation id, got %q", got)
	}

	ctx = WithCorrelationID(ctx, "req-42")
	if got := CorrelationID(ctx); got != "req-42" {
		t.Errorf("expected req-42, got %q", got)
	}
}

func TestFromContext_AddsCorrelationID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	FromContext(WithCorrelationID(context.Background(), "req-7")).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}
	if entry["correlation_id"] != "req-7" {
		t.Errorf("expected correlation_id req-7, got %v", entry["correlation_id"])
	}
}
