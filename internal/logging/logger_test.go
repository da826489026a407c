package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriterAddsServiceField(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter("production", "info", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info().Int64("page_id", 7).Msg("extracted")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["service"] != serviceName {
		t.Fatalf("unexpected service field: %v", line["service"])
	}
	if line["page_id"] != float64(7) {
		t.Fatalf("unexpected page_id field: %v", line["page_id"])
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New("local", "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewWithWriterFiltersBelowLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter("production", "warn", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info line to be filtered, got %q", buf.String())
	}
}
