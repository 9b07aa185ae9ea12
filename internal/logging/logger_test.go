package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriterEmitsServiceField(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter("production", "info", &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	component := Component(logger, "engine")
	component.Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if line["service"] != ServiceName {
		t.Fatalf("unexpected service field: got %v want %s", line["service"], ServiceName)
	}
	if line["component"] != "engine" {
		t.Fatalf("unexpected component field: %v", line["component"])
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New("local", "loud"); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
}
