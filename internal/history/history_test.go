package history

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewRestartEvent(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	p := Process{Name: "web_8080", Group: "web", PID: 42}

	ok := NewRestartEvent("web-health", p, []string{"http", "memory"}, nil, at)
	if ok.Type != EventRestart {
		t.Fatalf("expected %s, got %s", EventRestart, ok.Type)
	}
	if ok.Error != "" {
		t.Fatalf("unexpected error text %q", ok.Error)
	}
	if ok.OccurredAt.Location() != time.UTC || !ok.OccurredAt.Equal(at) {
		t.Fatalf("occurred_at not normalized to UTC: %v", ok.OccurredAt)
	}
	if got := ok.FailedChecksText(); got != "http,memory" {
		t.Fatalf("failed checks text: %q", got)
	}

	failed := NewRestartEvent("web-health", p, []string{"cpu"}, errors.New("Fault(10): BAD_NAME"), at)
	if failed.Type != EventRestartFailed {
		t.Fatalf("expected %s, got %s", EventRestartFailed, failed.Type)
	}
	if failed.Error != "Fault(10): BAD_NAME" {
		t.Fatalf("error text: %q", failed.Error)
	}
}

func TestEventJSON(t *testing.T) {
	e := NewRestartEvent("c", Process{Name: "n", Group: "g", PID: 1}, []string{"tcp"}, nil, time.Unix(0, 0))
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "restart" || m["check"] != "c" {
		t.Fatalf("unexpected payload: %s", b)
	}
	proc, ok := m["process"].(map[string]any)
	if !ok || proc["name"] != "n" || proc["group"] != "g" {
		t.Fatalf("missing process in payload: %s", b)
	}
	if _, present := m["error"]; present {
		t.Fatalf("error must be omitted on success: %s", b)
	}
}
