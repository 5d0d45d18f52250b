package history

import (
	"context"
	"strings"
	"time"
)

// EventType defines the kind of corrective action recorded.
type EventType string

const (
	EventRestart       EventType = "restart"
	EventRestartFailed EventType = "restart_failed"
)

// Process identifies the restarted process as it was when it failed.
type Process struct {
	Name  string `json:"name"`
	Group string `json:"group"`
	PID   int    `json:"pid"`
}

// Event represents a restart to be exported to external systems.
type Event struct {
	Type         EventType `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	Check        string    `json:"check"`
	Process      Process   `json:"process"`
	FailedChecks []string  `json:"failed_checks"`
	Error        string    `json:"error,omitempty"`
}

// NewRestartEvent builds the event for one restart attempt. A non-nil err
// marks the attempt as failed.
func NewRestartEvent(check string, p Process, failed []string, err error, at time.Time) Event {
	e := Event{
		Type:         EventRestart,
		OccurredAt:   at.UTC(),
		Check:        check,
		Process:      p,
		FailedChecks: failed,
	}
	if err != nil {
		e.Type = EventRestartFailed
		e.Error = err.Error()
	}
	return e
}

// FailedChecksText joins the failed check kinds for column storage.
func (e Event) FailedChecksText() string { return strings.Join(e.FailedChecks, ",") }

// Sink is a destination for history events (audit/analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
