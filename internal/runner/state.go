package runner

import (
	"encoding/json"
	"time"
)

// State is the position of the runner in the event listener protocol.
type State int32

const (
	StateHandshakeWait State = iota
	StateReady
	StateAwaitEvent
	StateProcessing
	StateAcknowledging
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateHandshakeWait:
		return "handshake_wait"
	case StateReady:
		return "ready"
	case StateAwaitEvent:
		return "await_event"
	case StateProcessing:
		return "processing"
	case StateAcknowledging:
		return "acknowledging"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// TickSummary describes the most recent tick.
type TickSummary struct {
	Event         string        `json:"event"`
	At            time.Time     `json:"at"`
	Duration      time.Duration `json:"duration_ns"`
	Evaluated     int           `json:"evaluated"`
	Skipped       int           `json:"skipped"`
	Unhealthy     []string      `json:"unhealthy,omitempty"`
	Restarted     int           `json:"restarted"`
	RestartFailed int           `json:"restart_failed"`
	Error         string        `json:"error,omitempty"`
}
