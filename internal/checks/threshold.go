package checks

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/loykin/svchecks/internal/supervisor"
)

// verdict is the outcome of feeding one sample to a sustainedLimit.
type verdict int

const (
	belowLimit verdict = iota // sample within limit, no window open
	cleared                   // sample within limit, an open window was closed
	crossed                   // first sample over limit, window opened
	withinWindow              // still over limit, window not yet elapsed
	exceeded                  // over limit for longer than the window
)

func (v verdict) ok() bool { return v != exceeded }

type overSince struct {
	pid   int
	since time.Time
}

// sustainedLimit debounces threshold excursions per process. A process fails
// only after it stays over the limit for longer than window. The state of a
// process is dropped when a sample is within the limit or its pid changes.
type sustainedLimit struct {
	window time.Duration
	now    func() time.Time
	state  cmap.ConcurrentMap[string, overSince]
}

func newSustainedLimit(window time.Duration, now func() time.Time) *sustainedLimit {
	return &sustainedLimit{window: window, now: now, state: cmap.New[overSince]()}
}

// observe records whether p is over the limit and returns the verdict along
// with how long the current excursion has lasted.
func (s *sustainedLimit) observe(p supervisor.ProcessInfo, over bool) (verdict, time.Duration) {
	key := p.FullName()
	if !over {
		if _, ok := s.state.Pop(key); ok {
			return cleared, 0
		}
		return belowLimit, 0
	}
	now := s.now()
	st, ok := s.state.Get(key)
	if !ok || st.pid != p.PID {
		s.state.Set(key, overSince{pid: p.PID, since: now})
		return crossed, 0
	}
	elapsed := now.Sub(st.since)
	if elapsed > s.window {
		return exceeded, elapsed
	}
	return withinWindow, elapsed
}

func (s *sustainedLimit) forget(key string) { s.state.Remove(key) }

func (s *sustainedLimit) tracked() int { return s.state.Count() }
