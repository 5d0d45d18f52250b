package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBaseDelay is the delay unit of the linear backoff: attempt n sleeps n*DefaultBaseDelay.
const DefaultBaseDelay = 3 * time.Second

// Policy retries a fallible operation a bounded number of times with linear backoff.
// A Policy holds no per-call state and may be shared between goroutines.
type Policy struct {
	numRetries int
	baseDelay  time.Duration
	log        *slog.Logger
	newTimer   func() backoff.Timer
}

// Option customizes a Policy.
type Option func(*Policy)

// WithBaseDelay overrides the linear backoff unit.
func WithBaseDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.baseDelay = d
		}
	}
}

// WithTimer replaces the sleep timer. A new timer is requested for every Do call.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(p *Policy) { p.newTimer = newTimer }
}

// New returns a policy making 1+numRetries attempts in total.
func New(numRetries int, log *slog.Logger, opts ...Option) (*Policy, error) {
	if numRetries < 0 {
		return nil, fmt.Errorf("num_retries must be non-negative, got %d", numRetries)
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Policy{numRetries: numRetries, baseDelay: DefaultBaseDelay, log: log}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NumRetries returns the retry budget.
func (p *Policy) NumRetries() int { return p.numRetries }

// Do runs op until it succeeds or the retry budget is spent and returns the last
// error unchanged. Sleeps between attempts are aborted when ctx is done.
func (p *Policy) Do(ctx context.Context, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: p.baseDelay}, uint64(p.numRetries)),
		ctx,
	)
	notify := func(err error, next time.Duration) {
		p.log.Warn("attempt failed, retrying", "error", err, "retry_in", next)
	}
	var t backoff.Timer
	if p.newTimer != nil {
		t = p.newTimer()
	}
	return backoff.RetryNotifyWithTimer(op, b, notify, t)
}

// linearBackOff yields base, 2*base, 3*base, ...
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.base
}

func (b *linearBackOff) Reset() { b.attempt = 0 }
