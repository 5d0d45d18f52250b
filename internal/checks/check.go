// Package checks implements the health probes run against supervised
// processes on every tick.
//
// A Check is built once from a parameter bag and validated eagerly; evaluation
// never returns an error, every failure mode collapses into false.
package checks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/svchecks/internal/metrics"
	"github.com/loykin/svchecks/internal/retry"
	"github.com/loykin/svchecks/internal/supervisor"
)

// Kind names a check implementation.
type Kind string

const (
	KindHTTP   Kind = "http"
	KindTCP    Kind = "tcp"
	KindCPU    Kind = "cpu"
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
)

// Check evaluates one process. It must be safe to call for different
// processes concurrently.
type Check interface {
	Kind() Kind
	Check(ctx context.Context, p supervisor.ProcessInfo) bool
}

// Forgetter is implemented by checks that keep state per process. Forget is
// called with the full name of a process that left the listener's scope.
type Forgetter interface {
	Forget(fullName string)
}

// ErrInvalidConfig is matched by every *InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid check config")

// InvalidConfigError names the check kind and parameter that failed validation.
// Field is empty when the problem is not tied to one parameter.
type InvalidConfigError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	if e.Kind == "" {
		return "checks: " + e.Reason
	}
	if e.Field == "" {
		return fmt.Sprintf("%s check: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s check: parameter %q %s", e.Kind, e.Field, e.Reason)
}

func (e *InvalidConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// CPUSampler reports the CPU percent used by a process since its previous sample.
type CPUSampler interface {
	CPUPercent(ctx context.Context, name string, pid int) (float64, error)
}

// MemorySampler reports the resident memory of a process in bytes.
type MemorySampler interface {
	RSS(ctx context.Context, name string, pid int, includeChildren bool) (uint64, error)
}

type options struct {
	logger    *slog.Logger
	cpu       CPUSampler
	memory    MemorySampler
	now       func() time.Time
	transport http.RoundTripper
	retryOpts []retry.Option
}

// Option customizes check construction.
type Option func(*options)

// WithLogger sets the logger; each check adds a check=<kind> attribute.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithCPUSampler replaces the gopsutil CPU sampler.
func WithCPUSampler(s CPUSampler) Option { return func(o *options) { o.cpu = s } }

// WithMemorySampler replaces the gopsutil memory sampler.
func WithMemorySampler(s MemorySampler) Option { return func(o *options) { o.memory = s } }

// WithClock sets the time source used by the debounce window and file freshness.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithHTTPTransport sets the transport used by http checks.
func WithHTTPTransport(rt http.RoundTripper) Option { return func(o *options) { o.transport = rt } }

// WithRetryOptions passes options to the retry policy of network checks.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOpts = append(o.retryOpts, opts...) }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.cpu == nil || o.memory == nil {
		s := metrics.NewProcessSampler()
		if o.cpu == nil {
			o.cpu = s
		}
		if o.memory == nil {
			o.memory = s
		}
	}
	return o
}

// base carries what every check kind shares.
type base struct {
	kind Kind
	log  *slog.Logger
}

func newBase(kind Kind, o *options) base {
	return base{kind: kind, log: o.logger.With("check", string(kind))}
}

func (b base) Kind() Kind { return b.kind }

func (b base) invalid(field, format string, args ...any) error {
	return &InvalidConfigError{Kind: b.kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}
