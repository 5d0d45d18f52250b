// Package svchecks runs health checks for processes managed by supervisord.
// The listener is started by supervisord as an event listener subscribed to
// TICK events; on every tick it evaluates its checks for each process in
// scope and restarts those that fail.
package svchecks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/svchecks/internal/checks"
	"github.com/loykin/svchecks/internal/config"
	"github.com/loykin/svchecks/internal/history"
	"github.com/loykin/svchecks/internal/history/factory"
	"github.com/loykin/svchecks/internal/metrics"
	"github.com/loykin/svchecks/internal/runner"
	"github.com/loykin/svchecks/internal/server"
	"github.com/loykin/svchecks/internal/supervisor"
	itls "github.com/loykin/svchecks/internal/tls"
)

// Re-export core types for external consumers.

type Config = config.Config

type LoadOptions = config.LoadOptions

type Params = checks.Params

type Check = checks.Check

type CheckKind = checks.Kind

type ProcessInfo = supervisor.ProcessInfo

// ProcessRunning is the only process state the listener evaluates.
const ProcessRunning = supervisor.StateRunning

type HistoryEvent = history.Event

type HistorySink = history.Sink

type TickSummary = runner.TickSummary

type State = runner.State

// StateShutdown is the state of a listener whose Run has returned.
const StateShutdown = runner.StateShutdown

// SupervisorClient is what the listener needs from supervisord.
type SupervisorClient interface {
	runner.Directory
	runner.Restarter
	State(ctx context.Context) (string, error)
}

func LoadConfig(opts LoadOptions) (Config, error) { return config.Load(opts) }

func ParseChecksJSON(doc string) (map[string]Params, error) { return config.ParseChecksJSON(doc) }

// NewCheck builds a single check, e.g. for use outside the listener loop.
func NewCheck(kind CheckKind, params Params, log *slog.Logger) (Check, error) {
	return checks.New(kind, params, checks.WithLogger(log))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// Option customizes a Listener.
type Option func(*listenerOptions)

type listenerOptions struct {
	log       *slog.Logger
	client    SupervisorClient
	sink      HistorySink
	checkOpts []checks.Option
	registry  prometheus.Registerer
	gatherer  prometheus.Gatherer
}

func WithLogger(l *slog.Logger) Option { return func(o *listenerOptions) { o.log = l } }

// WithSupervisorClient replaces the XML-RPC client built from the configuration.
func WithSupervisorClient(c SupervisorClient) Option {
	return func(o *listenerOptions) { o.client = c }
}

// WithHistorySink replaces the sink built from the configured DSN.
func WithHistorySink(s HistorySink) Option { return func(o *listenerOptions) { o.sink = s } }

func WithCheckOptions(opts ...checks.Option) Option {
	return func(o *listenerOptions) { o.checkOpts = append(o.checkOpts, opts...) }
}

// WithMetricsRegistry registers collectors on r and serves them from g.
func WithMetricsRegistry(r prometheus.Registerer, g prometheus.Gatherer) Option {
	return func(o *listenerOptions) { o.registry, o.gatherer = r, g }
}

// Listener wires configuration, checks, the supervisord client, the history
// sink and the optional status server around one runner.
type Listener struct {
	cfg      Config
	log      *slog.Logger
	client   SupervisorClient
	closers  []io.Closer
	sink     HistorySink
	runner   *runner.Runner
	gatherer prometheus.Gatherer
}

// NewListener validates cfg and builds everything the listener needs. No
// connection is made to supervisord until the first tick.
func NewListener(cfg Config, opts ...Option) (*Listener, error) {
	o := listenerOptions{log: slog.Default(), registry: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := metrics.Register(o.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	cs, err := checks.Build(cfg.Checks, append([]checks.Option{checks.WithLogger(o.log)}, o.checkOpts...)...)
	if err != nil {
		return nil, err
	}

	l := &Listener{cfg: cfg, log: o.log, client: o.client, sink: o.sink, gatherer: o.gatherer}
	if l.client == nil {
		c, err := supervisor.New(supervisor.Config{
			URL:      cfg.Supervisor.URL,
			Username: cfg.Supervisor.Username,
			Password: cfg.Supervisor.Password,
			Timeout:  cfg.Supervisor.Timeout,
			Logger:   o.log,
		})
		if err != nil {
			return nil, err
		}
		l.client = c
		l.closers = append(l.closers, c)
	}
	if l.sink == nil && cfg.HistoryDSN != "" {
		s, err := factory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		l.sink = s
		l.closers = append(l.closers, s)
	}

	ropts := runner.Options{
		Name:           cfg.Name,
		Group:          cfg.Group,
		ProcessName:    cfg.ProcessName,
		Checks:         cs,
		Directory:      l.client,
		Restarter:      l.client,
		Logger:         o.log,
		TickTimeout:    cfg.TickTimeout,
		RestartTimeout: cfg.RestartTimeout,
	}
	if l.sink != nil {
		ropts.History = l.sink
	}
	l.runner, err = runner.New(ropts)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Run serves the event protocol on in/out until supervisord closes the
// channel or ctx is cancelled. When MetricsListen is set the status server
// runs alongside; failing to start it is logged and does not stop the listener.
// After cancellation one goroutine may remain blocked reading in until it is
// closed, so in must not be handed to another reader.
func (l *Listener) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if l.cfg.MetricsListen != "" {
		h := server.NewRouter(l.runner, l.client, server.Options{Gatherer: l.gatherer}).Handler()
		srv, err := l.startStatusServer(h)
		if err != nil {
			l.log.Error("status server disabled", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
		}
	}
	l.log.Info("listener started", "name", l.cfg.Name, "group", l.cfg.Group,
		"process", l.cfg.ProcessName, "checks", l.cfg.CheckKinds())
	return l.runner.Run(ctx, in, out)
}

func (l *Listener) startStatusServer(h http.Handler) (*server.Server, error) {
	tlsCfg, err := itls.Setup(l.cfg.MetricsTLS)
	if err != nil {
		return nil, fmt.Errorf("status server tls: %w", err)
	}
	return server.Start(l.cfg.MetricsListen, h, tlsCfg, l.log)
}

func (l *Listener) State() State { return l.runner.State() }

func (l *Listener) LastTick() (TickSummary, bool) { return l.runner.LastTick() }

// Close releases the clients and sinks the listener created itself.
func (l *Listener) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}
