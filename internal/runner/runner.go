// Package runner drives the supervisord event listener loop: it answers the
// control channel, evaluates checks on every tick and restarts processes that
// fail them.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/loykin/svchecks/internal/checks"
	"github.com/loykin/svchecks/internal/history"
	"github.com/loykin/svchecks/internal/metrics"
	"github.com/loykin/svchecks/internal/protocol"
	"github.com/loykin/svchecks/internal/supervisor"
)

const (
	DefaultTickTimeout    = 50 * time.Second
	DefaultRestartTimeout = 60 * time.Second
	historyTimeout        = 5 * time.Second
)

// Directory looks up supervised processes.
type Directory interface {
	ListProcesses(ctx context.Context, group string) ([]supervisor.ProcessInfo, error)
	GetProcess(ctx context.Context, name string) (supervisor.ProcessInfo, error)
}

// Restarter performs the corrective action for an unhealthy process.
type Restarter interface {
	Restart(ctx context.Context, p supervisor.ProcessInfo) error
}

// Recorder receives an event for every restart attempt.
type Recorder interface {
	Send(ctx context.Context, e history.Event) error
}

// Options configures a Runner.
type Options struct {
	Name           string // listener name, recorded with history events
	Group          string
	ProcessName    string
	Checks         []checks.Check
	Directory      Directory
	Restarter      Restarter
	Logger         *slog.Logger
	TickTimeout    time.Duration
	RestartTimeout time.Duration
	History        Recorder
	Clock          func() time.Time
}

// Runner is the check runner state machine. Run must only be called once.
type Runner struct {
	opts  Options
	log   *slog.Logger
	now   func() time.Time
	state atomic.Int32

	mu   sync.RWMutex
	last *TickSummary

	// seen holds the process names of the previous tick; only the control loop touches it.
	seen map[string]struct{}
}

// New validates opts and returns a runner in the HandshakeWait state.
func New(opts Options) (*Runner, error) {
	if opts.Name == "" {
		return nil, errors.New("runner: name is required")
	}
	if (opts.Group == "") == (opts.ProcessName == "") {
		return nil, errors.New("runner: exactly one of group or process name is required")
	}
	if len(opts.Checks) == 0 {
		return nil, errors.New("runner: at least one check is required")
	}
	if opts.Directory == nil || opts.Restarter == nil {
		return nil, errors.New("runner: directory and restarter are required")
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = DefaultTickTimeout
	}
	if opts.RestartTimeout <= 0 {
		opts.RestartTimeout = DefaultRestartTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	r := &Runner{
		opts: opts,
		log:  opts.Logger.With("listener", opts.Name),
		now:  opts.Clock,
		seen: make(map[string]struct{}),
	}
	r.state.Store(int32(StateHandshakeWait))
	return r, nil
}

// State returns the current protocol state. Safe for concurrent use.
func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) setState(s State) { r.state.Store(int32(s)) }

// LastTick returns the summary of the most recent tick, if any.
func (r *Runner) LastTick() (TickSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return TickSummary{}, false
	}
	return *r.last, true
}

type readResult struct {
	ev  protocol.Event
	err error
}

// Run serves the control channel until it is closed, ctx is cancelled or the
// framing breaks. A closed channel and cancellation return nil. Cancellation
// is honoured between events only, so a tick in progress is always acknowledged.
//
// A read that is blocked on in when ctx is cancelled cannot be interrupted: its
// goroutine stays parked until in returns data or an error. Close in after Run
// returns and do not reuse it.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	defer r.setState(StateShutdown)
	l := protocol.NewListener(in, out)
	work := context.WithoutCancel(ctx)

	for {
		if err := l.Ready(); err != nil {
			return fmt.Errorf("write READY: %w", err)
		}
		r.setState(StateReady)
		if ctx.Err() != nil {
			r.log.Info("stopping", "reason", ctx.Err())
			return nil
		}

		r.setState(StateAwaitEvent)
		// The read cannot be interrupted; on cancellation it is abandoned.
		done := make(chan readResult, 1)
		go func() {
			ev, err := l.ReadEvent()
			done <- readResult{ev, err}
		}()
		var res readResult
		select {
		case <-ctx.Done():
			r.log.Info("stopping", "reason", ctx.Err())
			return nil
		case res = <-done:
		}
		if errors.Is(res.err, io.EOF) {
			r.log.Info("control channel closed")
			return nil
		}
		if res.err != nil {
			r.log.Error("control channel broken", "error", res.err)
			return fmt.Errorf("read event: %w", res.err)
		}

		r.setState(StateProcessing)
		ev := res.ev
		metrics.IncEvent(ev.Name())
		if ev.IsTick() {
			r.tick(work, ev)
		} else {
			r.log.Debug("ignoring event", "event", ev.Name())
		}

		r.setState(StateAcknowledging)
		if err := l.Result(true, ""); err != nil {
			return fmt.Errorf("write RESULT: %w", err)
		}
	}
}

// outcome is the evaluation of one process for one tick.
type outcome struct {
	process   supervisor.ProcessInfo
	failed    []string
	restarted bool
	err       error
}

func (o outcome) healthy() bool { return len(o.failed) == 0 }

func (r *Runner) tick(ctx context.Context, ev protocol.Event) {
	start := r.now()
	summary := TickSummary{Event: ev.Name(), At: start}
	defer func() {
		summary.Duration = r.now().Sub(start)
		metrics.ObserveTick(summary.Duration.Seconds())
		r.mu.Lock()
		r.last = &summary
		r.mu.Unlock()
	}()

	tickCtx, cancel := context.WithTimeout(ctx, r.opts.TickTimeout)
	defer cancel()

	procs, err := r.processes(tickCtx)
	if err != nil {
		r.log.Error("could not list processes", "group", r.opts.Group, "process", r.opts.ProcessName, "error", err)
		summary.Error = err.Error()
		return
	}

	running := make([]supervisor.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		if p.Running() {
			running = append(running, p)
		} else {
			r.log.Debug("skipping process that is not running", "process", p.FullName(), "state", p.State.String())
		}
	}
	summary.Skipped = len(procs) - len(running)
	summary.Evaluated = len(running)
	r.forgetGone(procs)
	if len(running) == 0 {
		return
	}

	results := r.evaluateAll(tickCtx, ctx, running)
	for _, o := range results {
		if o.healthy() {
			continue
		}
		summary.Unhealthy = append(summary.Unhealthy, o.process.FullName())
		if o.restarted {
			summary.Restarted++
		} else {
			summary.RestartFailed++
		}
	}
	r.log.Info("tick done", "event", ev.Name(), "evaluated", summary.Evaluated,
		"unhealthy", len(summary.Unhealthy), "restarted", summary.Restarted)
}

func (r *Runner) processes(ctx context.Context) ([]supervisor.ProcessInfo, error) {
	if r.opts.ProcessName != "" {
		p, err := r.opts.Directory.GetProcess(ctx, r.opts.ProcessName)
		if err != nil {
			return nil, err
		}
		return []supervisor.ProcessInfo{p}, nil
	}
	return r.opts.Directory.ListProcesses(ctx, r.opts.Group)
}

// evaluateAll runs one pool task per process. Checks run under tickCtx;
// restarts get their own deadline derived from base.
func (r *Runner) evaluateAll(tickCtx, base context.Context, procs []supervisor.ProcessInfo) []outcome {
	results := make([]outcome, len(procs))
	pool, err := ants.NewPool(len(procs), ants.WithPanicHandler(func(v any) {
		r.log.Error("evaluation task panicked", "panic", v)
	}))
	if err != nil {
		// Only reachable with a non-positive size; evaluate inline.
		r.log.Error("could not create worker pool", "error", err)
		for i, p := range procs {
			results[i] = r.handle(tickCtx, base, p)
		}
		return results
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, p := range procs {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = r.handle(tickCtx, base, p)
		}
		if err := pool.Submit(task); err != nil {
			r.log.Error("could not submit evaluation", "process", p.FullName(), "error", err)
			task()
		}
	}
	wg.Wait()
	return results
}

// handle evaluates p and restarts it when any check fails.
func (r *Runner) handle(tickCtx, base context.Context, p supervisor.ProcessInfo) outcome {
	o := outcome{process: p}
	for _, c := range r.opts.Checks {
		ok := r.runCheck(tickCtx, c, p)
		metrics.IncCheckResult(string(c.Kind()), ok)
		if !ok {
			o.failed = append(o.failed, string(c.Kind()))
		}
	}
	if o.healthy() {
		return o
	}

	name := p.FullName()
	metrics.IncUnhealthy(name)
	r.log.Warn("process is unhealthy, restarting", "process", name, "pid", p.PID, "failed_checks", o.failed)

	ctx, cancel := context.WithTimeout(base, r.opts.RestartTimeout)
	o.err = r.opts.Restarter.Restart(ctx, p)
	cancel()
	metrics.IncRestart(name, o.err)
	if o.err != nil {
		r.log.Error("restart failed", "process", name, "error", o.err)
	} else {
		o.restarted = true
		r.log.Info("process restarted", "process", name)
	}
	r.record(base, o)
	return o
}

// runCheck isolates a check so that a panic counts as a failure.
func (r *Runner) runCheck(ctx context.Context, c checks.Check, p supervisor.ProcessInfo) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("check panicked", "check", string(c.Kind()), "process", p.FullName(), "panic", v)
			ok = false
		}
	}()
	return c.Check(ctx, p)
}

func (r *Runner) record(base context.Context, o outcome) {
	if r.opts.History == nil {
		return
	}
	e := history.NewRestartEvent(r.opts.Name,
		history.Process{Name: o.process.Name, Group: o.process.Group, PID: o.process.PID},
		o.failed, o.err, r.now())
	ctx, cancel := context.WithTimeout(base, historyTimeout)
	defer cancel()
	if err := r.opts.History.Send(ctx, e); err != nil {
		r.log.Warn("could not record restart", "process", o.process.FullName(), "error", err)
	}
}

// forgetGone drops resource gauges and per-process check state of processes
// that left the scope.
func (r *Runner) forgetGone(procs []supervisor.ProcessInfo) {
	current := make(map[string]struct{}, len(procs))
	for _, p := range procs {
		current[p.FullName()] = struct{}{}
	}
	for name := range r.seen {
		if _, ok := current[name]; ok {
			continue
		}
		metrics.ForgetProcess(name)
		for _, c := range r.opts.Checks {
			if f, ok := c.(checks.Forgetter); ok {
				f.Forget(name)
			}
		}
		r.log.Debug("process left scope", "process", name)
	}
	r.seen = current
}
