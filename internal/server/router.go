package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/svchecks/internal/metrics"
	"github.com/loykin/svchecks/internal/runner"
)

const defaultReadyTimeout = 5 * time.Second

// StatusSource exposes the runner's position and last tick.
type StatusSource interface {
	State() runner.State
	LastTick() (runner.TickSummary, bool)
}

// Pinger reports supervisord's own state, e.g. RUNNING.
type Pinger interface {
	State(ctx context.Context) (string, error)
}

// Options configures a Router. Zero values select defaults.
type Options struct {
	BasePath     string
	Gatherer     prometheus.Gatherer // default prometheus.DefaultGatherer
	ReadyTimeout time.Duration
}

// Router serves the listener's status surface.
// Endpoints:
//
//	GET {basePath}/metrics  Prometheus exposition
//	GET {basePath}/live     200 until the runner shuts down
//	GET {basePath}/ready    200 while live and supervisord answers RUNNING
//	GET {basePath}/status   runner state and the last tick summary
//
// /live and /ready accept ?full=1 for per-check details.
type Router struct {
	src      StatusSource
	ping     Pinger
	basePath string
	gatherer prometheus.Gatherer
	timeout  time.Duration
}

// NewRouter builds a router. ping may be nil, in which case readiness only
// reflects liveness.
func NewRouter(src StatusSource, ping Pinger, opts Options) *Router {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	return &Router{
		src:      src,
		ping:     ping,
		basePath: sanitizeBase(opts.BasePath),
		gatherer: opts.Gatherer,
		timeout:  opts.ReadyTimeout,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("runner", r.checkRunner)
	if r.ping != nil {
		health.AddReadinessCheck("supervisord", healthcheck.Timeout(r.checkSupervisor, r.timeout))
	}

	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/metrics", gin.WrapH(metrics.HandlerFor(r.gatherer)))
	group.GET("/live", gin.WrapF(health.LiveEndpoint))
	group.GET("/ready", gin.WrapF(health.ReadyEndpoint))
	group.GET("/status", r.handleStatus)
	return g
}

func (r *Router) checkRunner() error {
	if st := r.src.State(); st == runner.StateShutdown {
		return errors.New("runner has shut down")
	}
	return nil
}

func (r *Router) checkSupervisor() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	state, err := r.ping.State(ctx)
	if err != nil {
		return err
	}
	if state != "RUNNING" {
		return fmt.Errorf("supervisord is %s", state)
	}
	return nil
}

type statusResp struct {
	State    runner.State        `json:"state"`
	LastTick *runner.TickSummary `json:"last_tick,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{State: r.src.State()}
	if s, ok := r.src.LastTick(); ok {
		resp.LastTick = &s
	}
	writeJSON(c, http.StatusOK, resp)
}

// Server runs a Router on its own listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *slog.Logger
}

// Start listens on addr and serves h in the background. A failure to listen
// is returned; failures while serving are logged. A non-nil tlsCfg serves HTTPS.
func Start(addr string, h http.Handler, tlsCfg *tls.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		ln:  ln,
		log: log,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server stopped", "addr", addr, "error", err)
		}
	}()
	log.Info("status server listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
	return s, nil
}

// Addr is the bound address, useful with port 0.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
