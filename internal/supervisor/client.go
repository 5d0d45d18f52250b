package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/rpc"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kolo/xmlrpc"
)

// Fault codes returned by supervisord's XML-RPC interface.
const (
	FaultBadName        = 10
	FaultNoFile         = 20
	FaultFailed         = 30
	FaultAbnormalExit   = 40
	FaultSpawnError     = 50
	FaultAlreadyStarted = 60
	FaultNotRunning     = 70
)

// DefaultURL is where supervisord listens when unix_http_server uses its packaged default.
const DefaultURL = "unix:///var/run/supervisor.sock"

// Config holds connection settings for the supervisord control API.
type Config struct {
	URL      string // http(s)://host:port[/RPC2] or unix:///path/to/socket
	Username string
	Password string
	Timeout  time.Duration // per call; default 30s
	Logger   *slog.Logger
}

// Client is a process directory and corrective-action client for supervisord.
type Client struct {
	rpc    *xmlrpc.Client
	logger *slog.Logger
}

// New connects the XML-RPC client. No request is made until the first call.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	endpoint, base, err := endpointFor(cfg.URL)
	if err != nil {
		return nil, err
	}
	rt := &authTransport{base: base, username: cfg.Username, password: cfg.Password, timeout: cfg.Timeout}
	c, err := xmlrpc.NewClient(endpoint, rt)
	if err != nil {
		return nil, fmt.Errorf("create xmlrpc client: %w", err)
	}
	return &Client{rpc: c, logger: cfg.Logger}, nil
}

// Close releases the underlying connections.
func (c *Client) Close() error { return c.rpc.Close() }

// ListProcesses returns every process of the named group.
func (c *Client) ListProcesses(ctx context.Context, group string) ([]ProcessInfo, error) {
	var raw []rpcProcessInfo
	if err := c.call(ctx, "supervisor.getAllProcessInfo", nil, &raw); err != nil {
		return nil, fmt.Errorf("list processes of group %s: %w", group, err)
	}
	out := make([]ProcessInfo, 0, len(raw))
	for _, r := range raw {
		if r.Group == group {
			out = append(out, r.toInfo())
		}
	}
	return out, nil
}

// GetProcess returns a single process. name may be "group:name" or a bare name.
func (c *Client) GetProcess(ctx context.Context, name string) (ProcessInfo, error) {
	var raw rpcProcessInfo
	if err := c.call(ctx, "supervisor.getProcessInfo", name, &raw); err != nil {
		return ProcessInfo{}, fmt.Errorf("get process %s: %w", name, err)
	}
	return raw.toInfo(), nil
}

// Restart stops and starts the process, waiting for each transition.
// A process that is already stopped or already started again is not an error:
// the daemon may be restarting the same target on its own.
func (c *Client) Restart(ctx context.Context, p ProcessInfo) error {
	name := p.FullName()
	var ok bool
	c.logger.Info("stopping process", "process", name, "pid", p.PID)
	if err := c.call(ctx, "supervisor.stopProcess", []interface{}{name, true}, &ok); err != nil {
		if !IsFault(err, FaultNotRunning) {
			return fmt.Errorf("stop %s: %w", name, err)
		}
		c.logger.Warn("process was not running", "process", name)
	}
	c.logger.Info("starting process", "process", name)
	if err := c.call(ctx, "supervisor.startProcess", []interface{}{name, true}, &ok); err != nil {
		if !IsFault(err, FaultAlreadyStarted) {
			return fmt.Errorf("start %s: %w", name, err)
		}
		c.logger.Warn("process already started", "process", name)
	}
	return nil
}

// State returns supervisord's own state name, e.g. RUNNING.
func (c *Client) State(ctx context.Context) (string, error) {
	var st rpcState
	if err := c.call(ctx, "supervisor.getState", nil, &st); err != nil {
		return "", err
	}
	return st.Name, nil
}

// call issues one request. The codec performs the HTTP round trip while
// sending, so the call runs on its own goroutine and ctx only bounds the wait;
// the transport timeout bounds the request itself.
func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	done := make(chan *rpc.Call, 1)
	go c.rpc.Go(method, args, reply, done)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		return res.Error
	}
}

var faultRx = regexp.MustCompile(`Fault\((-?\d+)\): ?(.*)`)

// FaultCode extracts the XML-RPC fault code from err.
func FaultCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var fe xmlrpc.FaultError
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	m := faultRx.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, false
	}
	return code, true
}

// IsFault reports whether err is the XML-RPC fault with the given code.
func IsFault(err error, code int) bool {
	got, ok := FaultCode(err)
	return ok && got == code
}

// endpointFor maps a supervisord server URL to an XML-RPC endpoint and transport.
func endpointFor(raw string) (string, http.RoundTripper, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse supervisor url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "unix":
		sock := u.Path
		if sock == "" {
			sock = u.Host
		}
		if sock == "" {
			return "", nil, fmt.Errorf("supervisor url %q has no socket path", raw)
		}
		tr := &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sock)
			},
		}
		return "http://localhost/RPC2", tr, nil
	case "http", "https":
		if u.Path == "" || u.Path == "/" {
			u.Path = "/RPC2"
		}
		return u.String(), http.DefaultTransport.(*http.Transport).Clone(), nil
	default:
		return "", nil, fmt.Errorf("unsupported supervisor url scheme %q", u.Scheme)
	}
}

// authTransport adds basic auth and bounds every request by timeout.
type authTransport struct {
	base     http.RoundTripper
	username string
	password string
	timeout  time.Duration
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	r := req.Clone(ctx)
	if t.username != "" || t.password != "" {
		r.SetBasicAuth(t.username, t.password)
	}
	if strings.TrimSpace(r.Header.Get("User-Agent")) == "" {
		r.Header.Set("User-Agent", "svchecks")
	}
	resp, err := t.base.RoundTrip(r)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
