package checks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/svchecks/internal/port"
	"github.com/loykin/svchecks/internal/retry"
	"github.com/loykin/svchecks/internal/supervisor"
)

const (
	defaultHost       = "127.0.0.1"
	defaultTimeout    = 15 * time.Second
	defaultNumRetries = 2
	httpUserAgent     = "http_check"
)

type httpCheck struct {
	base
	path     string
	host     string
	port     port.Spec
	timeout  time.Duration
	username string
	password string
	retry    *retry.Policy
	client   *http.Client
}

func newHTTPCheck(p Params, o *options) (Check, error) {
	c := &httpCheck{base: newBase(KindHTTP, o)}
	r := reader{b: c.base, p: p}
	var err error
	if c.path, err = r.string("url", "", true); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(c.path, "/") {
		return nil, c.invalid("url", "must be an absolute path such as /ping, got %q", c.path)
	}
	if c.port, err = networkPort(r); err != nil {
		return nil, err
	}
	if c.host, err = r.string("host", defaultHost, false); err != nil {
		return nil, err
	}
	if c.timeout, err = r.seconds("timeout", defaultTimeout, false); err != nil {
		return nil, err
	}
	if c.username, err = r.string("username", "", false); err != nil {
		return nil, err
	}
	if c.password, err = r.string("password", "", false); err != nil {
		return nil, err
	}
	if (c.username == "") != (c.password == "") {
		return nil, c.invalid("username", "and password must be set together")
	}
	if c.retry, err = networkRetry(r, o); err != nil {
		return nil, err
	}
	rt := o.transport
	if rt == nil {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}
	c.client = &http.Client{
		Transport: rt,
		// Any redirect is reported as the status that caused it.
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	return c, nil
}

// networkPort reads the mandatory port parameter of http and tcp checks.
func networkPort(r reader) (port.Spec, error) {
	v, ok := r.p.lookup("port")
	if !ok {
		return port.Spec{}, r.b.invalid("port", "is required")
	}
	spec, err := port.Parse(v)
	if err != nil {
		return port.Spec{}, r.b.invalid("port", "%v", err)
	}
	return spec, nil
}

func networkRetry(r reader, o *options) (*retry.Policy, error) {
	n, err := r.retries("num_retries", defaultNumRetries)
	if err != nil {
		return nil, err
	}
	return retry.New(n, r.b.log, o.retryOpts...)
}

// resolvePort maps the process name to a port. ok=false with pass=true means
// the name does not carry a port and the check does not apply.
func resolvePort(b base, spec port.Spec, p supervisor.ProcessInfo) (n int, pass, ok bool) {
	n, err := spec.Resolve(p.Name)
	switch {
	case err == nil:
		return n, false, true
	case errors.Is(err, port.ErrNoMatch):
		b.log.Warn("could not derive port from process name, skipping", "process", p.Name, "port", spec.String())
		return 0, true, false
	default:
		b.log.Error("port resolution failed", "process", p.Name, "port", spec.String(), "error", err)
		return 0, false, false
	}
}

func (c *httpCheck) Check(ctx context.Context, p supervisor.ProcessInfo) bool {
	n, pass, ok := resolvePort(c.base, c.port, p)
	if !ok {
		return pass
	}
	target := "http://" + net.JoinHostPort(c.host, strconv.Itoa(n)) + c.path
	c.log.Debug("querying url", "url", target, "process", p.Name)

	var status int
	err := c.retry.Do(ctx, func() error {
		code, err := c.get(ctx, target)
		if err != nil {
			return err
		}
		status = code
		return nil
	})
	if err != nil {
		c.log.Error("check failed", "url", target, "process", p.Name, "error", err)
		return false
	}
	if status != http.StatusOK {
		c.log.Error("check failed", "url", target, "process", p.Name, "status", status)
		return false
	}
	c.log.Info("check passed", "url", target, "process", p.Name, "status", status)
	return true
}

// get runs one bounded request. Only transport errors are returned; any HTTP
// status is a completed attempt.
func (c *httpCheck) get(ctx context.Context, target string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", httpUserAgent)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
