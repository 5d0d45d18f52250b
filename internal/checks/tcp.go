package checks

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/loykin/svchecks/internal/port"
	"github.com/loykin/svchecks/internal/retry"
	"github.com/loykin/svchecks/internal/supervisor"
)

type tcpCheck struct {
	base
	host    string
	port    port.Spec
	timeout time.Duration
	retry   *retry.Policy
	dialer  func(addr string, timeout time.Duration) healthcheck.Check
}

func newTCPCheck(p Params, o *options) (Check, error) {
	c := &tcpCheck{base: newBase(KindTCP, o), dialer: healthcheck.TCPDialCheck}
	r := reader{b: c.base, p: p}
	var err error
	if c.port, err = networkPort(r); err != nil {
		return nil, err
	}
	if c.host, err = r.string("host", defaultHost, false); err != nil {
		return nil, err
	}
	if c.timeout, err = r.seconds("timeout", defaultTimeout, false); err != nil {
		return nil, err
	}
	if c.retry, err = networkRetry(r, o); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *tcpCheck) Check(ctx context.Context, p supervisor.ProcessInfo) bool {
	n, pass, ok := resolvePort(c.base, c.port, p)
	if !ok {
		return pass
	}
	addr := net.JoinHostPort(c.host, strconv.Itoa(n))
	c.log.Debug("connecting", "addr", addr, "process", p.Name)

	err := c.retry.Do(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		// remaining tick time is measured per attempt
		return c.dialer(addr, c.dialTimeout(ctx))()
	})
	if err != nil {
		c.log.Error("check failed", "addr", addr, "process", p.Name, "error", err)
		return false
	}
	c.log.Info("check passed", "addr", addr, "process", p.Name)
	return true
}

// dialTimeout shortens the configured timeout to whatever is left of the tick.
func (c *tcpCheck) dialTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left > 0 && left < c.timeout {
			return left
		}
	}
	return c.timeout
}
