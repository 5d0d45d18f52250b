package checks

import (
	"context"
	"time"

	"github.com/loykin/svchecks/internal/supervisor"
)

const defaultCPUInterval = 3600 * time.Second

type cpuCheck struct {
	base
	max     float64
	sampler CPUSampler
	limit   *sustainedLimit
}

func newCPUCheck(p Params, o *options) (Check, error) {
	c := &cpuCheck{base: newBase(KindCPU, o), sampler: o.cpu}
	r := reader{b: c.base, p: p}
	var err error
	if c.max, err = r.float("max_cpu", 0, true); err != nil {
		return nil, err
	}
	if c.max <= 0 {
		return nil, c.invalid("max_cpu", "must be greater than zero, got %v", c.max)
	}
	interval, err := r.seconds("interval", defaultCPUInterval, false)
	if err != nil {
		return nil, err
	}
	c.limit = newSustainedLimit(interval, o.now)
	return c, nil
}

func (c *cpuCheck) Check(ctx context.Context, p supervisor.ProcessInfo) bool {
	pct, err := c.sampler.CPUPercent(ctx, p.FullName(), p.PID)
	if err != nil {
		c.log.Error("could not sample cpu", "process", p.Name, "pid", p.PID, "error", err)
		return false
	}
	c.log.Debug("cpu sampled", "process", p.Name, "cpu_percent", pct)

	v, elapsed := c.limit.observe(p, pct > c.max)
	switch v {
	case crossed:
		c.log.Warn("cpu above threshold", "process", p.Name, "cpu_percent", pct, "max_cpu", c.max)
	case cleared:
		c.log.Info("cpu dropped below threshold", "process", p.Name, "cpu_percent", pct, "max_cpu", c.max)
	case exceeded:
		c.log.Error("cpu above threshold for too long", "process", p.Name, "cpu_percent", pct,
			"max_cpu", c.max, "over_for", elapsed.Round(time.Second), "interval", c.limit.window)
	}
	return v.ok()
}

// Forget drops the debounce window and the cached sampler handle of a process.
func (c *cpuCheck) Forget(fullName string) {
	c.limit.forget(fullName)
	if f, ok := c.sampler.(Forgetter); ok {
		f.Forget(fullName)
	}
}
