package checks

import (
	"context"
	"time"

	"github.com/loykin/svchecks/internal/supervisor"
)

type memoryCheck struct {
	base
	maxRSS     uint64 // bytes
	cumulative bool
	sampler    MemorySampler
	limit      *sustainedLimit
}

const defaultMemoryInterval = defaultCPUInterval

func newMemoryCheck(p Params, o *options) (Check, error) {
	c := &memoryCheck{base: newBase(KindMemory, o), sampler: o.memory}
	r := reader{b: c.base, p: p}
	kb, err := r.float("max_rss", 0, true)
	if err != nil {
		return nil, err
	}
	if kb <= 0 {
		return nil, c.invalid("max_rss", "must be greater than zero, got %v", kb)
	}
	c.maxRSS = uint64(kb * 1024)
	if c.cumulative, err = r.bool("cumulative", false); err != nil {
		return nil, err
	}
	interval, err := r.seconds("interval", defaultMemoryInterval, false)
	if err != nil {
		return nil, err
	}
	c.limit = newSustainedLimit(interval, o.now)
	return c, nil
}

func (c *memoryCheck) Check(ctx context.Context, p supervisor.ProcessInfo) bool {
	rss, err := c.sampler.RSS(ctx, p.FullName(), p.PID, c.cumulative)
	if err != nil {
		c.log.Error("could not sample memory", "process", p.Name, "pid", p.PID, "error", err)
		return false
	}
	over := rss > c.maxRSS
	c.log.Debug("memory sampled", "process", p.Name, "rss_kb", rss/1024, "cumulative", c.cumulative)

	v, elapsed := c.limit.observe(p, over)
	switch v {
	case crossed:
		c.log.Warn("memory above threshold", "process", p.Name, "rss_kb", rss/1024, "max_rss_kb", c.maxRSS/1024)
	case cleared:
		c.log.Info("memory dropped below threshold", "process", p.Name, "rss_kb", rss/1024)
	case exceeded:
		c.log.Error("memory above threshold for too long", "process", p.Name, "rss_kb", rss/1024,
			"max_rss_kb", c.maxRSS/1024, "over_for", elapsed.Round(time.Second))
	}
	return v.ok()
}

// Forget drops the debounce window and the cached sampler handle of a process.
func (c *memoryCheck) Forget(fullName string) {
	c.limit.forget(fullName)
	if f, ok := c.sampler.(Forgetter); ok {
		f.Forget(fullName)
	}
}
