package metrics

import (
	"context"
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSampler reads CPU and memory figures of supervised processes and
// publishes them as gauges. One handle is cached per process name so that CPU
// percent is the average since the previous sample of the same process. A
// new pid under the same name replaces the handle.
type ProcessSampler struct {
	handles cmap.ConcurrentMap[string, pidHandle]
}

type pidHandle struct {
	pid int
	h   *process.Process
}

// NewProcessSampler returns a sampler with an empty handle cache.
func NewProcessSampler() *ProcessSampler {
	return &ProcessSampler{handles: cmap.New[pidHandle]()}
}

func (s *ProcessSampler) handle(ctx context.Context, name string, pid int) (*process.Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	if e, ok := s.handles.Get(name); ok && e.pid == pid {
		if running, err := e.h.IsRunningWithContext(ctx); err == nil && running {
			return e.h, nil
		}
	}
	s.handles.Remove(name)
	h, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}
	s.handles.Set(name, pidHandle{pid: pid, h: h})
	return h, nil
}

// CPUPercent returns the CPU percent of pid since its previous sample.
// The first sample of a pid reports 0.
func (s *ProcessSampler) CPUPercent(ctx context.Context, name string, pid int) (float64, error) {
	h, err := s.handle(ctx, name, pid)
	if err != nil {
		return 0, err
	}
	pct, err := h.PercentWithContext(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("cpu percent of pid %d: %w", pid, err)
	}
	SetProcessCPU(name, pct)
	return pct, nil
}

// RSS returns the resident set size of pid in bytes, optionally summed over
// all of its descendants.
func (s *ProcessSampler) RSS(ctx context.Context, name string, pid int, includeChildren bool) (uint64, error) {
	h, err := s.handle(ctx, name, pid)
	if err != nil {
		return 0, err
	}
	mem, err := h.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("memory info of pid %d: %w", pid, err)
	}
	total := mem.RSS
	if includeChildren {
		total += descendantsRSS(ctx, h)
	}
	SetProcessRSS(name, total)
	return total, nil
}

// descendantsRSS sums the RSS of every descendant of p. Children that exit
// while being walked are skipped.
func descendantsRSS(ctx context.Context, p *process.Process) uint64 {
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		// includes process.ErrorNoChildren
		return 0
	}
	var total uint64
	for _, c := range children {
		if mem, err := c.MemoryInfoWithContext(ctx); err == nil {
			total += mem.RSS
		}
		total += descendantsRSS(ctx, c)
	}
	return total
}

// Forget drops the cached handle of a process that is no longer supervised.
func (s *ProcessSampler) Forget(name string) {
	s.handles.Remove(name)
}

// Len reports how many handles are cached.
func (s *ProcessSampler) Len() int { return s.handles.Count() }
