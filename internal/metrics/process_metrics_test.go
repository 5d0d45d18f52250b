package metrics

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSamplerSelf(t *testing.T) {
	s := NewProcessSampler()
	ctx := context.Background()
	pid := os.Getpid()

	pct, err := s.CPUPercent(ctx, "self", pid)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pct, 0.0)

	rss, err := s.RSS(ctx, "self", pid, false)
	require.NoError(t, err)
	assert.Greater(t, rss, uint64(0))

	withChildren, err := s.RSS(ctx, "self", pid, true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, withChildren, uint64(0))

	assert.Equal(t, 1, s.Len(), "handle is reused across samples")
	s.Forget("self")
	assert.Equal(t, 0, s.Len())
}

func TestProcessSamplerReplacesHandleOnNewPID(t *testing.T) {
	s := NewProcessSampler()
	ctx := context.Background()

	_, err := s.RSS(ctx, "web:a", os.Getpid(), false)
	require.NoError(t, err)
	_, err = s.RSS(ctx, "web:a", os.Getppid(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len(), "the handle of the previous pid is evicted")

	e, ok := s.handles.Get("web:a")
	require.True(t, ok)
	assert.Equal(t, os.Getppid(), e.pid)
}

func TestProcessSamplerInvalidPID(t *testing.T) {
	s := NewProcessSampler()

	_, err := s.CPUPercent(context.Background(), "none", 0)
	assert.Error(t, err)
	_, err = s.RSS(context.Background(), "none", -1, true)
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}
