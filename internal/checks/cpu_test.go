package checks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCPU(t *testing.T, s *fakeSampler, clock *fakeClock, params Params) Check {
	t.Helper()
	c, err := New(KindCPU, params, testOptions(WithCPUSampler(s), WithClock(clock.Now))...)
	require.NoError(t, err)
	return c
}

func TestCPUCheckDebounce(t *testing.T) {
	s := &fakeSampler{}
	clock := newFakeClock()
	c := newCPU(t, s, clock, Params{"max_cpu": 50, "interval": 60})
	ctx := context.Background()

	s.cpu = []float64{80}
	assert.True(t, c.Check(ctx, web8080), "a single high sample passes")

	clock.Advance(61 * time.Second)
	assert.False(t, c.Check(ctx, web8080), "sustained over the window fails")

	s.cpu = []float64{40}
	clock.Advance(time.Second)
	assert.True(t, c.Check(ctx, web8080), "drop clears the window")

	s.cpu = []float64{80}
	clock.Advance(time.Second)
	assert.True(t, c.Check(ctx, web8080), "window restarts from zero")
	clock.Advance(30 * time.Second)
	assert.True(t, c.Check(ctx, web8080))
	clock.Advance(31 * time.Second)
	assert.False(t, c.Check(ctx, web8080))
}

func TestCPUCheckAtThresholdPasses(t *testing.T) {
	s := &fakeSampler{cpu: []float64{50}}
	clock := newFakeClock()
	c := newCPU(t, s, clock, Params{"max_cpu": 50, "interval": 1})

	for i := 0; i < 3; i++ {
		assert.True(t, c.Check(context.Background(), web8080))
		clock.Advance(10 * time.Second)
	}
}

func TestCPUCheckResetsOnNewPID(t *testing.T) {
	s := &fakeSampler{cpu: []float64{95}}
	clock := newFakeClock()
	c := newCPU(t, s, clock, Params{"max_cpu": 50, "interval": 60})
	ctx := context.Background()

	assert.True(t, c.Check(ctx, web8080))
	clock.Advance(2 * time.Minute)
	assert.False(t, c.Check(ctx, web8080))

	restarted := web8080
	restarted.PID = web8080.PID + 1
	assert.True(t, c.Check(ctx, restarted), "a restarted process gets a fresh window")
}

func TestCPUCheckTracksProcessesIndependently(t *testing.T) {
	s := &fakeSampler{cpu: []float64{95}}
	clock := newFakeClock()
	c := newCPU(t, s, clock, Params{"max_cpu": 50, "interval": 60})
	ctx := context.Background()

	other := web8080
	other.Name = "web_8081"
	other.PID = 5000

	assert.True(t, c.Check(ctx, web8080))
	clock.Advance(2 * time.Minute)
	assert.True(t, c.Check(ctx, other), "other process only just crossed")
	assert.False(t, c.Check(ctx, web8080))
}

func TestCPUCheckDefaultInterval(t *testing.T) {
	s := &fakeSampler{cpu: []float64{95}}
	clock := newFakeClock()
	c := newCPU(t, s, clock, Params{"max_cpu": 50})
	ctx := context.Background()

	assert.True(t, c.Check(ctx, web8080))
	clock.Advance(59 * time.Minute)
	assert.True(t, c.Check(ctx, web8080))
	clock.Advance(2 * time.Minute)
	assert.False(t, c.Check(ctx, web8080))
}

func TestCPUCheckSamplerError(t *testing.T) {
	s := &fakeSampler{err: errors.New("no such process")}
	c := newCPU(t, s, newFakeClock(), Params{"max_cpu": 50})
	assert.False(t, c.Check(context.Background(), web8080))
}
