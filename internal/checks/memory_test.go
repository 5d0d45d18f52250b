package checks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCheckDefaultIntervalDebounces(t *testing.T) {
	s := &fakeSampler{rss: []uint64{8 << 20}}
	clock := newFakeClock()
	c, err := New(KindMemory, Params{"max_rss": 4096, "cumulative": true},
		testOptions(WithMemorySampler(s), WithClock(clock.Now))...)
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, c.Check(ctx, web8080), "a single sample over the limit never fails")
	clock.Advance(30 * time.Minute)
	assert.True(t, c.Check(ctx, web8080))
	clock.Advance(defaultMemoryInterval)
	assert.False(t, c.Check(ctx, web8080), "over the limit for longer than the default interval")
	assert.Equal(t, []bool{true, true, true}, s.children)
}

func TestMemoryCheckCumulative(t *testing.T) {
	s := &fakeSampler{rss: []uint64{100}}
	c, err := New(KindMemory, Params{"max_rss": 1, "cumulative": true}, testOptions(WithMemorySampler(s))...)
	require.NoError(t, err)

	assert.True(t, c.Check(context.Background(), web8080))
	assert.Equal(t, []bool{true}, s.children)
}

func TestMemoryCheckWithIntervalDebounces(t *testing.T) {
	s := &fakeSampler{rss: []uint64{8 << 20}}
	clock := newFakeClock()
	c, err := New(KindMemory, Params{"max_rss": 4096, "interval": 60},
		testOptions(WithMemorySampler(s), WithClock(clock.Now))...)
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, c.Check(ctx, web8080))
	clock.Advance(30 * time.Second)
	assert.True(t, c.Check(ctx, web8080))
	clock.Advance(31 * time.Second)
	assert.False(t, c.Check(ctx, web8080))

	s.rss = []uint64{1 << 20}
	assert.True(t, c.Check(ctx, web8080))
	s.rss = []uint64{8 << 20}
	assert.True(t, c.Check(ctx, web8080), "window restarts after a drop")
}

func TestMemoryCheckSamplerError(t *testing.T) {
	s := &fakeSampler{err: errors.New("gone")}
	c, err := New(KindMemory, Params{"max_rss": 4096}, testOptions(WithMemorySampler(s))...)
	require.NoError(t, err)
	assert.False(t, c.Check(context.Background(), web8080))
}

func TestMemoryCheckForgetDropsWindow(t *testing.T) {
	s := &fakeSampler{rss: []uint64{8 << 20}}
	clock := newFakeClock()
	c, err := New(KindMemory, Params{"max_rss": 4096, "interval": 60},
		testOptions(WithMemorySampler(s), WithClock(clock.Now))...)
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, c.Check(ctx, web8080))
	clock.Advance(2 * time.Minute)
	c.(Forgetter).Forget(web8080.FullName())
	assert.True(t, c.Check(ctx, web8080), "a forgotten process opens a new window")
	assert.Equal(t, 1, c.(*memoryCheck).limit.tracked())
}
