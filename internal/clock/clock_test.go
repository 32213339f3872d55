package clock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Clock = (*Fake)(nil)
	_ Clock = Real()
)

func TestFakeAfterFunc(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	var fired atomic.Bool

	var c Clock = fake
	c.AfterFunc(time.Second, func() { fired.Store(true) })
	require.True(t, fake.HasWaiters())

	fake.Step(999 * time.Millisecond)
	assert.Never(t, fired.Load, 20*time.Millisecond, time.Millisecond)

	fake.Step(time.Millisecond)
	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
	assert.False(t, fake.HasWaiters())
}

func TestFakeRearmFromCallback(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))

	var (
		mu    sync.Mutex
		timer Timer
		seen  []time.Time
	)
	var tick func()
	tick = func() {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, fake.Now())
		timer = fake.AfterFunc(time.Second, tick)
	}

	mu.Lock()
	timer = fake.AfterFunc(time.Second, tick)
	mu.Unlock()

	for i := 1; i <= 3; i++ {
		fake.Step(time.Second)
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) == i && fake.HasWaiters()
		}, time.Second, time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Time{time.Unix(1, 0), time.Unix(2, 0), time.Unix(3, 0)}, seen)
	Stop(timer)
	assert.False(t, fake.HasWaiters())
}

func TestStop(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))

	Stop(nil)

	timer := fake.AfterFunc(time.Second, func() {})
	Stop(timer)
	assert.False(t, fake.HasWaiters())

	// Stopping twice is harmless.
	Stop(timer)
}
