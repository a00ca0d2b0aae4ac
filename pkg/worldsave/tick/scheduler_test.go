package tick_test

import (
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/worldsave/pkg/worldsave/tick"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter finishes after n advances.
type counter struct {
	n, calls int
}

func (c *counter) Advance() bool {
	c.calls++
	return c.calls >= c.n
}

func TestScheduler_OneAdvancePerTick(t *testing.T) {
	s := tick.New()
	c := &counter{n: 3}
	s.Add(c)

	s.Tick()
	assert.Equal(t, 1, c.calls)
	s.Tick()
	assert.Equal(t, 2, c.calls)
	assert.False(t, s.Idle())

	s.Tick()
	assert.Equal(t, 3, c.calls)
	assert.True(t, s.Idle())

	s.Tick()
	assert.Equal(t, 3, c.calls, "finished task is dropped")
	assert.Equal(t, uint64(4), s.Ticks())
}

func TestScheduler_AddDuringTickWaitsForNextTick(t *testing.T) {
	s := tick.New()
	inner := &counter{n: 1}
	s.Add(tick.TaskFunc(func() bool {
		s.Add(inner)
		return true
	}))

	s.Tick()
	assert.Zero(t, inner.calls)
	s.Tick()
	assert.Equal(t, 1, inner.calls)
}

func TestScheduler_PostRunsBeforeTasksInOrder(t *testing.T) {
	s := tick.New()
	var order []string
	s.Add(tick.TaskFunc(func() bool {
		order = append(order, "task")
		return true
	}))
	s.Post(func() { order = append(order, "first") })
	s.Post(func() { order = append(order, "second") })

	s.Tick()
	assert.Equal(t, []string{"first", "second", "task"}, order)
}

func TestScheduler_PostFromGoroutines(t *testing.T) {
	s := tick.New()
	var wg sync.WaitGroup
	ran := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Post(func() { ran++ })
		}()
	}
	wg.Wait()

	s.Tick()
	assert.Equal(t, 20, ran)
}

func TestScheduler_RunUntilIdle(t *testing.T) {
	s := tick.New()
	s.Add(&counter{n: 5})
	assert.Equal(t, 5, s.RunUntilIdle(100))

	s.Add(&counter{n: 50})
	assert.Equal(t, 10, s.RunUntilIdle(10))
}

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := tick.NewManualClock(start)
	s := tick.New(tick.WithClock(clock))

	require.Equal(t, start, s.Now())
	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), s.Now())
}
