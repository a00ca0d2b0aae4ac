// Package tick drives cooperative tasks from the simulation's frame loop.
//
// A Scheduler belongs to the goroutine that owns the simulation. Each call
// to Tick first runs functions posted from other goroutines, then advances
// every registered task exactly once. A task never advances twice in one
// tick, so a long workflow spreads its steps across frames.
package tick

import (
	"sync"
	"time"
)

// Task is a state machine advanced once per tick.
type Task interface {
	// Advance performs at most one state transition. It returns true once
	// the task has reached a terminal state and should be dropped.
	Advance() bool
}

// TaskFunc adapts a function to Task.
type TaskFunc func() bool

// Advance implements Task.
func (f TaskFunc) Advance() bool { return f() }

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Scheduler runs tasks and posted functions on the owning goroutine.
type Scheduler struct {
	clock Clock

	mu     sync.Mutex
	posted []func()
	added  []Task

	// tasks is only touched from Tick.
	tasks []Task
	ticks uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock tasks read through Now.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{clock: SystemClock}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Add registers t. It is first advanced on the next Tick, even when Add is
// called from inside a tick. Add is safe from any goroutine.
func (s *Scheduler) Add(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, t)
}

// Post queues fn to run on the owning goroutine at the start of the next
// Tick. Post is safe from any goroutine; functions run in FIFO order.
func (s *Scheduler) Post(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, fn)
}

// Tick runs posted functions, then advances each task once.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	posted := s.posted
	s.posted = nil
	s.tasks = append(s.tasks, s.added...)
	s.added = nil
	s.mu.Unlock()

	for _, fn := range posted {
		fn()
	}

	live := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.Advance() {
			live = append(live, t)
		}
	}
	clear(s.tasks[len(live):])
	s.tasks = live
	s.ticks++
}

// Ticks returns how many times Tick has run.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// Idle reports whether no task is registered and nothing is posted.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks) == 0 && len(s.added) == 0 && len(s.posted) == 0
}

// RunUntilIdle ticks until the scheduler is idle or max ticks have run.
// It returns the number of ticks run.
func (s *Scheduler) RunUntilIdle(max int) int {
	n := 0
	for n < max && !s.Idle() {
		s.Tick()
		n++
	}
	return n
}
