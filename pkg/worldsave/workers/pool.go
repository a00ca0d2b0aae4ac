// Package workers runs offloaded encode and decode passes on a bounded set
// of goroutines. Callers on the simulation goroutine never block: they
// submit a Job and poll Done once per tick.
package workers

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is reported by jobs that never started before Close.
var ErrPoolClosed = errors.New("worker pool closed")

// DefaultSize is the worker count used when none is configured.
const DefaultSize = 4

// Pool is a bounded worker pool.
type Pool struct {
	group  errgroup.Group
	logger *slog.Logger
	closed atomic.Bool

	mu      sync.Mutex
	waiting []*Job
}

// New creates a pool running at most size jobs at once.
func New(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{logger: logger}
	p.group.SetLimit(size)
	return p
}

// Job is one submitted function.
type Job struct {
	pool    *Pool
	name    string
	fn      func() error
	started atomic.Bool
	done    atomic.Bool
	err     error
}

// Submit queues fn. If every worker is busy the job starts on a later
// Done poll instead of blocking the caller.
func (p *Pool) Submit(name string, fn func() error) *Job {
	j := &Job{pool: p, name: name, fn: fn}
	if p.closed.Load() {
		j.finish(ErrPoolClosed)
		return j
	}
	if !p.tryStart(j) {
		p.mu.Lock()
		p.waiting = append(p.waiting, j)
		p.mu.Unlock()
	}
	return j
}

func (p *Pool) tryStart(j *Job) bool {
	if j.started.Load() {
		return true
	}
	ok := p.group.TryGo(func() error {
		j.run()
		return nil
	})
	if ok {
		j.started.Store(true)
	}
	return ok
}

// kick starts as many waiting jobs as there are free workers.
func (p *Pool) kick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		for _, j := range p.waiting {
			j.finish(ErrPoolClosed)
		}
		p.waiting = nil
		return
	}
	rest := p.waiting[:0]
	for i, j := range p.waiting {
		if !p.tryStart(j) {
			rest = append(rest, p.waiting[i:]...)
			break
		}
	}
	p.waiting = rest
}

// Waiting returns the number of jobs not started yet.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}

// Close stops accepting jobs, fails jobs that never started and waits for
// running ones.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.kick()
	return p.group.Wait()
}

func (j *Job) run() {
	var err error
	defer func() {
		if r := recover(); r != nil {
			j.pool.logger.Error("worker job panicked",
				slog.String("job", j.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
		j.finish(err)
	}()
	err = j.fn()
}

func (j *Job) finish(err error) {
	j.err = err
	j.done.Store(true)
}

// Done reports whether the job has finished. A job still waiting for a
// worker is started if one is free.
func (j *Job) Done() bool {
	if j.done.Load() {
		return true
	}
	if !j.started.Load() {
		j.pool.kick()
	}
	return j.done.Load()
}

// Err returns the job's error. It is only meaningful once Done is true.
func (j *Job) Err() error {
	if !j.done.Load() {
		return nil
	}
	return j.err
}

// Name returns the name given at submission.
func (j *Job) Name() string { return j.name }
