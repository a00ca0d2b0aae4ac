package worldsave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/worldsave/pkg/worldsave/event"
	"github.com/randalmurphal/worldsave/pkg/worldsave/observability"
)

// Scope selects which artifacts a task covers. Scopes are bit sets so
// overlap is a single AND.
type Scope uint8

const (
	// ScopePlayer covers the player controller, pawn and player state.
	ScopePlayer Scope = 1 << iota
	// ScopeLevel covers level entities, scripts and game objects.
	ScopeLevel

	// ScopeBoth covers everything.
	ScopeBoth = ScopePlayer | ScopeLevel
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case ScopePlayer:
		return "player"
	case ScopeLevel:
		return "level"
	case ScopeBoth:
		return "both"
	default:
		return "none"
	}
}

// ParseScope parses a scope name.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "player":
		return ScopePlayer, nil
	case "level":
		return ScopeLevel, nil
	case "both", "all":
		return ScopeBoth, nil
	default:
		return 0, fmt.Errorf("unknown scope %q", s)
	}
}

// Has reports whether s includes every bit of o.
func (s Scope) Has(o Scope) bool { return o != 0 && s&o == o }

// Overlaps reports whether s and o share any artifact.
func (s Scope) Overlaps(o Scope) bool { return s&o != 0 }

// Outcome is the terminal signal of a task.
type Outcome uint8

const (
	// Pending means the task has not finished.
	Pending Outcome = iota
	// Completed means every step succeeded.
	Completed
	// Failed means at least one step failed or the task was abandoned.
	Failed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task kinds reported in logs, metrics and events.
const (
	kindSave   = "save"
	kindLoad   = "load"
	kindRegion = "region"
)

// task holds the bookkeeping shared by every task state machine: identity,
// completion, callbacks and the per-step observability.
//
// Advance and everything it calls run on the goroutine that ticks the
// session. Done, Err and Outcome may be read from anywhere.
type task struct {
	id    string
	kind  string
	scope Scope
	s     *Session

	slot, user, level string

	logger *slog.Logger
	ctx    context.Context
	span   trace.Span

	step      string
	stepErr   error
	stepSpan  trace.Span
	stepCtx   context.Context
	stepStart time.Time
	started   time.Time
	ticks     int
	records   int
	region    string

	mu        sync.Mutex
	err       error
	outcome   Outcome
	done      atomic.Bool
	callbacks []func(Outcome, error)

	// release returns the task's scope to the session.
	release func()
}

func newTask(s *Session, kind string, scope Scope) *task {
	slot, user := s.keys()
	t := &task{
		id:      uuid.New().String(),
		kind:    kind,
		scope:   scope,
		s:       s,
		slot:    slot,
		user:    user,
		level:   s.world.Level(),
		started: s.sched.Now(),
		ctx:     context.Background(),
	}
	t.logger = observability.EnrichLogger(s.logger, t.id, kind, scope.String())
	return t
}

// ID returns the task's unique identifier.
func (t *task) ID() string { return t.id }

// Scope returns the artifacts the task covers.
func (t *task) Scope() Scope { return t.scope }

// Done reports whether the task reached a terminal state.
func (t *task) Done() bool { return t.done.Load() }

// Err returns the error that failed the task, or nil.
func (t *task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Outcome returns Completed or Failed once the task is done.
func (t *task) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// OnComplete registers fn to run when the task finishes. Callbacks run on
// the goroutine that ticks the session. When the task already finished,
// fn runs immediately.
func (t *task) OnComplete(fn func(Outcome, error)) {
	t.mu.Lock()
	if t.outcome == Pending {
		t.callbacks = append(t.callbacks, fn)
		t.mu.Unlock()
		return
	}
	outcome, err := t.outcome, t.err
	t.mu.Unlock()
	fn(outcome, err)
}

// fail records err as the task error; the first error wins. Later errors
// are joined so the log keeps every failed step.
func (t *task) fail(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stepErr = err
	if t.err == nil {
		t.err = err
		return
	}
	t.err = errors.Join(t.err, err)
}

func (t *task) failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err != nil
}

// begin starts the task span and logs the start.
func (t *task) begin() {
	t.ctx, t.span = t.s.spans.StartTaskSpan(context.Background(), t.kind, t.id)
	observability.LogTaskStart(t.logger, t.slot)
}

// enter closes the current step and opens the next one.
func (t *task) enter(step string) {
	t.mu.Lock()
	stepErr := t.stepErr
	t.stepErr = nil
	t.mu.Unlock()

	t.leave(stepErr)
	t.step = step
	t.stepStart = t.s.sched.Now()
	t.stepCtx, t.stepSpan = t.s.spans.StartStepSpan(t.ctx, step)
	observability.LogStep(t.logger, step)
}

// leave closes the current step, if any.
func (t *task) leave(err error) {
	if t.stepSpan == nil {
		return
	}
	t.s.metrics.RecordStep(t.ctx, t.kind, t.step, t.s.sched.Now().Sub(t.stepStart), err)
	t.s.spans.EndSpanWithError(t.stepSpan, err)
	t.stepSpan = nil
}

// event adds an event to the current step span.
func (t *task) event(name string, attrs ...attribute.KeyValue) {
	ctx := t.stepCtx
	if ctx == nil {
		ctx = t.ctx
	}
	t.s.spans.AddSpanEvent(ctx, name, attrs...)
}

// finish moves the task to its terminal state: closes spans, records
// metrics, releases the scope, runs callbacks and publishes the outcome.
func (t *task) finish() {
	err := t.Err()
	t.mu.Lock()
	stepErr := t.stepErr
	t.mu.Unlock()
	t.leave(stepErr)

	outcome := Completed
	if err != nil {
		outcome = Failed
	}
	elapsed := t.s.sched.Now().Sub(t.started)

	t.s.metrics.RecordTask(t.ctx, t.kind, err == nil, elapsed)
	t.s.spans.EndSpanWithError(t.span, err)
	if err != nil {
		observability.LogTaskError(t.logger, err, float64(elapsed.Milliseconds()), t.step)
	} else {
		observability.LogTaskComplete(t.logger, float64(elapsed.Milliseconds()), t.ticks)
	}

	if t.release != nil {
		t.release()
	}

	t.mu.Lock()
	t.outcome = outcome
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()
	t.done.Store(true)

	for _, fn := range callbacks {
		fn(outcome, err)
	}
	t.publish(outcome, err, elapsed)
}

// abandon ends a task whose session was closed. No callbacks run and no
// event is published; the session's bus is already gone.
func (t *task) abandon() {
	t.fail(ErrSessionClosed)
	t.leave(ErrSessionClosed)
	t.s.spans.EndSpanWithError(t.span, ErrSessionClosed)

	t.mu.Lock()
	t.outcome = Failed
	t.callbacks = nil
	t.mu.Unlock()
	t.done.Store(true)
}

func (t *task) publish(outcome Outcome, err error, elapsed time.Duration) {
	payload := event.TaskOutcome{
		TaskID:   t.id,
		Kind:     t.kind,
		Scope:    t.scope.String(),
		User:     t.user,
		Slot:     t.slot,
		Level:    t.level,
		Region:   t.region,
		Records:  t.records,
		Ticks:    t.ticks,
		Duration: elapsed,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	evt := event.New(event.OutcomeType(t.kind, outcome == Failed), "worldsave", payload,
		event.WithCorrelationID(t.id), event.WithTimestamp(t.s.sched.Now()))
	if perr := t.s.bus.Publish(t.ctx, evt); perr != nil {
		t.logger.Debug("outcome event not published", slog.String("error", perr.Error()))
	}
}

// expired reports whether the watchdog armed at armedAt has fired.
func (t *task) expired(armedAt time.Time, deadline time.Duration) bool {
	return deadline > 0 && !armedAt.IsZero() && !t.s.sched.Now().Before(armedAt.Add(deadline))
}
