// Package event publishes task outcomes to external listeners.
//
// Every save, load and region task publishes exactly one event when it
// finishes. Listeners subscribe to the types they care about on a Bus;
// each subscription is delivered on its own goroutine so a slow listener
// never stalls the simulation tick.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task outcome event types.
const (
	TypeSaveCompleted   = "save.completed"
	TypeSaveFailed      = "save.failed"
	TypeLoadCompleted   = "load.completed"
	TypeLoadFailed      = "load.failed"
	TypeStreamCompleted = "stream.completed"
)

// Event is an immutable notification.
type Event interface {
	ID() string
	Type() string
	Source() string
	CorrelationID() string
	Timestamp() time.Time
	Data() any
	DataBytes() []byte
}

// Metadata contains common event metadata fields.
type Metadata struct {
	EventID       string    `json:"id"`
	EventType     string    `json:"type"`
	EventSource   string    `json:"source"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// BaseEvent is a generic event with a typed payload.
type BaseEvent[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`

	cachedBytes []byte
}

// ID returns the unique event identifier.
func (e *BaseEvent[T]) ID() string { return e.Meta.EventID }

// Type returns the event type.
func (e *BaseEvent[T]) Type() string { return e.Meta.EventType }

// Source returns the event source.
func (e *BaseEvent[T]) Source() string { return e.Meta.EventSource }

// CorrelationID groups events that belong to the same task.
func (e *BaseEvent[T]) CorrelationID() string { return e.Meta.CorrelationID }

// Timestamp returns when the event occurred.
func (e *BaseEvent[T]) Timestamp() time.Time { return e.Meta.Timestamp }

// Data returns the event payload.
func (e *BaseEvent[T]) Data() any { return e.Payload }

// TypedData returns the strongly-typed payload.
func (e *BaseEvent[T]) TypedData() T { return e.Payload }

// DataBytes returns the JSON-encoded payload. The result is cached.
func (e *BaseEvent[T]) DataBytes() []byte {
	if e.cachedBytes == nil {
		e.cachedBytes, _ = json.Marshal(e.Payload)
	}
	return e.cachedBytes
}

// Option configures event creation.
type Option func(*Metadata)

// WithEventID sets a specific event ID (default: random UUID).
func WithEventID(id string) Option {
	return func(m *Metadata) { m.EventID = id }
}

// WithCorrelationID sets the correlation ID (default: the event ID).
func WithCorrelationID(id string) Option {
	return func(m *Metadata) { m.CorrelationID = id }
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(m *Metadata) { m.Timestamp = t }
}

// New creates an event with the given type, source and payload.
func New[T any](eventType, source string, payload T, opts ...Option) *BaseEvent[T] {
	meta := Metadata{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		EventSource: source,
		Timestamp:   time.Now(),
	}
	for _, opt := range opts {
		opt(&meta)
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = meta.EventID
	}
	return &BaseEvent[T]{Meta: meta, Payload: payload}
}

// TaskOutcome is the payload of every task outcome event.
type TaskOutcome struct {
	TaskID   string        `json:"task_id"`
	Kind     string        `json:"kind"`
	Scope    string        `json:"scope,omitempty"`
	User     string        `json:"user,omitempty"`
	Slot     string        `json:"slot"`
	Level    string        `json:"level,omitempty"`
	Region   string        `json:"region,omitempty"`
	Records  int           `json:"records"`
	Ticks    int           `json:"ticks"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Succeeded reports whether the task finished without error.
func (o TaskOutcome) Succeeded() bool { return o.Error == "" }

// OutcomeType maps a task kind and result to its event type.
// Region tasks publish TypeStreamCompleted regardless of the result.
func OutcomeType(kind string, failed bool) string {
	switch kind {
	case "save":
		if failed {
			return TypeSaveFailed
		}
		return TypeSaveCompleted
	case "load":
		if failed {
			return TypeLoadFailed
		}
		return TypeLoadCompleted
	default:
		return TypeStreamCompleted
	}
}
