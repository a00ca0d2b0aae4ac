package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler processes a delivered event.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Bus fans task outcome events out to listeners.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(handler Handler, types ...string) Subscription
	Close() error
}

// Subscription is a registered listener.
type Subscription interface {
	ID() string
	Unsubscribe()
}

// BusConfig configures bus behavior.
type BusConfig struct {
	// BufferSize bounds each listener's inbox. Zero means 64.
	BufferSize int

	// NonBlocking makes Publish drop an event for a listener whose inbox
	// is full. Otherwise Publish waits for room.
	NonBlocking bool

	OnDrop  func(evt Event, listenerID string)
	OnError func(evt Event, listenerID string, err error)
}

// DefaultBusConfig is used by the session when no bus is supplied.
var DefaultBusConfig = BusConfig{
	BufferSize:  64,
	NonBlocking: true,
}

// LocalBus is an in-memory Bus. Each listener owns an inbox drained by
// its own goroutine.
type LocalBus struct {
	cfg BusConfig

	mu        sync.RWMutex
	listeners map[string]*listener

	running  sync.WaitGroup
	shutdown atomic.Bool
	quit     chan struct{}
}

var _ Bus = (*LocalBus)(nil)

// NewBus creates a new local event bus.
func NewBus(cfg BusConfig) *LocalBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBusConfig.BufferSize
	}
	return &LocalBus{
		cfg:       cfg,
		listeners: make(map[string]*listener),
		quit:      make(chan struct{}),
	}
}

// Publish hands evt to every listener subscribed to its type.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.shutdown.Load() {
		return &EventError{Event: evt, Message: "publish", Err: ErrBusClosed}
	}
	for _, l := range b.targets(evt.Type()) {
		if err := b.offer(ctx, l, evt); err != nil {
			return err
		}
	}
	return nil
}

func (b *LocalBus) targets(eventType string) []*listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.wants(eventType) {
			out = append(out, l)
		}
	}
	return out
}

func (b *LocalBus) offer(ctx context.Context, l *listener, evt Event) error {
	if b.cfg.NonBlocking {
		select {
		case l.inbox <- evt:
		default:
			if b.cfg.OnDrop != nil {
				b.cfg.OnDrop(evt, l.id)
			}
		}
		return nil
	}
	select {
	case l.inbox <- evt:
		return nil
	case <-l.gone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.quit:
		return &EventError{Event: evt, Message: "bus closed during publish", Err: ErrBusClosed}
	}
}

// Subscribe registers handler for the given event types, or for every
// type when none are given. It returns nil once the bus is closed.
func (b *LocalBus) Subscribe(handler Handler, types ...string) Subscription {
	if b.shutdown.Load() {
		return nil
	}
	l := &listener{
		id:      uuid.NewString(),
		handler: handler,
		inbox:   make(chan Event, b.cfg.BufferSize),
		gone:    make(chan struct{}),
		bus:     b,
	}
	for _, t := range types {
		if l.only == nil {
			l.only = make(map[string]bool, len(types))
		}
		l.only[t] = true
	}

	b.mu.Lock()
	b.listeners[l.id] = l
	b.mu.Unlock()

	b.running.Add(1)
	go l.run()
	return l
}

// Close stops every listener after its inbox drains and waits for the
// handlers to return. Closing twice is a no-op.
func (b *LocalBus) Close() error {
	if b.shutdown.Swap(true) {
		return nil
	}
	close(b.quit)

	b.mu.Lock()
	for _, l := range b.listeners {
		l.stop()
	}
	b.mu.Unlock()

	b.running.Wait()
	return nil
}

type listener struct {
	id      string
	only    map[string]bool
	handler Handler
	inbox   chan Event
	gone    chan struct{}
	once    sync.Once
	bus     *LocalBus
}

func (l *listener) ID() string { return l.id }

func (l *listener) wants(eventType string) bool {
	return l.only == nil || l.only[eventType]
}

func (l *listener) run() {
	defer l.bus.running.Done()
	for {
		select {
		case evt := <-l.inbox:
			l.handle(evt)
		case <-l.gone:
			l.drain()
			return
		}
	}
}

func (l *listener) drain() {
	for {
		select {
		case evt := <-l.inbox:
			l.handle(evt)
		default:
			return
		}
	}
}

func (l *listener) handle(evt Event) {
	err := l.handler.Handle(context.Background(), evt)
	if err != nil && l.bus.cfg.OnError != nil {
		l.bus.cfg.OnError(evt, l.id, err)
	}
}

func (l *listener) stop() { l.once.Do(func() { close(l.gone) }) }

// Unsubscribe removes the listener. Events already in its inbox are still
// delivered.
func (l *listener) Unsubscribe() {
	l.bus.mu.Lock()
	delete(l.bus.listeners, l.id)
	l.bus.mu.Unlock()
	l.stop()
}
