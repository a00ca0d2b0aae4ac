package worldsave

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/worldsave/pkg/worldsave/aggregate"
	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	"github.com/randalmurphal/worldsave/pkg/worldsave/config"
	"github.com/randalmurphal/worldsave/pkg/worldsave/custom"
	"github.com/randalmurphal/worldsave/pkg/worldsave/event"
	"github.com/randalmurphal/worldsave/pkg/worldsave/observability"
	"github.com/randalmurphal/worldsave/pkg/worldsave/registry"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
	"github.com/randalmurphal/worldsave/pkg/worldsave/stream"
	"github.com/randalmurphal/worldsave/pkg/worldsave/tick"
	"github.com/randalmurphal/worldsave/pkg/worldsave/workers"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

// Session is the persistence engine bound to one simulation.
//
// The goroutine that owns the world must call Tick once per frame; every
// task advances by at most one step per Tick. Operations that start tasks
// must be called on that goroutine too.
type Session struct {
	world    world.World
	settings config.Settings

	adapter *store.Adapter
	agg     *aggregate.Aggregator
	classes *registry.Classes
	sched   *tick.Scheduler
	pool    *workers.Pool
	cache   *custom.Cache
	regions *stream.Regions
	bus     event.Bus

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	backend     store.Backend
	ownsBackend bool
	ownsBus     bool
	classPaths  []string

	mu      sync.Mutex
	user    string
	slot    string
	saving  Scope
	loading Scope

	// saveMu guards state captured for the next save pass.
	saveMu    sync.Mutex
	destroyed []archive.EntityRecord

	// loadMu guards the saved records held for the active level.
	loadMu sync.Mutex
	held   *heldLevel

	closed atomic.Bool
}

// heldLevel is the level data of the last load, kept so later loads and
// regions can reuse it without reading the blob again.
type heldLevel struct {
	level    string
	unpacked aggregate.Unpacked
	version  codec.VersionContext
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics sets the metrics recorder. Default: observability.NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Session) { s.metrics = m }
}

// WithSpanManager sets the span manager. Default: observability.NoopSpanManager.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(s *Session) { s.spans = sm }
}

// WithSettings replaces the default settings.
func WithSettings(settings config.Settings) Option {
	return func(s *Session) { s.settings = settings }
}

// WithBackend stores blobs on b instead of opening the configured
// backend. The caller keeps ownership: Close does not close b.
func WithBackend(b store.Backend) Option {
	return func(s *Session) { s.backend = b }
}

// WithScheduler drives the session's tasks from a shared scheduler.
func WithScheduler(sched *tick.Scheduler) Option {
	return func(s *Session) { s.sched = sched }
}

// WithClock sets the clock of the session's own scheduler. It is ignored
// together with WithScheduler.
func WithClock(c tick.Clock) Option {
	return func(s *Session) {
		if s.sched == nil {
			s.sched = tick.New(tick.WithClock(c))
		}
	}
}

// WithEventBus publishes task outcomes on bus. The caller keeps ownership.
func WithEventBus(bus event.Bus) Option {
	return func(s *Session) { s.bus = bus }
}

// WithClasses registers the class paths that can be spawned on load.
func WithClasses(paths ...string) Option {
	return func(s *Session) { s.classPaths = append(s.classPaths, paths...) }
}

// New creates a session for w.
func New(w world.World, opts ...Option) (*Session, error) {
	if w == nil {
		return nil, ErrNoWorld
	}
	s := &Session{
		world:    w,
		settings: config.DefaultSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.settings.Validate(); err != nil {
		return nil, err
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observability.NoopMetrics{}
	}
	if s.spans == nil {
		s.spans = observability.NoopSpanManager{}
	}
	if s.sched == nil {
		s.sched = tick.New()
	}
	if s.backend == nil {
		b, err := store.Open(s.settings.Backend.Type, s.settings.Backend.Path)
		if err != nil {
			return nil, fmt.Errorf("open backend: %w", err)
		}
		s.backend = b
		s.ownsBackend = true
	}
	if s.bus == nil {
		s.bus = event.NewBus(event.DefaultBusConfig)
		s.ownsBus = true
	}

	s.adapter = store.NewAdapter(s.backend, s.settings.StoreOptions())
	s.agg = aggregate.New(s.settings.AggregateOptions())
	s.classes = registry.NewClasses()
	s.classes.Register(s.classPaths...)
	s.classes.RedirectMany(s.settings.ClassRedirects)
	s.pool = workers.New(s.settings.Workers, s.logger)
	s.cache = custom.NewCache()
	s.regions = stream.NewRegions()
	s.slot = store.SanitizeSlot(s.settings.DefaultSlot)

	s.logger.Debug("session created",
		slog.String("strategy", s.settings.Strategy.String()),
		slog.String("load_method", s.settings.LoadMethod.String()),
		slog.String("streaming", s.settings.Streaming.String()),
		slog.String("slot", s.slot),
	)
	return s, nil
}

// Tick advances every scheduled task by one step.
func (s *Session) Tick() {
	s.sched.Tick()
}

// Scheduler returns the scheduler that drives the session's tasks.
func (s *Session) Scheduler() *tick.Scheduler { return s.sched }

// Settings returns the session's settings.
func (s *Session) Settings() config.Settings { return s.settings }

// Events returns the bus task outcomes are published on.
func (s *Session) Events() event.Bus { return s.bus }

// Aggregator returns the session's multi-level state.
func (s *Session) Aggregator() *aggregate.Aggregator { return s.agg }

// RegisterClasses adds class paths that can be spawned on load.
func (s *Session) RegisterClasses(paths ...string) {
	s.classes.Register(paths...)
}

// RedirectClass maps a renamed class path onto its replacement.
func (s *Session) RedirectClass(from, to string) {
	s.classes.Redirect(from, to)
}

// Close invalidates the session. Tasks still scheduled end on their next
// tick without running callbacks. Close is safe to call more than once.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := s.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close workers: %w", err))
	}
	if s.ownsBus {
		if err := s.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	if s.ownsBackend {
		if err := s.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

func (s *Session) keys() (slot, user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot, s.user
}

func (s *Session) storeKeys() store.Keys {
	slot, user := s.keys()
	return store.Keys{User: user, Slot: slot}
}

// claim reserves scope for a save or load. It fails when an active task
// of the same kind overlaps scope.
func (s *Session) claim(kind string, scope Scope) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := &s.saving
	if kind == kindLoad {
		active = &s.loading
	}
	if active.Overlaps(scope) {
		return nil, conflict(kind, "%s task already active for scope %s", kind, *active)
	}
	*active |= scope
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			*active &^= scope
			s.mu.Unlock()
		})
	}, nil
}

// Busy reports whether any save, load or region load is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	busy := s.saving != 0 || s.loading != 0
	s.mu.Unlock()
	return busy || s.regions.Loading()
}

// ActiveSlot returns the slot saves and loads use.
func (s *Session) ActiveSlot() string {
	slot, _ := s.keys()
	return slot
}

// ActiveUser returns the user saves and loads are namespaced under.
func (s *Session) ActiveUser() string {
	_, user := s.keys()
	return user
}

// SetActiveSlot switches the active slot. Spaces and dots in name are
// replaced. Switching drops every in-memory multi-level archive.
func (s *Session) SetActiveSlot(name string) {
	slot := store.SanitizeSlot(name)
	s.mu.Lock()
	changed := slot != s.slot
	s.slot = slot
	s.mu.Unlock()
	if changed {
		s.Reset()
	}
}

// SetActiveUser switches the active user. Switching drops every in-memory
// multi-level archive and every cached custom object.
func (s *Session) SetActiveUser(name string) {
	user := store.SanitizeSlot(name)
	s.mu.Lock()
	changed := user != s.user
	s.user = user
	s.mu.Unlock()
	if changed {
		s.cache.Clear()
		s.Reset()
	}
}

// Reset drops the in-memory multi-level state, the saved records held for
// the active level and every pending destroyed or region record.
func (s *Session) Reset() {
	s.agg.Reset()
	s.regions.Reset()

	s.loadMu.Lock()
	s.held = nil
	s.loadMu.Unlock()

	s.saveMu.Lock()
	s.destroyed = nil
	s.saveMu.Unlock()
}

// ListSlots returns the active user's slots, newest first.
func (s *Session) ListSlots() ([]store.SlotInfo, error) {
	return s.adapter.ListSlots(s.storeKeys())
}

// SlotExists reports whether name has saved data for the active user.
func (s *Session) SlotExists(name string) bool {
	_, user := s.keys()
	return s.adapter.SlotExists(store.Keys{User: user, Slot: store.SanitizeSlot(name)})
}

// DeleteSlot removes every blob of a slot of the active user, including
// its slot-scoped custom objects.
func (s *Session) DeleteSlot(name string) error {
	slot := store.SanitizeSlot(name)
	active, user := s.keys()
	if err := s.adapter.DeleteSlot(store.Keys{User: user, Slot: slot}); err != nil {
		return err
	}
	s.cache.EvictSlot(slot)
	if slot == active {
		s.Reset()
	}
	s.logger.Info("slot deleted", slog.String("slot", slot))
	return nil
}

// NotifyDestroyed records that e was destroyed. A placed entity leaves a
// Destroyed record in the next level save so it stays gone on load.
func (s *Session) NotifyDestroyed(e world.Entity) {
	if e == nil || !e.Placed() || e.HasFlag(world.FlagSkipSave) || s.closed.Load() {
		return
	}
	rec := archive.DestroyedRecord(e.Name(), e.Level())
	s.saveMu.Lock()
	s.destroyed = archive.ReplaceOrInsert(s.destroyed, rec)
	s.saveMu.Unlock()
}

// keepDestroyed carries a Destroyed record applied by a load into the
// next level save.
func (s *Session) keepDestroyed(rec archive.EntityRecord) {
	s.saveMu.Lock()
	s.destroyed = archive.ReplaceOrInsert(s.destroyed, rec)
	s.saveMu.Unlock()
}

// takeDestroyedLocked returns and clears the pending destroyed records.
// The caller holds saveMu.
func (s *Session) takeDestroyedLocked() []archive.EntityRecord {
	out := s.destroyed
	s.destroyed = nil
	return out
}

// restage hands back records taken by a save whose level was not written.
// Records staged since then are newer and win.
func (s *Session) restage(regionRecs, destroyed []archive.EntityRecord) {
	if len(regionRecs) > 0 {
		s.regions.Restage(regionRecs)
	}
	if len(destroyed) == 0 {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	merged := slices.Clone(destroyed)
	for _, rec := range s.destroyed {
		merged = archive.ReplaceOrInsert(merged, rec)
	}
	s.destroyed = merged
}

func (s *Session) encoder() encoder {
	return encoder{
		version:    s.settings.SchemaVersion,
		tagObjects: s.settings.PerObjectVersionCheck,
		multiLevel: s.settings.Strategy.MultiLevel(),
	}
}

func (s *Session) decoder(vc codec.VersionContext) decoder {
	return decoder{
		version:    vc,
		tagObjects: s.settings.PerObjectVersionCheck,
		multiLevel: s.settings.Strategy.MultiLevel(),
	}
}

// setHeld keeps the level data of a load for later reuse.
func (s *Session) setHeld(h *heldLevel) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	s.held = h
}

// heldFor returns the held level data when it belongs to level.
func (s *Session) heldFor(level string) *heldLevel {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.held == nil || s.held.level != level {
		return nil
	}
	return s.held
}
