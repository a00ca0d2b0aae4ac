package worldsave

import (
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/worldsave/pkg/worldsave/aggregate"
	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
	"github.com/randalmurphal/worldsave/pkg/worldsave/observability"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
	"github.com/randalmurphal/worldsave/pkg/worldsave/workers"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

// SaveState is a step of the save workflow.
type SaveState uint32

const (
	SaveCreated SaveState = iota
	SaveSnapshotEntities
	SaveEncodePlayer
	SaveEncodeLevel
	SavePersist
	SaveCompleted
	SaveFailed
)

// String returns the step name.
func (s SaveState) String() string {
	switch s {
	case SaveCreated:
		return "created"
	case SaveSnapshotEntities:
		return "snapshot_entities"
	case SaveEncodePlayer:
		return "encode_player"
	case SaveEncodeLevel:
		return "encode_level"
	case SavePersist:
		return "persist"
	case SaveCompleted:
		return "completed"
	case SaveFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type saveOptions struct {
	// accumulated marks the level save scheduled after regions hid; it
	// writes slot info only when the slot has none yet.
	accumulated bool

	// memoryOnly updates the in-memory archives without writing blobs.
	memoryOnly bool
}

// SaveTask writes the player and/or level of the active slot. It advances
// one step per tick:
//
//	Created -> SnapshotEntities -> EncodePlayer -> EncodeLevel -> Persist -> Completed | Failed
//
// Steps outside the task's scope are skipped. With multithreaded saving
// the encode steps run on the worker pool and the task polls for them
// once per tick. A failed encode step still lets the other artifact be
// persisted; the task then ends Failed.
type SaveTask struct {
	*task
	opts  saveOptions
	state atomic.Uint32

	player    *capturedPlayer
	entities  []captured
	scripts   []captured
	gameMode  *captured
	gameState *captured
	extra     []archive.EntityRecord
	notify    []world.Entity

	// taken from the region buffer and the destroyed list; handed back
	// when the level is not written
	regionRecs    []archive.EntityRecord
	destroyedRecs []archive.EntityRecord

	job        *workers.Job
	playerBlob []byte
	levelBlob  []byte
	levelPass  *aggregate.LevelPass

	writes     []pendingWrite
	backoff    *wserrors.Backoff
	wrote      bool
	levelSaved bool
}

type pendingWrite struct {
	artifact string
	key      string
	blob     []byte
}

type capturedPlayer struct {
	controller      *captured
	controlRotation world.Rotator
	pawn            *captured
	position        world.Vector
	rotation        world.Rotator
	playerState     *captured
}

// Save starts a save of scope into the active slot. It is rejected with a
// TaskConflict error when a save overlapping scope is active or a level is
// still streaming in.
func (s *Session) Save(scope Scope) (*SaveTask, error) {
	return s.startSave(scope, saveOptions{})
}

func (s *Session) startSave(scope Scope, opts saveOptions) (*SaveTask, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if scope&ScopeBoth == 0 {
		return nil, ErrScopeEmpty
	}
	if s.world.Streaming() {
		return nil, conflict(kindSave, "a level is still streaming")
	}
	release, err := s.claim(kindSave, scope)
	if err != nil {
		return nil, err
	}

	t := &SaveTask{task: newTask(s, kindSave, scope), opts: opts}
	t.release = release
	if opts.accumulated {
		t.release = func() {
			release()
			s.regions.SaveDone()
		}
	}
	s.sched.Add(t)
	return t, nil
}

// State returns the current step.
func (t *SaveTask) State() SaveState { return SaveState(t.state.Load()) }

func (t *SaveTask) to(next SaveState) {
	t.state.Store(uint32(next))
	if next != SaveCompleted && next != SaveFailed {
		t.enter(next.String())
	}
}

// Advance runs the current step. It implements tick.Task.
func (t *SaveTask) Advance() bool {
	if t.Done() {
		return true
	}
	if t.s.closed.Load() {
		t.abandon()
		return true
	}
	t.ticks++

	switch t.State() {
	case SaveCreated:
		t.begin()
		t.to(SaveSnapshotEntities)

	case SaveSnapshotEntities:
		t.snapshot()
		t.to(t.afterSnapshot())

	case SaveEncodePlayer:
		if !t.runStep(t.encodePlayer) {
			return false
		}
		if t.scope.Has(ScopeLevel) {
			t.to(SaveEncodeLevel)
		} else {
			t.to(SavePersist)
		}

	case SaveEncodeLevel:
		if !t.runStep(t.encodeLevel) {
			return false
		}
		t.to(SavePersist)

	case SavePersist:
		if !t.persist() {
			return false
		}
		if t.failed() {
			t.to(SaveFailed)
		} else {
			t.to(SaveCompleted)
		}
		t.finish()
		return true

	default:
		return true
	}
	return false
}

func (t *SaveTask) afterSnapshot() SaveState {
	if t.scope.Has(ScopePlayer) {
		return SaveEncodePlayer
	}
	return SaveEncodeLevel
}

// runStep runs fn inline, or on the worker pool with multithreaded saving.
// It reports whether the step finished.
func (t *SaveTask) runStep(fn func() error) bool {
	if !t.s.settings.MultithreadedSaving {
		t.fail(fn())
		return true
	}
	if t.job == nil {
		t.job = t.s.pool.Submit(t.id+"/"+t.step, fn)
		return false
	}
	if !t.job.Done() {
		return false
	}
	t.fail(t.job.Err())
	t.job = nil
	return true
}

// snapshot walks the live entities once and copies the state of
// everything in scope. It runs on the owning goroutine.
func (t *SaveTask) snapshot() {
	s := t.s
	w := s.world

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	take := func(e world.Entity, c classify.Category) *captured {
		if !world.Valid(e) || e.HasFlag(world.FlagSkipSave) {
			return nil
		}
		if ps, ok := e.(world.PreSaver); ok {
			ps.PreSave()
		}
		out := capture(e, c)
		t.notify = append(t.notify, e)
		return &out
	}

	if t.scope.Has(ScopePlayer) {
		p := &capturedPlayer{}
		if ctrl := w.PlayerController(); world.Valid(ctrl) {
			p.controller = take(ctrl, classify.PlayerActor)
			if cr, ok := ctrl.(world.ControlRotator); ok {
				p.controlRotation = cr.ControlRotation()
			}
		}
		if pawn := w.PlayerPawn(); world.Valid(pawn) {
			p.pawn = take(pawn, classify.PlayerPawn)
			if !pawn.HasFlag(world.FlagSkipTransform) {
				tr := pawn.Transform()
				p.position, p.rotation = tr.Location, tr.Rotation
			}
		}
		p.playerState = take(w.PlayerState(), classify.PlayerActor)
		t.player = p
	}

	if t.scope.Has(ScopeLevel) {
		for _, e := range w.Entities() {
			c := classify.Classify(e)
			switch c {
			case classify.PlayerPawn, classify.PlayerActor:
				continue
			}
			got := take(e, c)
			if got == nil {
				continue
			}
			e.SetFlag(world.FlagLoaded)

			switch {
			case c == classify.GameObject && e.Role() == world.RoleGameMode:
				t.gameMode = got
			case c == classify.GameObject:
				t.gameState = got
			case c == classify.LevelScript:
				t.scripts = append(t.scripts, *got)
			default:
				t.entities = append(t.entities, *got)
			}
		}

		// Region records captured at hide time, then runtime
		// destructions, override live state with the same identity.
		t.regionRecs = s.regions.Drain()
		t.destroyedRecs = s.takeDestroyedLocked()
		t.extra = append(t.extra, t.regionRecs...)
		t.extra = append(t.extra, t.destroyedRecs...)
	}

	t.records = len(t.entities) + len(t.scripts) + len(t.extra)
	t.event("snapshot", attribute.Int("records", t.records))
}

// encodePlayer builds and encodes the player blob. Safe on a worker.
func (t *SaveTask) encodePlayer() error {
	enc := t.s.encoder()
	p := t.player

	arch := archive.PlayerArchive{Level: t.level, ControlRotation: p.controlRotation}
	if rec, err := enc.object(p.controller); err != nil {
		return err
	} else if rec != nil {
		arch.Controller = *rec
	}
	if rec, err := enc.object(p.pawn); err != nil {
		return err
	} else if rec != nil {
		arch.Pawn.ObjectRecord = *rec
	}
	arch.Pawn.Position = p.position
	arch.Pawn.Rotation = p.rotation
	if rec, err := enc.object(p.playerState); err != nil {
		return err
	} else if rec != nil {
		arch.PlayerState = *rec
	}

	blob := t.s.agg.BuildPlayer(arch)
	b, err := t.s.adapter.Encode(func(w *codec.Writer) error {
		blob.Encode(w)
		return w.Err()
	})
	if err != nil {
		return err
	}
	t.playerBlob = b
	return nil
}

// encodeLevel builds and encodes the level blob. Safe on a worker.
func (t *SaveTask) encodeLevel() error {
	enc := t.s.encoder()
	pass := aggregate.LevelPass{Level: t.level}

	for _, c := range t.entities {
		rec, err := enc.entity(c)
		if err != nil {
			return err
		}
		pass.Entities = append(pass.Entities, rec)
	}
	pass.Entities = append(pass.Entities, t.extra...)
	for _, c := range t.scripts {
		rec, err := enc.script(c)
		if err != nil {
			return err
		}
		pass.Scripts = append(pass.Scripts, rec)
	}
	var err error
	if pass.GameMode, err = enc.object(t.gameMode); err != nil {
		return err
	}
	if pass.GameState, err = enc.object(t.gameState); err != nil {
		return err
	}

	blob := t.s.agg.BuildLevel(pass)
	t.levelPass = &pass
	if t.opts.memoryOnly {
		return nil
	}
	b, err := t.s.adapter.Encode(func(w *codec.Writer) error {
		blob.Encode(w)
		return w.Err()
	})
	if err != nil {
		return err
	}
	t.levelBlob = b
	return nil
}

// persist writes the encoded blobs, one attempt per tick, and then the
// slot info. A transient write failure is retried on a later tick once
// its backoff has elapsed. It reports whether the step finished.
func (t *SaveTask) persist() bool {
	s := t.s
	keys := store.Keys{User: t.user, Slot: t.slot}

	if t.backoff == nil {
		t.backoff = wserrors.NewBackoff(wserrors.StoreRetry)
		if t.playerBlob != nil {
			t.writes = append(t.writes, pendingWrite{artifact: "player", key: keys.Player(), blob: t.playerBlob})
		}
		if t.levelBlob != nil {
			t.writes = append(t.writes, pendingWrite{artifact: "level", key: keys.Level(), blob: t.levelBlob})
		}
	}
	for len(t.writes) > 0 {
		if !t.backoff.Ready(s.sched.Now()) {
			return false
		}
		w := t.writes[0]
		if err := s.adapter.Put(w.key, w.blob); err != nil {
			if t.backoff.Failed(s.sched.Now(), err) {
				t.event("write retry", attribute.String("key", w.key), attribute.Int("attempt", t.backoff.Attempts()))
				return false
			}
			t.fail(err)
		} else {
			s.metrics.RecordBlob(t.ctx, w.artifact, int64(len(w.blob)))
			observability.LogBlobWritten(t.logger, w.key, len(w.blob))
			t.wrote = true
			t.levelSaved = t.levelSaved || w.artifact == "level"
		}
		t.backoff.Reset()
		t.writes = t.writes[1:]
	}

	wrote, levelSaved := t.wrote, t.levelSaved
	if t.scope.Has(ScopeLevel) && !levelSaved && !(t.opts.memoryOnly && t.levelPass != nil) {
		s.restage(t.regionRecs, t.destroyedRecs)
	}

	if t.levelPass != nil && (levelSaved || t.opts.memoryOnly) {
		s.setHeld(&heldLevel{
			level:    t.level,
			unpacked: aggregate.Unpacked{Entities: t.levelPass.Entities, Scripts: t.levelPass.Scripts, GameMode: t.levelPass.GameMode, GameState: t.levelPass.GameState},
			version:  s.adapter.VersionContext(),
		})
		s.agg.SetLoadFromMemory(true)
	}

	if wrote && !(t.opts.accumulated && s.adapter.Exists(keys.SlotInfo())) {
		info := store.SlotInfo{
			Name:      t.slot,
			Timestamp: s.sched.Now().UTC(),
			Level:     t.level,
			Players:   s.world.PlayerNames(),
		}
		if err := s.adapter.WriteSlotInfo(keys, info); err != nil {
			t.fail(err)
		}
	}

	for _, e := range t.notify {
		if sn, ok := e.(world.SaveNotifier); ok && world.Valid(e) {
			sn.Saved()
		}
	}
	return true
}
