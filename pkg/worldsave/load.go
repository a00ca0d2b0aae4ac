package worldsave

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/worldsave/pkg/worldsave/aggregate"
	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
	"github.com/randalmurphal/worldsave/pkg/worldsave/observability"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

// LoadState is a step of the load workflow.
type LoadState uint32

const (
	LoadCreated LoadState = iota
	LoadWaitReady
	LoadPreLoad
	LoadPlayer
	LoadLevel
	LoadGameMode
	LoadScripts
	LoadPrepareEntities
	LoadEntities
	LoadFinish
	LoadCompleted
	LoadFailed
)

var loadStateNames = [...]string{
	LoadCreated:         "created",
	LoadWaitReady:       "wait_ready",
	LoadPreLoad:         "pre_load",
	LoadPlayer:          "load_player",
	LoadLevel:           "load_level",
	LoadGameMode:        "load_game_mode",
	LoadScripts:         "load_scripts",
	LoadPrepareEntities: "prepare_entities",
	LoadEntities:        "load_entities",
	LoadFinish:          "finish",
	LoadCompleted:       "completed",
	LoadFailed:          "failed",
}

// String returns the step name.
func (s LoadState) String() string {
	if int(s) < len(loadStateNames) {
		return loadStateNames[s]
	}
	return "unknown"
}

// LoadTask restores the player and/or level of the active slot. It
// advances one step per tick:
//
//	Created -> WaitReady -> PreLoad -> LoadPlayer -> LoadLevel -> LoadGameMode ->
//	LoadScripts -> PrepareEntities -> LoadEntities -> Finish -> Completed | Failed
//
// WaitReady holds until the world has a player controller and a game
// mode. The watchdog is armed when WaitReady is entered; a task that has
// not reached Finish by the configured load timeout fails with a
// WatchdogTimeout error. A step that fails skips ahead to Finish.
type LoadTask struct {
	*task
	fullReload bool
	state      atomic.Uint32
	armedAt    time.Time

	version   codec.VersionContext
	unpacked  aggregate.Unpacked
	haveLevel bool

	rec *reconciler
}

// Load starts a load of scope from the active slot. A full reload
// re-applies state to entities that were already loaded; otherwise placed
// entities flagged loaded are skipped. It is rejected with a TaskConflict
// error when a load overlapping scope is active or a level is still
// streaming in.
func (s *Session) Load(scope Scope, fullReload bool) (*LoadTask, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if scope&ScopeBoth == 0 {
		return nil, ErrScopeEmpty
	}
	if s.world.Streaming() {
		return nil, conflict(kindLoad, "a level is still streaming")
	}
	release, err := s.claim(kindLoad, scope)
	if err != nil {
		return nil, err
	}

	t := &LoadTask{task: newTask(s, kindLoad, scope), fullReload: fullReload}
	t.release = release
	s.sched.Add(t)
	return t, nil
}

// State returns the current step.
func (t *LoadTask) State() LoadState { return LoadState(t.state.Load()) }

func (t *LoadTask) to(next LoadState) {
	t.state.Store(uint32(next))
	if next != LoadCompleted && next != LoadFailed {
		t.enter(next.String())
	}
}

// then moves to next, or straight to Finish once a step has failed.
func (t *LoadTask) then(next LoadState) {
	if t.failed() {
		next = LoadFinish
	}
	t.to(next)
}

// Advance runs the current step. It implements tick.Task.
func (t *LoadTask) Advance() bool {
	if t.Done() {
		return true
	}
	if t.s.closed.Load() {
		t.abandon()
		return true
	}
	t.ticks++

	state := t.State()
	if state > LoadCreated && state < LoadFinish && t.expired(t.armedAt, t.s.settings.LoadTimeout) {
		observability.LogWatchdogExpired(t.logger, t.s.settings.LoadTimeout, state.String())
		t.fail(wserrors.WatchdogTimeout(kindLoad,
			fmt.Errorf("not finished after %s, stuck in %s", t.s.settings.LoadTimeout, state)))
		t.to(LoadFailed)
		t.finish()
		return true
	}

	switch state {
	case LoadCreated:
		t.begin()
		t.armedAt = t.s.sched.Now()
		t.to(LoadWaitReady)

	case LoadWaitReady:
		if !t.ready() {
			return false
		}
		t.to(LoadPreLoad)

	case LoadPreLoad:
		t.preLoad()
		if t.scope.Has(ScopePlayer) {
			t.then(LoadPlayer)
		} else {
			t.then(LoadLevel)
		}

	case LoadPlayer:
		t.loadPlayer()
		if t.scope.Has(ScopeLevel) {
			t.then(LoadLevel)
		} else {
			t.to(LoadFinish)
		}

	case LoadLevel:
		t.loadLevel()
		if t.haveLevel {
			t.then(LoadGameMode)
		} else {
			t.to(LoadFinish)
		}

	case LoadGameMode:
		t.loadGameMode()
		t.then(LoadScripts)

	case LoadScripts:
		t.loadScripts()
		t.then(LoadPrepareEntities)

	case LoadPrepareEntities:
		t.prepareEntities()
		t.then(LoadEntities)

	case LoadEntities:
		if !t.rec.step() {
			return false
		}
		t.to(LoadFinish)

	case LoadFinish:
		t.event("finish", attribute.Int("records", t.records))
		if t.failed() {
			t.to(LoadFailed)
		} else {
			t.to(LoadCompleted)
		}
		t.finish()
		return true

	default:
		return true
	}
	return false
}

func (t *LoadTask) ready() bool {
	w := t.s.world
	return world.Valid(w.PlayerController()) && world.Valid(w.GameMode())
}

// preLoad clears the loaded flag of everything in scope on a full reload
// so every entity takes its saved state again.
func (t *LoadTask) preLoad() {
	if !t.fullReload {
		return
	}
	s := t.s
	for _, e := range s.world.Entities() {
		if !world.Valid(e) {
			continue
		}
		c := classify.Classify(e)
		switch {
		case c == classify.PlayerPawn || c == classify.PlayerActor:
			if t.scope.Has(ScopePlayer) {
				e.ClearFlag(world.FlagLoaded)
			}
		case t.scope.Has(ScopeLevel):
			e.ClearFlag(world.FlagLoaded)
		}
	}
	if t.scope.Has(ScopeLevel) {
		s.agg.SetLoadFromMemory(false)
	}
}

// loadPlayer applies the player archive. A slot without a player blob
// leaves the player untouched.
func (t *LoadTask) loadPlayer() {
	s := t.s
	w := s.world
	keys := store.Keys{User: t.user, Slot: t.slot}

	var blob archive.PlayerBlob
	h, tr, err := s.adapter.Load(keys.Player(), func(r *codec.Reader) error {
		blob.Decode(r)
		return r.Err()
	})
	if errors.Is(err, store.ErrNoSave) {
		t.event("no player save")
		return
	}
	if err != nil {
		t.fail(err)
		return
	}
	t.checkTrailer(keys.Player(), tr)

	arch, ok := s.agg.UnpackPlayer(blob, t.level)
	if !ok {
		return
	}
	dec := s.decoder(codec.VersionContext{Schema: h.Schema, Legacy: s.settings.LegacySchemaVersion})

	ctrl := w.PlayerController()
	if err := dec.object(ctrl, &arch.Controller); err != nil {
		t.fail(err)
		return
	}
	if cr, ok := ctrl.(world.ControlRotator); ok && world.Valid(ctrl) {
		cr.SetControlRotation(arch.ControlRotation)
	}

	if pawn := w.PlayerPawn(); world.Valid(pawn) {
		if !arch.Pawn.Position.IsNearlyZero() && !pawn.HasFlag(world.FlagSkipTransform) {
			xf := pawn.Transform()
			xf.Location = arch.Pawn.Position
			xf.Rotation = arch.Pawn.Rotation
			pawn.SetTransform(xf)
		}
		if err := dec.object(pawn, &arch.Pawn.ObjectRecord); err != nil {
			t.fail(err)
			return
		}
		pawn.SetFlag(world.FlagLoaded)
	}

	if err := dec.object(w.PlayerState(), &arch.PlayerState); err != nil {
		t.fail(err)
	}
}

// loadLevel reads the level blob, or reuses the records held from the
// previous load of this level when that load came from disk.
func (t *LoadTask) loadLevel() {
	s := t.s
	if s.agg.LoadFromMemory() {
		if held := s.heldFor(t.level); held != nil {
			t.unpacked, t.version, t.haveLevel = held.unpacked, held.version, true
			t.event("level from memory")
			return
		}
	}

	keys := store.Keys{User: t.user, Slot: t.slot}
	var blob archive.LevelBlob
	h, tr, err := s.adapter.Load(keys.Level(), func(r *codec.Reader) error {
		blob.Decode(r)
		return r.Err()
	})
	s.agg.SetLoadFromMemory(err == nil)
	if errors.Is(err, store.ErrNoSave) {
		t.event("no level save")
		return
	}
	if err != nil {
		t.fail(err)
		return
	}
	t.checkTrailer(keys.Level(), tr)

	t.version = codec.VersionContext{Schema: h.Schema, Legacy: s.settings.LegacySchemaVersion}
	t.unpacked = s.agg.UnpackLevel(blob, t.level)
	t.haveLevel = true
	s.setHeld(&heldLevel{level: t.level, unpacked: t.unpacked, version: t.version})
}

// checkTrailer logs a blob written by another build. Decoding still goes
// ahead with the blob's own versions.
func (t *LoadTask) checkTrailer(key string, tr codec.Trailer) {
	if tr == (codec.Trailer{}) {
		return
	}
	err := store.CompareTrailers(map[string]codec.Trailer{key: tr}, t.s.adapter.Trailer())
	if err != nil {
		observability.LogVersionMismatch(t.logger, t.slot, err)
	}
}

func (t *LoadTask) loadGameMode() {
	w := t.s.world
	dec := t.s.decoder(t.version)
	if err := dec.object(w.GameMode(), t.unpacked.GameMode); err != nil {
		t.fail(err)
		return
	}
	if err := dec.object(w.GameState(), t.unpacked.GameState); err != nil {
		t.fail(err)
	}
}

func (t *LoadTask) loadScripts() {
	if len(t.unpacked.Scripts) == 0 {
		return
	}
	dec := t.s.decoder(t.version)
	for _, e := range t.s.world.Entities() {
		if !world.Valid(e) || classify.Classify(e) != classify.LevelScript {
			continue
		}
		for _, rec := range t.unpacked.Scripts {
			if rec.Name != e.Name() || (rec.Level != "" && rec.Level != e.Level()) {
				continue
			}
			if err := dec.script(e, rec); err != nil {
				t.fail(err)
				return
			}
			break
		}
	}
}

// prepareEntities collects the live entities that can take saved state.
func (t *LoadTask) prepareEntities() {
	var live []world.Entity
	for _, e := range t.s.world.Entities() {
		if !world.Valid(e) || e.HasFlag(world.FlagSkipSave) {
			continue
		}
		c := classify.Classify(e)
		if !classify.IsLevel(c, false) {
			continue
		}
		live = append(live, e)
	}
	t.rec = newReconciler(t.task, t.s.decoder(t.version), live, t.unpacked.Entities, true)
	t.rec.skipLoaded = !t.fullReload
	t.logger.Debug("entities prepared",
		slog.Int("live", len(live)),
		slog.Int("records", len(t.unpacked.Entities)),
	)
}
