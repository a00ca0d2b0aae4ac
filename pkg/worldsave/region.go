package worldsave

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
	"github.com/randalmurphal/worldsave/pkg/worldsave/stream"
	"github.com/randalmurphal/worldsave/pkg/worldsave/tick"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

// RegionState is a step of a region load.
type RegionState uint32

const (
	RegionCreated RegionState = iota
	RegionPrepare
	RegionApply
	RegionFinish
	RegionCompleted
	RegionFailed
)

// String returns the step name.
func (s RegionState) String() string {
	switch s {
	case RegionCreated:
		return "created"
	case RegionPrepare:
		return "prepare"
	case RegionApply:
		return "apply"
	case RegionFinish:
		return "finish"
	case RegionCompleted:
		return "completed"
	case RegionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RegionTask applies saved state to the entities of a region that became
// visible. Records are pruned against the live world first, and the
// region's entities are visited nearest to the viewpoint first. Unmatched
// records are never spawned.
type RegionTask struct {
	*task
	state    atomic.Uint32
	entities []world.Entity
	rec      *reconciler
}

// RegionVisible starts a region load for entities. Only one task per region
// may be in flight.
func (s *Session) RegionVisible(region string, entities []world.Entity) (*RegionTask, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if !s.settings.Streaming.Loads() {
		return nil, ErrStreamingDisabled
	}
	if !s.regions.Begin(region) {
		return nil, conflict(kindRegion, "region %s is already loading", region)
	}

	t := &RegionTask{task: newTask(s, kindRegion, ScopeLevel), entities: entities}
	t.region = region
	t.logger = t.logger.With(slog.String("region", region))
	t.release = func() { s.regions.End(region) }
	s.sched.Add(t)
	return t, nil
}

// State returns the current step.
func (t *RegionTask) State() RegionState { return RegionState(t.state.Load()) }

func (t *RegionTask) to(next RegionState) {
	t.state.Store(uint32(next))
	if next != RegionCompleted && next != RegionFailed {
		t.enter(next.String())
	}
}

// Advance runs the current step. It implements tick.Task.
func (t *RegionTask) Advance() bool {
	if t.Done() {
		return true
	}
	if t.s.closed.Load() {
		t.abandon()
		return true
	}
	t.ticks++

	switch t.State() {
	case RegionCreated:
		t.begin()
		t.to(RegionPrepare)

	case RegionPrepare:
		t.prepare()
		if t.failed() {
			t.to(RegionFinish)
		} else {
			t.to(RegionApply)
		}

	case RegionApply:
		if !t.rec.step() {
			return false
		}
		t.to(RegionFinish)

	case RegionFinish:
		t.event("finish", attribute.Int("records", t.records))
		if t.failed() {
			t.to(RegionFailed)
		} else {
			t.to(RegionCompleted)
		}
		t.finish()
		return true

	default:
		return true
	}
	return false
}

// prepare gathers the records that can apply to the region: the level data
// held from the last load (read from the slot when nothing is held), then
// the streaming snapshot, which is newer. Placed records whose entity is
// not live anywhere are pruned from both.
func (t *RegionTask) prepare() {
	s := t.s
	live := stream.LiveSet(s.world.Entities())

	var records []archive.EntityRecord
	vc := s.adapter.VersionContext()
	if held := s.heldFor(t.level); held != nil {
		records, vc = held.unpacked.Entities, held.version
	} else if s.settings.Streaming != stream.MemoryOnly {
		got, v, err := t.readLevel()
		if err != nil {
			t.fail(err)
			return
		}
		records, vc = got, v
	}

	if s.agg.Strategy().Streaming() {
		s.agg.WithSnapshot(func(ss *archive.StreamingSnapshot) {
			ss.Retain(stream.Keep(live))
		})
		records = append(records, s.agg.SnapshotRecords()...)
	}
	records = stream.Prune(records, live)

	candidates := stream.Candidates(t.entities)
	if vp, ok := s.world.Viewpoint(); ok {
		stream.SortByDistance(candidates, vp)
	}
	t.rec = newReconciler(t.task, s.decoder(vc), candidates, records, false)
	t.event("prepared",
		attribute.Int("candidates", len(candidates)),
		attribute.Int("records", len(records)),
	)
}

// readLevel loads the level records of the active slot. A slot without a
// level blob has no records.
func (t *RegionTask) readLevel() ([]archive.EntityRecord, codec.VersionContext, error) {
	s := t.s
	keys := store.Keys{User: t.user, Slot: t.slot}
	var blob archive.LevelBlob
	h, _, err := s.adapter.Load(keys.Level(), func(r *codec.Reader) error {
		blob.Decode(r)
		return r.Err()
	})
	if errors.Is(err, store.ErrNoSave) {
		return nil, s.adapter.VersionContext(), nil
	}
	if err != nil {
		return nil, codec.VersionContext{}, err
	}
	vc := codec.VersionContext{Schema: h.Schema, Legacy: s.settings.LegacySchemaVersion}
	unpacked := s.agg.UnpackLevel(blob, t.level)
	s.setHeld(&heldLevel{level: t.level, unpacked: unpacked, version: vc})
	return unpacked.Entities, vc, nil
}

// RegionHidden captures the state of a region's placed entities as it
// streams out. The records are buffered and written by one accumulated
// level save, scheduled to start once no task is in flight and no level
// is streaming. Nothing is captured while a region load is running, or
// when the streaming mode does not save.
func (s *Session) RegionHidden(region string, entities []world.Entity) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.settings.Streaming.Saves() || s.regions.Loading() {
		return nil
	}

	enc := s.encoder()
	var (
		records []archive.EntityRecord
		errs    []error
	)
	for _, e := range entities {
		if !world.Valid(e) || e.HasFlag(world.FlagSkipSave) || classify.Classify(e) != classify.Placed {
			continue
		}
		if ps, ok := e.(world.PreSaver); ok {
			ps.PreSave()
		}
		rec, err := enc.entity(capture(e, classify.Placed))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return errors.Join(errs...)
	}

	s.regions.Stage(records)
	s.logger.Debug("region captured",
		slog.String("region", region),
		slog.Int("records", len(records)),
	)
	if s.regions.RequestSave() {
		s.sched.Add(tick.TaskFunc(s.accumulatedSave))
	}
	return errors.Join(errs...)
}

// accumulatedSave is polled every tick until the level save for hidden
// regions could be started.
func (s *Session) accumulatedSave() bool {
	if s.closed.Load() {
		return true
	}
	if s.Busy() || s.world.Streaming() {
		return false
	}
	_, err := s.startSave(ScopeLevel, saveOptions{
		accumulated: true,
		memoryOnly:  s.settings.Streaming == stream.MemoryOnly,
	})
	if wserrors.IsTaskConflict(err) {
		return false
	}
	if err != nil {
		s.logger.Warn("accumulated save not started", slog.String("error", err.Error()))
		s.regions.SaveDone()
	}
	return true
}
