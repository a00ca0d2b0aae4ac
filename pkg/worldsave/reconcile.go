package worldsave

import (
	"fmt"

	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/config"
	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
	"github.com/randalmurphal/worldsave/pkg/worldsave/observability"
	"github.com/randalmurphal/worldsave/pkg/worldsave/stream"
	"github.com/randalmurphal/worldsave/pkg/worldsave/workers"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

// reconciler applies the pending records of one pass to live entities.
//
// Each live entity takes the record with its identity out of the index.
// Records left over once every entity was visited are spawned when their
// category is respawnable and dropped otherwise. Sync delivery does the
// whole pass in one call, deferred delivery a batch per call, and
// multithreaded delivery matches on a worker and posts every apply back
// to the owner.
type reconciler struct {
	t      *task
	dec    decoder
	method config.LoadMethod
	batch  int
	spawn  bool

	// skipLoaded consumes the record of an entity already flagged loaded
	// without applying it.
	skipLoaded bool

	live  []world.Entity
	index *stream.Index

	// deferred cursor over live, then over leftovers
	pos       int
	leftovers []archive.EntityRecord
	matched   bool

	job       *workers.Job
	delivered bool
}

func newReconciler(t *task, dec decoder, live []world.Entity, records []archive.EntityRecord, spawn bool) *reconciler {
	s := t.s
	return &reconciler{
		t:      t,
		dec:    dec,
		method: s.settings.LoadMethod,
		batch:  s.settings.DeferredBatchSize,
		spawn:  spawn,
		live:   live,
		index:  stream.NewIndex(records),
	}
}

// step advances the pass and reports whether it is complete.
func (r *reconciler) step() bool {
	switch r.method {
	case config.LoadMultithreaded:
		return r.stepWorker()
	case config.LoadDeferred:
		return r.stepDeferred()
	default:
		for _, e := range r.live {
			r.match(e, stream.Owner)
		}
		for _, rec := range r.index.Pending() {
			r.leftover(rec)
		}
		return true
	}
}

func (r *reconciler) stepDeferred() bool {
	n := 0
	for ; n < r.batch && r.pos < len(r.live); n++ {
		r.match(r.live[r.pos], stream.Owner)
		r.pos++
	}
	if r.pos < len(r.live) {
		return false
	}
	if !r.matched {
		r.matched = true
		r.leftovers = r.index.Pending()
		r.pos = 0
	}
	for ; n < r.batch && r.pos < len(r.leftovers); n++ {
		r.leftover(r.leftovers[r.pos])
		r.pos++
	}
	return r.pos >= len(r.leftovers)
}

// stepWorker submits the matching pass once, then waits until the job has
// finished and every apply it posted has run on the owner.
func (r *reconciler) stepWorker() bool {
	s := r.t.s
	if r.job == nil {
		live := r.live
		r.job = s.pool.Submit(r.t.id+"/match", func() error {
			for _, e := range live {
				if !world.Valid(e) {
					continue
				}
				id := classify.Identity(e, classify.Classify(e))
				rec, ok := r.index.Take(id, stream.Worker)
				if !ok {
					continue
				}
				s.sched.Post(func() { r.apply(e, rec) })
			}
			for _, rec := range r.index.Pending() {
				s.sched.Post(func() { r.leftover(rec) })
			}
			s.sched.Post(func() { r.delivered = true })
			return nil
		})
		return false
	}
	if !r.delivered || !r.job.Done() {
		return false
	}
	r.t.fail(r.job.Err())
	return true
}

// match looks up and applies the record of e.
func (r *reconciler) match(e world.Entity, ctx stream.ExecContext) {
	if !world.Valid(e) {
		return
	}
	rec, ok := r.index.Take(classify.Identity(e, classify.Classify(e)), ctx)
	if !ok {
		return
	}
	r.apply(e, rec)
}

// apply runs on the owner. A Destroyed record removes its entity when
// auto-destroy is on; any other record restores e.
func (r *reconciler) apply(e world.Entity, rec archive.EntityRecord) {
	if r.t.failed() || r.t.s.closed.Load() || !world.Valid(e) {
		return
	}
	s := r.t.s
	if r.skipLoaded && e.HasFlag(world.FlagLoaded) {
		if rec.Category == classify.Destroyed {
			s.keepDestroyed(rec)
		}
		return
	}
	if rec.Category == classify.Destroyed {
		if s.settings.AutoDestroy {
			s.world.Destroy(e)
			s.keepDestroyed(rec)
		}
		return
	}
	if err := r.dec.entity(e, rec); err != nil {
		r.t.fail(err)
		return
	}
	r.t.records++
}

// leftover runs on the owner for a record no live entity claimed.
func (r *reconciler) leftover(rec archive.EntityRecord) {
	if !r.spawn || r.t.failed() || r.t.s.closed.Load() {
		return
	}
	if rec.Category == classify.Destroyed {
		r.t.s.keepDestroyed(rec)
		return
	}
	if !classify.IsRespawnable(rec.Category) {
		return
	}

	s := r.t.s
	e, err := r.respawn(rec)
	if err != nil {
		observability.LogSpawnFailure(r.t.logger, rec.Identity(), rec.Class, err)
		s.metrics.RecordSpawnFailure(r.t.ctx, rec.Class)
		return
	}
	if err := r.dec.entity(e, rec); err != nil {
		r.t.fail(err)
		return
	}
	r.t.records++
}

func (r *reconciler) respawn(rec archive.EntityRecord) (world.Entity, error) {
	s := r.t.s
	class, err := s.classes.Resolve(rec.Class)
	if err != nil {
		return nil, wserrors.SpawnFailure(rec.Identity(), err)
	}
	var tr world.Transform
	if rec.Transform != nil {
		tr = *rec.Transform
	}
	e, err := s.world.Spawn(class, rec.Name, tr)
	if err != nil {
		return nil, wserrors.SpawnFailure(rec.Identity(), err)
	}
	if !world.Valid(e) {
		return nil, wserrors.SpawnFailure(rec.Identity(), fmt.Errorf("spawned %s is not alive", class))
	}
	return e, nil
}
