package stream

import (
	"cmp"
	"slices"

	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

// Prune returns the records that still matter for the entities reported
// live. A placed record whose identity is not live is dropped. Destroyed
// records are always kept so their entity is never brought back, and
// records outside the streaming categories pass through untouched.
//
// Pruning its own output again with the same live set changes nothing.
func Prune(records []archive.EntityRecord, live func(id string) bool) []archive.EntityRecord {
	keep := Keep(live)
	out := make([]archive.EntityRecord, 0, len(records))
	for _, rec := range records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Keep returns the predicate Prune filters with, for pruning a snapshot in
// place.
func Keep(live func(id string) bool) func(archive.EntityRecord) bool {
	return func(rec archive.EntityRecord) bool {
		return rec.Category != classify.Placed || live(rec.Identity())
	}
}

// Candidates returns the entities of a region that can receive saved
// state: live placed entities that are not skipped and not loaded yet.
func Candidates(entities []world.Entity) []world.Entity {
	var out []world.Entity
	for _, e := range entities {
		if !world.Valid(e) || classify.Classify(e) != classify.Placed {
			continue
		}
		if e.HasFlag(world.FlagLoaded) || e.HasFlag(world.FlagSkipSave) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// LiveSet returns a membership test over the identities of entities.
func LiveSet(entities []world.Entity) func(id string) bool {
	ids := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		ids[classify.Identity(e, classify.Placed)] = struct{}{}
	}
	return func(id string) bool {
		_, ok := ids[id]
		return ok
	}
}

// SortByDistance orders entities nearest to viewpoint first. Entities at
// equal distance keep their relative order.
func SortByDistance(entities []world.Entity, viewpoint world.Vector) {
	slices.SortStableFunc(entities, func(a, b world.Entity) int {
		return cmp.Compare(
			a.Transform().Location.DistanceSquared(viewpoint),
			b.Transform().Location.DistanceSquared(viewpoint),
		)
	})
}
