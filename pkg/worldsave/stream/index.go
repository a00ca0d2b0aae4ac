// Package stream matches saved entity records against the entities of an
// open-world region as it streams in, and buffers region state as it
// streams out.
package stream

import (
	"sync"

	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
)

// ExecContext names the goroutine an Index lookup runs on.
type ExecContext uint8

const (
	// Owner is the goroutine that owns the simulation. Lookups use the
	// identity map.
	Owner ExecContext = iota

	// Worker is any pool goroutine. Lookups scan the record list and never
	// touch the identity map.
	Worker
)

// String returns the context name.
func (c ExecContext) String() string {
	if c == Worker {
		return "worker"
	}
	return "owner"
}

// Index is the pending set of saved records for one load pass.
//
// The identity map is only read and written from the Owner context. Worker
// lookups do a linear scan over the record list instead, which is slower
// but never races with the owner mutating the map. Every method holds the
// Index's mutex for the list itself.
type Index struct {
	mu      sync.Mutex
	records []archive.EntityRecord
	taken   []bool
	byID    map[string]int
	left    int
}

// NewIndex builds an index over records. Later duplicates of an identity
// shadow earlier ones in Owner lookups.
func NewIndex(records []archive.EntityRecord) *Index {
	idx := &Index{
		records: append([]archive.EntityRecord(nil), records...),
		taken:   make([]bool, len(records)),
		byID:    make(map[string]int, len(records)),
		left:    len(records),
	}
	for i, rec := range idx.records {
		idx.byID[rec.Identity()] = i
	}
	return idx
}

// Find returns the pending record with identity id.
func (x *Index) Find(id string, ctx ExecContext) (archive.EntityRecord, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	i, ok := x.lookup(id, ctx)
	if !ok {
		return archive.EntityRecord{}, false
	}
	return x.records[i], true
}

// Take finds the record with identity id and removes it from the pending
// set.
func (x *Index) Take(id string, ctx ExecContext) (archive.EntityRecord, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	i, ok := x.lookup(id, ctx)
	if !ok {
		return archive.EntityRecord{}, false
	}
	x.taken[i] = true
	x.left--
	if ctx == Owner {
		delete(x.byID, id)
	}
	return x.records[i], true
}

func (x *Index) lookup(id string, ctx ExecContext) (int, bool) {
	if ctx == Owner {
		i, ok := x.byID[id]
		if !ok || x.taken[i] {
			return 0, false
		}
		return i, true
	}

	for i := len(x.records) - 1; i >= 0; i-- {
		if !x.taken[i] && x.records[i].Identity() == id {
			return i, true
		}
	}
	return 0, false
}

// Len returns the number of pending records.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.left
}

// Pending returns the records not taken yet, in their original order.
func (x *Index) Pending() []archive.EntityRecord {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := make([]archive.EntityRecord, 0, x.left)
	for i, rec := range x.records {
		if !x.taken[i] {
			out = append(out, rec)
		}
	}
	return out
}
