package stream

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
)

// Mode selects how regions are handled as they stream in and out.
type Mode uint8

const (
	// Disabled ignores region visibility changes.
	Disabled Mode = iota
	// Enabled loads regions as they appear and saves them as they disappear.
	Enabled
	// LoadOnly loads regions as they appear but never saves on hide.
	LoadOnly
	// MemoryOnly saves hidden regions into memory without writing a blob.
	MemoryOnly
)

// String returns the mode name used in configuration.
func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	case LoadOnly:
		return "load_only"
	case MemoryOnly:
		return "memory_only"
	default:
		return "unknown"
	}
}

// ParseMode parses a configuration value.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled", "off":
		return Disabled, nil
	case "enabled", "on":
		return Enabled, nil
	case "load_only":
		return LoadOnly, nil
	case "memory_only":
		return MemoryOnly, nil
	default:
		return Disabled, fmt.Errorf("unknown streaming mode %q", s)
	}
}

// Loads reports whether visible regions are loaded.
func (m Mode) Loads() bool { return m != Disabled }

// Saves reports whether hidden regions are captured.
func (m Mode) Saves() bool { return m == Enabled || m == MemoryOnly }

// Regions tracks region load tasks in flight and the records captured from
// regions that were hidden but not yet saved. It is safe for concurrent use.
type Regions struct {
	mu      sync.Mutex
	active  map[string]struct{}
	delta   []archive.EntityRecord
	pending bool
}

// NewRegions returns empty bookkeeping.
func NewRegions() *Regions {
	return &Regions{active: make(map[string]struct{})}
}

// Begin marks region as loading. It reports false if a task for region is
// already in flight.
func (r *Regions) Begin(region string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[region]; ok {
		return false
	}
	r.active[region] = struct{}{}
	return true
}

// End clears the in-flight mark of region.
func (r *Regions) End(region string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, region)
}

// Loading reports whether any region task is in flight.
func (r *Regions) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active) > 0
}

// Stage appends captured records to the delta buffer.
func (r *Regions) Stage(records []archive.EntityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delta = append(r.delta, records...)
}

// Drain returns the delta buffer and empties it.
func (r *Regions) Drain() []archive.EntityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.delta
	r.delta = nil
	return out
}

// Restage puts records back at the front of the delta buffer, ahead of
// anything staged since they were drained.
func (r *Regions) Restage(records []archive.EntityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delta = append(slices.Clone(records), r.delta...)
}

// Staged returns the number of buffered records.
func (r *Regions) Staged() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delta)
}

// RequestSave marks an accumulated save as wanted. It reports true only for
// the first request since the last SaveDone, so one save is scheduled per
// batch of hidden regions.
func (r *Regions) RequestSave() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending {
		return false
	}
	r.pending = true
	return true
}

// SaveDone clears the accumulated save request.
func (r *Regions) SaveDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = false
}

// Reset drops every mark and buffered record.
func (r *Regions) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.active)
	r.delta = nil
	r.pending = false
}
