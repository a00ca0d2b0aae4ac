// Package aggregate combines per-level save passes into the blobs written
// for each multi-level strategy, and splits loaded blobs back into the
// records that apply to the active level.
package aggregate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
)

// Strategy selects how data from several levels is kept.
type Strategy uint8

const (
	// Disabled saves only the active level.
	Disabled Strategy = iota
	// Stacked keeps one archive per visited level in a stack.
	Stacked
	// Streamed keeps a running snapshot of placed and destroyed records.
	Streamed
	// Full folds the streaming snapshot into each stacked archive.
	Full
)

// String returns the strategy name used in configuration.
func (s Strategy) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Stacked:
		return "stacked"
	case Streamed:
		return "streamed"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a configuration value.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled", "none":
		return Disabled, nil
	case "stacked", "stack":
		return Stacked, nil
	case "streamed", "stream":
		return Streamed, nil
	case "full":
		return Full, nil
	default:
		return Disabled, fmt.Errorf("unknown multi-level strategy %q", s)
	}
}

// Stacking reports whether level archives are kept in a stack.
func (s Strategy) Stacking() bool { return s == Stacked || s == Full }

// Streaming reports whether the streaming snapshot is maintained.
func (s Strategy) Streaming() bool { return s == Streamed || s == Full }

// MultiLevel reports whether archives can outlive the level they were
// saved on.
func (s Strategy) MultiLevel() bool { return s != Disabled }

// Options configure an Aggregator.
type Options struct {
	Strategy Strategy

	// PersistentGameMode applies a non-stacked game mode and game state
	// even when they were saved on another level.
	PersistentGameMode bool

	// PersistentPlayer applies a non-stacked player archive even when it
	// was saved on another level.
	PersistentPlayer bool
}

// LevelPass is the output of one level save pass.
type LevelPass struct {
	Level     string
	Entities  []archive.EntityRecord
	Scripts   []archive.ScriptRecord
	GameMode  *archive.ObjectRecord
	GameState *archive.ObjectRecord
}

// Unpacked holds the records of a loaded level blob that apply to the
// active level.
type Unpacked struct {
	Entities  []archive.EntityRecord
	Scripts   []archive.ScriptRecord
	GameMode  *archive.ObjectRecord
	GameState *archive.ObjectRecord
}

// Empty reports whether nothing applies.
func (u *Unpacked) Empty() bool {
	return len(u.Entities) == 0 && len(u.Scripts) == 0 && u.GameMode.Empty() && u.GameState.Empty()
}

// Aggregator holds the in-memory multi-level state of one session.
// It is safe for concurrent use.
type Aggregator struct {
	mu   sync.Mutex
	opts Options

	levels    []archive.LevelArchive
	player    archive.PlayerStack
	hasPlayer bool
	snapshot  *archive.StreamingSnapshot

	fromMemory bool
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	return &Aggregator{opts: opts, snapshot: archive.NewStreamingSnapshot()}
}

// Strategy returns the configured strategy.
func (a *Aggregator) Strategy() Strategy { return a.opts.Strategy }

// BuildLevel merges a save pass into the in-memory state and returns the
// blob body to write.
func (a *Aggregator) BuildLevel(p LevelPass) archive.LevelBlob {
	a.mu.Lock()
	defer a.mu.Unlock()

	strategy := a.opts.Strategy
	current := archive.LevelArchive{
		Level:   p.Level,
		Scripts: append([]archive.ScriptRecord(nil), p.Scripts...),
	}
	persistent := archive.LevelArchive{Level: archive.PersistentLevel}

	for _, rec := range p.Entities {
		if rec.Category == classify.Persistent && strategy.Stacking() {
			persistent.PutEntity(rec)
			continue
		}
		current.PutEntity(rec)
	}

	// A stack keeps a single game mode and game state for every level.
	if !strategy.Stacking() {
		current.GameMode = p.GameMode
		current.GameState = p.GameState
	}

	if strategy.Streaming() {
		a.snapshot.Absorb(current)
		a.snapshot.FoldInto(&current)
	}

	if !strategy.Stacking() {
		return archive.LevelBlob{Single: &current}
	}

	a.levels = archive.ReplaceOrInsert(a.levels, current)
	stack := &archive.LevelStack{
		Archives:   cloneLevels(a.levels),
		Persistent: persistent,
		GameMode:   p.GameMode,
		GameState:  p.GameState,
	}
	return archive.LevelBlob{Stack: stack}
}

// BuildPlayer merges a player archive into the in-memory state and returns
// the blob body to write.
func (a *Aggregator) BuildPlayer(p archive.PlayerArchive) archive.PlayerBlob {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.opts.Strategy.Stacking() {
		return archive.PlayerBlob{Single: &p}
	}

	a.player.Put(p)
	a.hasPlayer = true
	stack := &archive.PlayerStack{
		Player:    a.player.Player,
		Positions: append([]archive.LevelPosition(nil), a.player.Positions...),
	}
	return archive.PlayerBlob{Stack: stack}
}

// UnpackLevel returns the records of blob that apply to level.
//
// A stack seeds the in-memory list when that list is empty, so a session
// that starts by loading continues the saved stack. When streaming, the
// snapshot absorbs the archive saved for level.
func (a *Aggregator) UnpackLevel(blob archive.LevelBlob, level string) Unpacked {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out Unpacked
	switch {
	case blob.Stack != nil:
		if len(a.levels) == 0 && a.opts.Strategy.Stacking() {
			a.levels = cloneLevels(blob.Stack.Archives)
		}
		for _, arch := range blob.Stack.Archives {
			if arch.Level != level {
				continue
			}
			if a.opts.Strategy == Full {
				a.snapshot.Absorb(arch)
			}
			unpackInto(&out, arch, level)
		}
		unpackInto(&out, blob.Stack.Persistent, level)
		out.GameMode = blob.Stack.GameMode
		out.GameState = blob.Stack.GameState

	case blob.Single != nil:
		arch := *blob.Single
		if a.opts.Strategy.Streaming() && arch.Level == level {
			a.snapshot.Absorb(arch)
		}
		unpackInto(&out, arch, level)
		if arch.Level == level || a.opts.PersistentGameMode {
			out.GameMode = arch.GameMode
			out.GameState = arch.GameState
		}
	}
	return out
}

// unpackInto appends the entities of arch that apply to level. Persistent
// records apply everywhere; scripts only apply to their own level.
func unpackInto(out *Unpacked, arch archive.LevelArchive, level string) {
	for _, rec := range arch.Entities {
		if rec.Category == classify.Persistent || arch.Level == level {
			out.Entities = append(out.Entities, rec)
		}
	}
	if arch.Level == level {
		out.Scripts = append(out.Scripts, arch.Scripts...)
	}
}

// UnpackPlayer returns the player archive of blob to apply on level.
// It reports false when the archive does not apply.
func (a *Aggregator) UnpackPlayer(blob archive.PlayerBlob, level string) (archive.PlayerArchive, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case blob.Stack != nil:
		if !a.hasPlayer && a.opts.Strategy.Stacking() {
			a.player = archive.PlayerStack{
				Player:    blob.Stack.Player,
				Positions: append([]archive.LevelPosition(nil), blob.Stack.Positions...),
			}
			a.hasPlayer = true
		}
		return blob.Stack.Resolve(level), true

	case blob.Single != nil:
		if blob.Single.Level == level || a.opts.PersistentPlayer {
			return *blob.Single, true
		}
	}
	return archive.PlayerArchive{}, false
}

// Levels returns a copy of the in-memory level stack.
func (a *Aggregator) Levels() []archive.LevelArchive {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneLevels(a.levels)
}

// WithSnapshot runs fn with exclusive access to the streaming snapshot.
func (a *Aggregator) WithSnapshot(fn func(*archive.StreamingSnapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.snapshot)
}

// SnapshotRecords returns a copy of the streaming snapshot's records.
func (a *Aggregator) SnapshotRecords() []archive.EntityRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot.Records()
}

// SetLoadFromMemory records whether the next level load may reuse the
// records already held in memory instead of reading the blob again.
func (a *Aggregator) SetLoadFromMemory(ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fromMemory = ok
}

// LoadFromMemory reports whether the next level load may skip the blob read.
func (a *Aggregator) LoadFromMemory() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fromMemory
}

// Reset drops every in-memory archive. It is called when the active slot
// or user changes.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.levels = nil
	a.player = archive.PlayerStack{}
	a.hasPlayer = false
	a.snapshot.Reset()
	a.fromMemory = false
}

func cloneLevels(in []archive.LevelArchive) []archive.LevelArchive {
	if in == nil {
		return nil
	}
	out := make([]archive.LevelArchive, len(in))
	for i, l := range in {
		out[i] = l.Clone()
	}
	return out
}
