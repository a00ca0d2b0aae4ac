// Package world defines the contract between the persistence engine and the
// simulation it saves, plus an arena-backed reference simulation.
package world

import (
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
)

// Flags are per-entity metadata bits consumed by the engine.
type Flags uint32

const (
	// FlagSkipSave excludes an entity from every save pass.
	FlagSkipSave Flags = 1 << iota

	// FlagPersistent marks an entity loaded independent of the active level.
	FlagPersistent

	// FlagSkipTransform prevents transforms from being saved or applied.
	FlagSkipTransform

	// FlagLoaded marks an entity whose saved state was already applied, or
	// that was just saved, so the next non-full load skips it.
	FlagLoaded
)

// Role identifies the special simulation objects the classifier looks for.
type Role uint8

const (
	// RoleNone is a regular entity.
	RoleNone Role = iota
	// RolePawn is a character that can be possessed by a player.
	RolePawn
	// RoleController is the player controller.
	RoleController
	// RolePlayerState is the per-player replicated state object.
	RolePlayerState
	// RoleLevelScript is a level's script object.
	RoleLevelScript
	// RoleGameMode is the game-mode singleton.
	RoleGameMode
	// RoleGameState is the game-state singleton.
	RoleGameState
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RolePawn:
		return "pawn"
	case RoleController:
		return "controller"
	case RolePlayerState:
		return "player_state"
	case RoleLevelScript:
		return "level_script"
	case RoleGameMode:
		return "game_mode"
	case RoleGameState:
		return "game_state"
	default:
		return "unknown"
	}
}

// Object is anything with persisted state described by a schema.
type Object interface {
	// Schema returns the compiled schema of the object's persisted fields.
	// A nil schema means the object has no persisted fields.
	Schema() *codec.Schema

	// Snapshot returns the current persisted field values.
	Snapshot() codec.State

	// Restore applies decoded field values.
	Restore(codec.State)
}

// Entity is a live simulation object the engine can save and restore.
//
// Name, Level, Class, Role, PlayerControlled and Placed must not change for
// the life of the entity and are read from worker goroutines. Flags must be
// safe for concurrent access. Everything else is only called on the
// goroutine that owns the simulation.
type Entity interface {
	Object

	Handle() Handle
	Alive() bool

	Name() string
	Level() string
	Class() string
	Role() Role
	PlayerControlled() bool

	// Placed reports whether the entity was part of the level's authored
	// content rather than spawned at runtime.
	Placed() bool

	HasFlag(f Flags) bool
	SetFlag(f Flags)
	ClearFlag(f Flags)

	// Movable reports whether the entity accepts transform changes.
	Movable() bool

	// Attached reports whether the entity follows a parent's transform.
	Attached() bool

	Transform() Transform
	SetTransform(t Transform)

	Components() []Component
}

// Component is a named sub-object owned by an entity.
type Component interface {
	Object

	Name() string

	// Movable reports whether the component has its own relative transform.
	Movable() bool

	RelativeTransform() Transform
	SetRelativeTransform(t Transform)
}

// PreSaver is implemented by objects that prepare state before a snapshot.
type PreSaver interface {
	PreSave()
}

// SaveNotifier is implemented by objects that want to know their state
// was captured.
type SaveNotifier interface {
	Saved()
}

// PostLoader is implemented by objects that react to restored state.
type PostLoader interface {
	Loaded()
}

// ControlRotator is implemented by player controllers.
type ControlRotator interface {
	ControlRotation() Rotator
	SetControlRotation(r Rotator)
}

// World is the simulation the engine saves from and restores into.
// All methods are called on the owning goroutine.
type World interface {
	// Level returns the identifier of the active level.
	Level() string

	// Entities returns every live entity.
	Entities() []Entity

	PlayerController() Entity
	PlayerPawn() Entity
	PlayerState() Entity
	GameMode() Entity
	GameState() Entity

	// Spawn creates a runtime entity of a registered class.
	Spawn(class, name string, t Transform) (Entity, error)

	// Destroy removes an entity from the world.
	Destroy(e Entity)

	// Viewpoint returns the primary camera location, if there is one.
	Viewpoint() (Vector, bool)

	// PlayerNames returns the display names of the connected players.
	PlayerNames() []string

	// Streaming reports whether any level is still loading in.
	Streaming() bool
}

// Valid reports whether e refers to a live entity.
func Valid(e Entity) bool {
	return e != nil && e.Alive()
}
