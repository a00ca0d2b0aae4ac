// Package classify assigns persistence categories to live entities.
package classify

import (
	"strings"

	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

// Category decides how an entity is saved, matched and restored.
// Values are stored in archives and must not be renumbered.
type Category uint8

const (
	// Placed entities were part of the level's authored content.
	Placed Category = iota
	// Runtime entities were spawned while playing.
	Runtime
	// Persistent entities are loaded regardless of the active level.
	Persistent
	// PlayerPawn is the player-controlled character.
	PlayerPawn
	// PlayerActor is the player controller or player state.
	PlayerActor
	// GameObject is the game-mode or game-state singleton.
	GameObject
	// LevelScript is a level's script object.
	LevelScript
	// Destroyed records a placed entity that was destroyed at runtime.
	Destroyed
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case Placed:
		return "placed"
	case Runtime:
		return "runtime"
	case Persistent:
		return "persistent"
	case PlayerPawn:
		return "player_pawn"
	case PlayerActor:
		return "player_actor"
	case GameObject:
		return "game_object"
	case LevelScript:
		return "level_script"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c <= Destroyed
}

// Classify returns the category of e. It has no side effects and is safe
// to call from any goroutine. The first matching rule wins; a dead or nil
// entity is Runtime.
func Classify(e world.Entity) Category {
	if !world.Valid(e) {
		return Runtime
	}

	role := e.Role()
	switch {
	case role == world.RolePawn && e.PlayerControlled():
		return PlayerPawn
	case role == world.RoleController || role == world.RolePlayerState:
		return PlayerActor
	case role == world.RoleLevelScript:
		return LevelScript
	case role == world.RoleGameMode || role == world.RoleGameState:
		return GameObject
	case e.HasFlag(world.FlagPersistent):
		return Persistent
	case e.Placed():
		return Placed
	default:
		return Runtime
	}
}

// Identity returns the stable key of an entity in category c.
// Placed, runtime and destroyed entities are namespaced by their level;
// the other categories use the bare name.
func Identity(e world.Entity, c Category) string {
	return Key(e.Name(), e.Level(), c)
}

// Key builds an identity from a name and level.
func Key(name, level string, c Category) string {
	switch c {
	case Placed, Runtime, Destroyed:
		if level == "" || strings.HasPrefix(name, level+"_") {
			return name
		}
		return level + "_" + name
	default:
		return name
	}
}

// IsLevel reports whether records of c live in level archives.
// Level scripts count when includeScripts is set.
func IsLevel(c Category, includeScripts bool) bool {
	switch c {
	case Placed, Runtime, Persistent, Destroyed:
		return true
	case LevelScript:
		return includeScripts
	default:
		return false
	}
}

// IsStreamRelevant reports whether records of c take part in streaming
// reconciliation.
func IsStreamRelevant(c Category) bool {
	return c == Placed || c == Destroyed
}

// IsRespawnable reports whether an unmatched record of c re-creates its
// entity on load.
func IsRespawnable(c Category) bool {
	return c == Runtime || c == Persistent
}

// HasClassPath reports whether records of c store the class path needed
// to spawn them.
func HasClassPath(c Category) bool {
	return IsRespawnable(c)
}

// NeedsVersionTag reports whether payloads of c carry a per-object version
// tag. Only categories that can sit in a cross-session multi-level archive
// are tagged.
func NeedsVersionTag(c Category, multiLevel bool) bool {
	return multiLevel && IsLevel(c, true)
}

// CanProcessTransform reports whether e accepts saved transforms.
func CanProcessTransform(e world.Entity) bool {
	return e.Movable() && !e.HasFlag(world.FlagSkipTransform) && !e.Attached()
}
