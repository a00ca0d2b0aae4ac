package world

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
)

// Sentinel errors returned by Sim.
var (
	// ErrClassNotDefined indicates Spawn was called for an unknown class.
	ErrClassNotDefined = errors.New("class not defined")

	// ErrNameTaken indicates an entity with that name already exists in the level.
	ErrNameTaken = errors.New("entity name taken")
)

// ActorSpec describes an actor to add to a Sim.
type ActorSpec struct {
	Name  string
	Class string

	// Level defaults to the simulation's active level.
	Level string

	Role             Role
	PlayerControlled bool
	Placed           bool
	Movable          bool
	Attached         bool
	Flags            Flags
	Transform        Transform

	Schema *codec.Schema
	State  codec.State

	Components []PartSpec
}

// PartSpec describes a component of an actor.
type PartSpec struct {
	Name      string
	Movable   bool
	Transform Transform
	Schema    *codec.Schema
	State     codec.State
}

// Sim is an in-memory World backed by an Arena of actors.
//
// It models just enough of a game simulation for the engine to run against:
// levels, player objects, runtime spawning from class templates, streaming
// flags and a viewpoint.
type Sim struct {
	mu     sync.RWMutex
	level  string
	actors Arena[*Actor]

	classes map[string]ActorSpec

	controller, pawn, playerState, gameMode, gameState Handle

	viewpoint    Vector
	hasViewpoint bool
	players      []string
	streaming    atomic.Bool

	// OnDestroyed is called after an actor is removed.
	OnDestroyed func(Entity)
}

// NewSim creates an empty simulation with level as the active level.
func NewSim(level string) *Sim {
	return &Sim{
		level:   level,
		classes: make(map[string]ActorSpec),
		players: []string{"Player"},
	}
}

// Define registers a template used to spawn actors of class.
func (s *Sim) Define(class string, template ActorSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	template.Class = class
	s.classes[class] = template
}

// Add creates an actor from spec.
func (s *Sim) Add(spec ActorSpec) *Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(spec)
}

func (s *Sim) addLocked(spec ActorSpec) *Actor {
	if spec.Level == "" {
		spec.Level = s.level
	}
	if spec.Transform == (Transform{}) {
		spec.Transform = Identity()
	}

	a := &Actor{
		sim:              s,
		name:             spec.Name,
		level:            spec.Level,
		class:            spec.Class,
		role:             spec.Role,
		playerControlled: spec.PlayerControlled,
		placed:           spec.Placed,
		movable:          spec.Movable,
		attached:         spec.Attached,
		transform:        spec.Transform,
		schema:           spec.Schema,
		state:            spec.State.Clone(),
	}
	a.flags.Store(uint32(spec.Flags))
	for _, p := range spec.Components {
		a.parts = append(a.parts, &Part{
			name:      p.Name,
			movable:   p.Movable,
			transform: p.Transform,
			schema:    p.Schema,
			state:     p.State.Clone(),
		})
	}
	a.handle = s.actors.Insert(a)

	switch spec.Role {
	case RoleController:
		s.controller = a.handle
	case RolePawn:
		if spec.PlayerControlled {
			s.pawn = a.handle
		}
	case RolePlayerState:
		s.playerState = a.handle
	case RoleGameMode:
		s.gameMode = a.handle
	case RoleGameState:
		s.gameState = a.handle
	}
	return a
}

// Level implements World.
func (s *Sim) Level() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// Entities implements World.
func (s *Sim) Entities() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, s.actors.Len())
	s.actors.Each(func(_ Handle, a *Actor) bool {
		out = append(out, a)
		return true
	})
	return out
}

func (s *Sim) resolve(h *Handle) Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors.Get(*h)
	if !ok {
		return nil
	}
	return a
}

// PlayerController implements World.
func (s *Sim) PlayerController() Entity { return s.resolve(&s.controller) }

// PlayerPawn implements World.
func (s *Sim) PlayerPawn() Entity { return s.resolve(&s.pawn) }

// PlayerState implements World.
func (s *Sim) PlayerState() Entity { return s.resolve(&s.playerState) }

// GameMode implements World.
func (s *Sim) GameMode() Entity { return s.resolve(&s.gameMode) }

// GameState implements World.
func (s *Sim) GameState() Entity { return s.resolve(&s.gameState) }

// Spawn implements World.
func (s *Sim) Spawn(class, name string, t Transform) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpl, ok := s.classes[class]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotDefined, class)
	}
	if s.findLocked(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, name)
	}

	tmpl.Name = name
	tmpl.Level = ""
	tmpl.Placed = false
	tmpl.Transform = t
	return s.addLocked(tmpl), nil
}

// Destroy implements World.
func (s *Sim) Destroy(e Entity) {
	if e == nil {
		return
	}
	s.mu.Lock()
	removed := s.actors.Remove(e.Handle())
	cb := s.OnDestroyed
	s.mu.Unlock()

	if removed && cb != nil {
		cb(e)
	}
}

// Viewpoint implements World.
func (s *Sim) Viewpoint() (Vector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewpoint, s.hasViewpoint
}

// SetViewpoint moves the primary camera.
func (s *Sim) SetViewpoint(v Vector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewpoint = v
	s.hasViewpoint = true
}

// PlayerNames implements World.
func (s *Sim) PlayerNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.players))
	copy(out, s.players)
	return out
}

// Streaming implements World.
func (s *Sim) Streaming() bool {
	return s.streaming.Load()
}

// SetStreaming marks a level as loading in.
func (s *Sim) SetStreaming(on bool) {
	s.streaming.Store(on)
}

// Find returns the live actor named name.
func (s *Sim) Find(name string) *Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(name)
}

func (s *Sim) findLocked(name string) *Actor {
	var found *Actor
	s.actors.Each(func(_ Handle, a *Actor) bool {
		if a.name == name {
			found = a
			return false
		}
		return true
	})
	return found
}

// Travel switches the active level. Every actor except player objects and
// actors flagged persistent is removed without firing OnDestroyed, the way
// a level unload tears down its content.
func (s *Sim) Travel(level string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []Handle
	s.actors.Each(func(h Handle, a *Actor) bool {
		switch {
		case a.role == RoleController, a.role == RolePlayerState, a.playerControlled:
		case a.role == RoleGameMode, a.role == RoleGameState:
		case a.HasFlag(FlagPersistent):
		default:
			doomed = append(doomed, h)
		}
		return true
	})
	for _, h := range doomed {
		s.actors.Remove(h)
	}
	s.level = level
}

func (s *Sim) alive(h Handle) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actors.Valid(h)
}

var _ World = (*Sim)(nil)

// Actor is the Entity implementation used by Sim.
type Actor struct {
	sim    *Sim
	handle Handle

	name, level, class string
	role               Role
	playerControlled   bool
	placed             bool
	movable            bool
	attached           bool
	flags              atomic.Uint32

	mu              sync.Mutex
	transform       Transform
	controlRotation Rotator
	schema          *codec.Schema
	state           codec.State
	parts           []*Part

	preSaves atomic.Int32
	saves    atomic.Int32
	loads    atomic.Int32
}

var (
	_ Entity         = (*Actor)(nil)
	_ PreSaver       = (*Actor)(nil)
	_ SaveNotifier   = (*Actor)(nil)
	_ PostLoader     = (*Actor)(nil)
	_ ControlRotator = (*Actor)(nil)
)

// Handle implements Entity.
func (a *Actor) Handle() Handle { return a.handle }

// Alive implements Entity.
func (a *Actor) Alive() bool { return a.sim.alive(a.handle) }

// Name implements Entity.
func (a *Actor) Name() string { return a.name }

// Level implements Entity.
func (a *Actor) Level() string { return a.level }

// Class implements Entity.
func (a *Actor) Class() string { return a.class }

// Role implements Entity.
func (a *Actor) Role() Role { return a.role }

// PlayerControlled implements Entity.
func (a *Actor) PlayerControlled() bool { return a.playerControlled }

// Placed implements Entity.
func (a *Actor) Placed() bool { return a.placed }

// HasFlag implements Entity.
func (a *Actor) HasFlag(f Flags) bool { return Flags(a.flags.Load())&f == f }

// SetFlag implements Entity.
func (a *Actor) SetFlag(f Flags) {
	for {
		old := a.flags.Load()
		if a.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// ClearFlag implements Entity.
func (a *Actor) ClearFlag(f Flags) {
	for {
		old := a.flags.Load()
		if a.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// Movable implements Entity.
func (a *Actor) Movable() bool { return a.movable }

// Attached implements Entity.
func (a *Actor) Attached() bool { return a.attached }

// Transform implements Entity.
func (a *Actor) Transform() Transform {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transform
}

// SetTransform implements Entity.
func (a *Actor) SetTransform(t Transform) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transform = t
}

// ControlRotation implements ControlRotator.
func (a *Actor) ControlRotation() Rotator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controlRotation
}

// SetControlRotation implements ControlRotator.
func (a *Actor) SetControlRotation(r Rotator) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.controlRotation = r
}

// Schema implements Object.
func (a *Actor) Schema() *codec.Schema { return a.schema }

// Snapshot implements Object.
func (a *Actor) Snapshot() codec.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// Restore implements Object.
func (a *Actor) Restore(st codec.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = st.Clone()
}

// Get returns one persisted field value.
func (a *Actor) Get(field string) any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state[field]
}

// Set changes one persisted field value.
func (a *Actor) Set(field string, v any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == nil {
		a.state = codec.State{}
	}
	a.state[field] = v
}

// Components implements Entity.
func (a *Actor) Components() []Component {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Component, len(a.parts))
	for i, p := range a.parts {
		out[i] = p
	}
	return out
}

// Part returns the component named name.
func (a *Actor) Part(name string) *Part {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.parts {
		if p.name == name {
			return p
		}
	}
	return nil
}

// PreSave implements PreSaver.
func (a *Actor) PreSave() { a.preSaves.Add(1) }

// Saved implements SaveNotifier.
func (a *Actor) Saved() { a.saves.Add(1) }

// Loaded implements PostLoader.
func (a *Actor) Loaded() { a.loads.Add(1) }

// LoadCount returns how many times saved state was applied.
func (a *Actor) LoadCount() int { return int(a.loads.Load()) }

// SaveCount returns how many times the actor's state was captured.
func (a *Actor) SaveCount() int { return int(a.saves.Load()) }

// PreSaveCount returns how many times the pre-save hook ran.
func (a *Actor) PreSaveCount() int { return int(a.preSaves.Load()) }

// Part is the Component implementation used by Actor.
type Part struct {
	mu        sync.Mutex
	name      string
	movable   bool
	transform Transform
	schema    *codec.Schema
	state     codec.State
}

var _ Component = (*Part)(nil)

// Name implements Component.
func (p *Part) Name() string { return p.name }

// Movable implements Component.
func (p *Part) Movable() bool { return p.movable }

// RelativeTransform implements Component.
func (p *Part) RelativeTransform() Transform {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transform
}

// SetRelativeTransform implements Component.
func (p *Part) SetRelativeTransform(t Transform) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transform = t
}

// Schema implements Object.
func (p *Part) Schema() *codec.Schema { return p.schema }

// Snapshot implements Object.
func (p *Part) Snapshot() codec.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone()
}

// Restore implements Object.
func (p *Part) Restore(st codec.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = st.Clone()
}

// Get returns one persisted field value.
func (p *Part) Get(field string) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state[field]
}

// Set changes one persisted field value.
func (p *Part) Set(field string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		p.state = codec.State{}
	}
	p.state[field] = v
}
