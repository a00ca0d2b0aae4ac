package worldsave_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/worldsave/pkg/worldsave"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	"github.com/randalmurphal/worldsave/pkg/worldsave/config"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

const crateClass = "/Game/Props/Crate"

var (
	crateSchema      = codec.MustCompile("Crate", codec.Int("hp"), codec.String("label"))
	heroSchema       = codec.MustCompile("Hero", codec.Int("gold"))
	controllerSchema = codec.MustCompile("Controller", codec.Int("camera"))
	modeSchema       = codec.MustCompile("Mode", codec.Int("round"))
	scriptSchema     = codec.MustCompile("Script", codec.Bool("gate_open"))
)

// newSim returns a world on level with a player controller, a pawn, a game
// mode and the crate class defined.
func newSim(level string) *world.Sim {
	sim := world.NewSim(level)
	sim.Add(world.ActorSpec{
		Name: "PC", Role: world.RoleController,
		Schema: controllerSchema, State: codec.State{"camera": int64(0)},
	})
	sim.Add(world.ActorSpec{
		Name: "Hero", Role: world.RolePawn, PlayerControlled: true, Movable: true,
		Transform: world.At(1, 1, 0),
		Schema:    heroSchema, State: codec.State{"gold": int64(0)},
	})
	sim.Add(world.ActorSpec{
		Name: "GM", Role: world.RoleGameMode,
		Schema: modeSchema, State: codec.State{"round": int64(0)},
	})
	sim.Define(crateClass, world.ActorSpec{Movable: true, Schema: crateSchema})
	return sim
}

// simWithoutPlayer returns a world that never becomes ready to load.
func simWithoutPlayer(level string) *world.Sim {
	sim := world.NewSim(level)
	sim.Add(world.ActorSpec{Name: "GM", Role: world.RoleGameMode, Schema: modeSchema})
	return sim
}

func addCrate(sim *world.Sim, name string, x float64) *world.Actor {
	return sim.Add(world.ActorSpec{
		Name: name, Placed: true, Movable: true,
		Transform: world.At(x, 0, 0),
		Schema:    crateSchema,
		State:     codec.State{"hp": int64(100), "label": "crate"},
	})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newSession(t *testing.T, sim *world.Sim, backend store.Backend, settings config.Settings, extra ...worldsave.Option) *worldsave.Session {
	t.Helper()
	opts := []worldsave.Option{
		worldsave.WithSettings(settings),
		worldsave.WithBackend(backend),
		worldsave.WithClasses(crateClass),
		worldsave.WithLogger(quietLogger()),
	}
	s, err := worldsave.New(sim, append(opts, extra...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type doneTask interface {
	Done() bool
}

// runTask ticks s until task is done and returns the number of ticks.
// Worker-pool steps finish asynchronously, so it gives them real time.
func runTask(t *testing.T, s *worldsave.Session, task doneTask) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	ticks := 0
	for !task.Done() {
		if time.Now().After(deadline) {
			require.FailNow(t, "task did not finish", "after %d ticks", ticks)
		}
		s.Tick()
		ticks++
		if !task.Done() {
			time.Sleep(50 * time.Microsecond)
		}
	}
	return ticks
}

// save runs a save of scope to completion and requires it to succeed.
func save(t *testing.T, s *worldsave.Session, scope worldsave.Scope) *worldsave.SaveTask {
	t.Helper()
	task, err := s.Save(scope)
	require.NoError(t, err)
	runTask(t, s, task)
	require.NoError(t, task.Err())
	return task
}

// load runs a load of scope to completion and requires it to succeed.
func load(t *testing.T, s *worldsave.Session, scope worldsave.Scope, fullReload bool) *worldsave.LoadTask {
	t.Helper()
	task, err := s.Load(scope, fullReload)
	require.NoError(t, err)
	runTask(t, s, task)
	require.NoError(t, task.Err())
	return task
}
