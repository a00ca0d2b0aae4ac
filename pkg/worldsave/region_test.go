package worldsave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/worldsave/pkg/worldsave"
	"github.com/randalmurphal/worldsave/pkg/worldsave/aggregate"
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/config"
	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
	"github.com/randalmurphal/worldsave/pkg/worldsave/stream"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

func streamingSettings(mode stream.Mode) config.Settings {
	settings := config.DefaultSettings()
	settings.Strategy = aggregate.Streamed
	settings.Streaming = mode
	return settings
}

// hide captures entities as region streams out, removes them from the
// world and runs the accumulated save.
func hide(t *testing.T, s *worldsave.Session, sim *world.Sim, region string, actors ...*world.Actor) {
	t.Helper()
	entities := make([]world.Entity, len(actors))
	for i, a := range actors {
		entities[i] = a
	}
	require.NoError(t, s.RegionHidden(region, entities))
	for _, a := range actors {
		sim.Destroy(a)
	}
	s.Scheduler().RunUntilIdle(50)
	require.True(t, s.Scheduler().Idle())
}

func show(t *testing.T, s *worldsave.Session, region string, actors ...*world.Actor) *worldsave.RegionTask {
	t.Helper()
	entities := make([]world.Entity, len(actors))
	for i, a := range actors {
		entities[i] = a
	}
	task, err := s.RegionVisible(region, entities)
	require.NoError(t, err)
	runTask(t, s, task)
	require.NoError(t, task.Err())
	return task
}

func TestRegion_HiddenThenVisibleRestoresState(t *testing.T) {
	sim := newSim("World")
	a := addCrate(sim, "R1_A", 10)
	b := addCrate(sim, "R1_B", 20)
	c := addCrate(sim, "R1_C", 30)
	a.Set("hp", int64(5))
	b.Set("hp", int64(6))
	s := newSession(t, sim, store.NewMemoryBackend(), streamingSettings(stream.Enabled))

	hide(t, s, sim, "R1", a, b, c)
	assert.True(t, s.SlotExists(s.ActiveSlot()))
	assert.Equal(t, 1, a.PreSaveCount())

	// R1_C never streams back in.
	a2 := addCrate(sim, "R1_A", 10)
	b2 := addCrate(sim, "R1_B", 20)
	task := show(t, s, "R1", a2, b2)

	assert.Equal(t, worldsave.RegionCompleted, task.State())
	assert.Equal(t, int64(5), a2.Get("hp"))
	assert.Equal(t, int64(6), b2.Get("hp"))
	assert.Equal(t, 1, a2.LoadCount())
	assert.True(t, a2.HasFlag(world.FlagLoaded))

	var names []string
	for _, rec := range s.Aggregator().SnapshotRecords() {
		if rec.Category == classify.Placed {
			names = append(names, rec.Name)
		}
	}
	assert.ElementsMatch(t, []string{"R1_A", "R1_B"}, names)
}

func TestRegion_DestroyedStaysDestroyed(t *testing.T) {
	sim := newSim("World")
	keep := addCrate(sim, "R2_Keep", 10)
	gone := addCrate(sim, "R2_Gone", 20)
	s := newSession(t, sim, store.NewMemoryBackend(), streamingSettings(stream.Enabled))

	sim.Destroy(gone)
	s.NotifyDestroyed(gone)
	keep.Set("hp", int64(1))
	hide(t, s, sim, "R2", keep)

	keep2 := addCrate(sim, "R2_Keep", 10)
	gone2 := addCrate(sim, "R2_Gone", 20)
	show(t, s, "R2", keep2, gone2)

	assert.Equal(t, int64(1), keep2.Get("hp"))
	assert.False(t, gone2.Alive())
}

func TestRegion_NeverSpawnsUnmatchedRecords(t *testing.T) {
	sim := newSim("World")
	a := addCrate(sim, "R3_A", 10)
	b := addCrate(sim, "R3_B", 20)
	s := newSession(t, sim, store.NewMemoryBackend(), streamingSettings(stream.Enabled))

	hide(t, s, sim, "R3", a, b)
	before := len(sim.Entities())

	a2 := addCrate(sim, "R3_A", 10)
	show(t, s, "R3", a2)

	assert.Len(t, sim.Entities(), before+1)
	assert.Nil(t, sim.Find("R3_B"))
}

func TestRegion_SkipsLoadedEntities(t *testing.T) {
	sim := newSim("World")
	a := addCrate(sim, "R4_A", 10)
	a.Set("hp", int64(7))
	s := newSession(t, sim, store.NewMemoryBackend(), streamingSettings(stream.Enabled))
	hide(t, s, sim, "R4", a)

	a2 := addCrate(sim, "R4_A", 10)
	a2.SetFlag(world.FlagLoaded)
	task := show(t, s, "R4", a2)

	assert.Equal(t, int64(100), a2.Get("hp"))
	assert.Zero(t, a2.LoadCount())
	assert.Equal(t, worldsave.Completed, task.Outcome())
}

func TestRegion_MemoryOnlyWritesNothing(t *testing.T) {
	sim := newSim("World")
	a := addCrate(sim, "R5_A", 10)
	a.Set("label", "opened")
	backend := store.NewMemoryBackend()
	s := newSession(t, sim, backend, streamingSettings(stream.MemoryOnly))

	hide(t, s, sim, "R5", a)
	assert.False(t, s.SlotExists(s.ActiveSlot()))
	assert.Zero(t, backend.Len())

	a2 := addCrate(sim, "R5_A", 10)
	show(t, s, "R5", a2)
	assert.Equal(t, "opened", a2.Get("label"))
}

func TestRegion_LoadOnlyNeverCaptures(t *testing.T) {
	sim := newSim("World")
	a := addCrate(sim, "R6_A", 10)
	s := newSession(t, sim, store.NewMemoryBackend(), streamingSettings(stream.LoadOnly))

	require.NoError(t, s.RegionHidden("R6", []world.Entity{a}))
	assert.True(t, s.Scheduler().Idle())
	assert.Zero(t, a.PreSaveCount())

	// Loading still works.
	task := show(t, s, "R6", a)
	assert.Equal(t, worldsave.Completed, task.Outcome())
}

func TestRegion_AccumulatedSaveWaitsForStreaming(t *testing.T) {
	sim := newSim("World")
	a := addCrate(sim, "R7_A", 10)
	s := newSession(t, sim, store.NewMemoryBackend(), streamingSettings(stream.Enabled))

	require.NoError(t, s.RegionHidden("R7", []world.Entity{a}))
	sim.SetStreaming(true)
	for range 10 {
		s.Tick()
	}
	assert.False(t, s.SlotExists(s.ActiveSlot()))
	assert.False(t, s.Scheduler().Idle())

	sim.SetStreaming(false)
	s.Scheduler().RunUntilIdle(50)
	assert.True(t, s.SlotExists(s.ActiveSlot()))
}

func TestRegion_AccumulatedSaveWaitsForTasks(t *testing.T) {
	sim := newSim("World")
	a := addCrate(sim, "R8_A", 10)
	s := newSession(t, sim, store.NewMemoryBackend(), streamingSettings(stream.Enabled))

	player, err := s.Save(worldsave.ScopePlayer)
	require.NoError(t, err)
	require.NoError(t, s.RegionHidden("R8", []world.Entity{a}))

	// Only one save for the hidden region is queued.
	require.NoError(t, s.RegionHidden("R8", []world.Entity{a}))

	runTask(t, s, player)
	assert.Zero(t, a.SaveCount())

	s.Scheduler().RunUntilIdle(50)
	assert.Equal(t, 1, a.SaveCount())
	assert.True(t, s.SlotExists(s.ActiveSlot()))
}

func TestRegion_OneTaskPerRegion(t *testing.T) {
	sim := newSim("World")
	a := addCrate(sim, "R9_A", 10)
	s := newSession(t, sim, store.NewMemoryBackend(), streamingSettings(stream.Enabled))

	first, err := s.RegionVisible("R9", []world.Entity{a})
	require.NoError(t, err)

	_, err = s.RegionVisible("R9", []world.Entity{a})
	assert.True(t, wserrors.IsTaskConflict(err))

	other, err := s.RegionVisible("R10", nil)
	require.NoError(t, err)

	runTask(t, s, first)
	runTask(t, s, other)

	again, err := s.RegionVisible("R9", []world.Entity{a})
	require.NoError(t, err)
	runTask(t, s, again)
}

func TestRegion_HiddenDuringRegionLoadIsIgnored(t *testing.T) {
	sim := newSim("World")
	a := addCrate(sim, "R11_A", 10)
	s := newSession(t, sim, store.NewMemoryBackend(), streamingSettings(stream.Enabled))

	task, err := s.RegionVisible("R11", []world.Entity{a})
	require.NoError(t, err)
	require.NoError(t, s.RegionHidden("R12", []world.Entity{a}))
	assert.Zero(t, a.PreSaveCount())
	runTask(t, s, task)
}

func TestRegion_StreamingDisabled(t *testing.T) {
	sim := newSim("World")
	s := newSession(t, sim, store.NewMemoryBackend(), config.DefaultSettings())

	_, err := s.RegionVisible("R1", nil)
	assert.ErrorIs(t, err, worldsave.ErrStreamingDisabled)

	// Hiding is a no-op.
	assert.NoError(t, s.RegionHidden("R1", nil))
	assert.True(t, s.Scheduler().Idle())
}
