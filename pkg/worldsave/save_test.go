package worldsave_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/worldsave/pkg/worldsave"
	"github.com/randalmurphal/worldsave/pkg/worldsave/config"
	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
	"github.com/randalmurphal/worldsave/pkg/worldsave/tick"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

func TestSave_OneStepPerTick(t *testing.T) {
	sim := newSim("Village")
	addCrate(sim, "Crate", 1)
	s := newSession(t, sim, store.NewMemoryBackend(), config.DefaultSettings())

	task, err := s.Save(worldsave.ScopeBoth)
	require.NoError(t, err)
	assert.Equal(t, worldsave.SaveCreated, task.State())

	want := []worldsave.SaveState{
		worldsave.SaveSnapshotEntities,
		worldsave.SaveEncodePlayer,
		worldsave.SaveEncodeLevel,
		worldsave.SavePersist,
		worldsave.SaveCompleted,
	}
	for _, state := range want {
		s.Tick()
		assert.Equal(t, state, task.State())
	}
	assert.True(t, task.Done())
	assert.Equal(t, worldsave.Completed, task.Outcome())
}

func TestSave_SkipsStepsOutsideScope(t *testing.T) {
	backend := store.NewMemoryBackend()
	s := newSession(t, newSim("Village"), backend, config.DefaultSettings())

	task, err := s.Save(worldsave.ScopeLevel)
	require.NoError(t, err)
	s.Tick()
	s.Tick()
	assert.Equal(t, worldsave.SaveEncodeLevel, task.State())

	keys := store.Keys{Slot: s.ActiveSlot()}
	runTask(t, s, task)
	assert.True(t, s.SlotExists(s.ActiveSlot()))

	adapter := store.NewAdapter(backend, store.DefaultOptions())
	assert.True(t, adapter.Exists(keys.Level()))
	blob, err := adapter.Get(keys.Player())
	assert.ErrorIs(t, err, store.ErrNoSave)
	assert.Nil(t, blob)
}

func TestSave_HooksAndFlags(t *testing.T) {
	sim := newSim("Village")
	crate := addCrate(sim, "Crate", 1)
	skipped := addCrate(sim, "Skipped", 2)
	skipped.SetFlag(world.FlagSkipSave)
	s := newSession(t, sim, store.NewMemoryBackend(), config.DefaultSettings())

	save(t, s, worldsave.ScopeLevel)

	assert.Equal(t, 1, crate.PreSaveCount())
	assert.Equal(t, 1, crate.SaveCount())
	assert.True(t, crate.HasFlag(world.FlagLoaded))

	assert.Zero(t, skipped.PreSaveCount())
	assert.Zero(t, skipped.SaveCount())
	assert.False(t, skipped.HasFlag(world.FlagLoaded))
}

func TestSave_SingleActiveTaskPerScope(t *testing.T) {
	s := newSession(t, newSim("Village"), store.NewMemoryBackend(), config.DefaultSettings())

	level, err := s.Save(worldsave.ScopeLevel)
	require.NoError(t, err)

	_, err = s.Save(worldsave.ScopeLevel)
	assert.True(t, wserrors.IsTaskConflict(err))
	_, err = s.Save(worldsave.ScopeBoth)
	assert.True(t, wserrors.IsTaskConflict(err))

	player, err := s.Save(worldsave.ScopePlayer)
	require.NoError(t, err)

	// saves and loads are tracked separately
	loadTask, err := s.Load(worldsave.ScopeLevel, false)
	require.NoError(t, err)

	runTask(t, s, level)
	runTask(t, s, player)
	runTask(t, s, loadTask)
	assert.False(t, s.Busy())

	again, err := s.Save(worldsave.ScopeBoth)
	require.NoError(t, err)
	runTask(t, s, again)
}

func TestSave_Rejections(t *testing.T) {
	sim := newSim("Village")
	s := newSession(t, sim, store.NewMemoryBackend(), config.DefaultSettings())

	_, err := s.Save(0)
	assert.ErrorIs(t, err, worldsave.ErrScopeEmpty)

	sim.SetStreaming(true)
	_, err = s.Save(worldsave.ScopeBoth)
	assert.True(t, wserrors.IsTaskConflict(err))
	_, err = s.Load(worldsave.ScopeBoth, false)
	assert.True(t, wserrors.IsTaskConflict(err))
	sim.SetStreaming(false)

	assert.False(t, s.Busy(), "a rejected request leaves no state behind")
}

func TestSave_Multithreaded(t *testing.T) {
	settings := config.DefaultSettings()
	settings.MultithreadedSaving = true
	backend := store.NewMemoryBackend()

	sim := newSim("Village")
	crate := addCrate(sim, "Crate", 3)
	crate.Set("hp", int64(12))
	sim.Find("Hero").Set("gold", int64(99))

	s := newSession(t, sim, backend, settings)
	task := save(t, s, worldsave.ScopeBoth)
	assert.Equal(t, worldsave.SaveCompleted, task.State())

	sim2 := newSim("Village")
	crate2 := addCrate(sim2, "Crate", 3)
	s2 := newSession(t, sim2, backend, config.DefaultSettings())
	load(t, s2, worldsave.ScopeBoth, false)

	assert.Equal(t, int64(12), crate2.Get("hp"))
	assert.Equal(t, int64(99), sim2.Find("Hero").Get("gold"))
}

func TestSave_CompletionCallbackAndSlotInfo(t *testing.T) {
	sim := newSim("Village")
	s := newSession(t, sim, store.NewMemoryBackend(), config.DefaultSettings())

	task, err := s.Save(worldsave.ScopeBoth)
	require.NoError(t, err)

	var (
		calls   int
		outcome worldsave.Outcome
	)
	task.OnComplete(func(o worldsave.Outcome, err error) {
		calls++
		outcome = o
		assert.NoError(t, err)
	})
	runTask(t, s, task)
	assert.Equal(t, 1, calls)
	assert.Equal(t, worldsave.Completed, outcome)

	// registering after completion runs immediately
	task.OnComplete(func(worldsave.Outcome, error) { calls++ })
	assert.Equal(t, 2, calls)

	slots, err := s.ListSlots()
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "SaveGame", slots[0].Name)
	assert.Equal(t, "Village", slots[0].Level)
	assert.Equal(t, []string{"Player"}, slots[0].Players)
}

func TestSave_FailedLevelKeepsPendingRecords(t *testing.T) {
	backend := store.NewMemoryBackend()
	sim := newSim("Village")
	barrel := addCrate(sim, "Barrel", 1)
	crate := addCrate(sim, "Crate", 2)
	s := newSession(t, sim, backend, config.DefaultSettings())
	sim.OnDestroyed = s.NotifyDestroyed

	sim.Destroy(barrel)
	crate.Set("hp", "not a number")
	task, err := s.Save(worldsave.ScopeLevel)
	require.NoError(t, err)
	runTask(t, s, task)
	require.Equal(t, worldsave.SaveFailed, task.State())
	require.Error(t, task.Err())

	crate.Set("hp", int64(7))
	save(t, s, worldsave.ScopeLevel)

	sim2 := newSim("Village")
	addCrate(sim2, "Barrel", 1)
	addCrate(sim2, "Crate", 2)
	s2 := newSession(t, sim2, backend, config.DefaultSettings())
	load(t, s2, worldsave.ScopeLevel, false)
	assert.Nil(t, sim2.Find("Barrel"), "the destroyed record survived the failed save")
	require.NotNil(t, sim2.Find("Crate"))
	assert.Equal(t, int64(7), sim2.Find("Crate").Get("hp"))
}

// flakyBackend fails the first failures writes with a transient error.
type flakyBackend struct {
	*store.MemoryBackend
	failures int
	writes   int
}

func (b *flakyBackend) Write(key string, data []byte) error {
	b.writes++
	if b.writes <= b.failures {
		return wserrors.Transient(errors.New("disk busy"), "write")
	}
	return b.MemoryBackend.Write(key, data)
}

func TestSave_TransientWriteRetriedOnLaterTick(t *testing.T) {
	clock := tick.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	backend := &flakyBackend{MemoryBackend: store.NewMemoryBackend(), failures: 2}
	s := newSession(t, newSim("Village"), backend, config.DefaultSettings(), worldsave.WithClock(clock))

	task, err := s.Save(worldsave.ScopeLevel)
	require.NoError(t, err)
	for task.State() != worldsave.SavePersist {
		s.Tick()
	}

	s.Tick()
	assert.Equal(t, worldsave.SavePersist, task.State())
	assert.Equal(t, 1, backend.writes)

	// the backoff has not elapsed, so nothing is attempted
	s.Tick()
	assert.Equal(t, 1, backend.writes)

	clock.Advance(time.Second)
	s.Tick()
	assert.Equal(t, worldsave.SavePersist, task.State())
	assert.Equal(t, 2, backend.writes)

	clock.Advance(time.Second)
	s.Tick()
	assert.Equal(t, worldsave.SaveCompleted, task.State())
	require.NoError(t, task.Err())
	assert.True(t, s.SlotExists(s.ActiveSlot()))
}

func TestSave_TransientWriteExhausted(t *testing.T) {
	clock := tick.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	backend := &flakyBackend{MemoryBackend: store.NewMemoryBackend(), failures: 100}
	s := newSession(t, newSim("Village"), backend, config.DefaultSettings(), worldsave.WithClock(clock))

	task, err := s.Save(worldsave.ScopeLevel)
	require.NoError(t, err)
	for i := 0; i < 20 && !task.Done(); i++ {
		s.Tick()
		clock.Advance(time.Second)
	}
	require.True(t, task.Done())
	assert.Equal(t, worldsave.SaveFailed, task.State())
	assert.True(t, wserrors.IsRetryable(task.Err()))
	assert.Equal(t, wserrors.StoreRetry.MaxAttempts, backend.writes)
}
