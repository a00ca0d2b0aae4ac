package aggregate_test

import (
	"testing"

	"github.com/randalmurphal/worldsave/pkg/worldsave/aggregate"
	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placed(name, level string, payload ...byte) archive.EntityRecord {
	return archive.EntityRecord{Name: name, Level: level, Category: classify.Placed, Payload: payload}
}

func pass(level string, recs ...archive.EntityRecord) aggregate.LevelPass {
	return aggregate.LevelPass{
		Level:    level,
		Entities: recs,
		Scripts:  []archive.ScriptRecord{{Name: level + "Script", Level: level}},
		GameMode: &archive.ObjectRecord{Payload: []byte(level)},
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want aggregate.Strategy
	}{
		{"", aggregate.Disabled},
		{"disabled", aggregate.Disabled},
		{"Stacked", aggregate.Stacked},
		{"streamed", aggregate.Streamed},
		{" full ", aggregate.Full},
	}
	for _, tt := range tests {
		got, err := aggregate.ParseStrategy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		if tt.in != "" && tt.in != " full " {
			assert.Equal(t, tt.want.String(), got.String())
		}
	}

	_, err := aggregate.ParseStrategy("sideways")
	assert.Error(t, err)

	assert.True(t, aggregate.Full.Stacking())
	assert.True(t, aggregate.Full.Streaming())
	assert.False(t, aggregate.Stacked.Streaming())
	assert.False(t, aggregate.Streamed.Stacking())
	assert.False(t, aggregate.Disabled.MultiLevel())
}

func TestBuildLevel_Disabled(t *testing.T) {
	agg := aggregate.New(aggregate.Options{Strategy: aggregate.Disabled})
	companion := archive.EntityRecord{Name: "Companion", Level: "L1", Category: classify.Persistent}

	blob := agg.BuildLevel(pass("L1", placed("Door", "L1"), companion))
	require.NotNil(t, blob.Single)
	assert.Nil(t, blob.Stack)
	assert.Len(t, blob.Single.Entities, 2, "persistent records stay in the level archive")
	assert.Equal(t, []byte("L1"), blob.Single.GameMode.Payload)
	assert.Empty(t, agg.Levels())
}

func TestBuildLevel_StackUniqueness(t *testing.T) {
	agg := aggregate.New(aggregate.Options{Strategy: aggregate.Stacked})

	agg.BuildLevel(pass("L1", placed("Door", "L1", 1)))
	agg.BuildLevel(pass("L2", placed("Gate", "L2")))
	blob := agg.BuildLevel(pass("L1", placed("Door", "L1", 2)))

	require.NotNil(t, blob.Stack)
	require.Len(t, blob.Stack.Archives, 2)

	levels := map[string]archive.LevelArchive{}
	for _, a := range blob.Stack.Archives {
		_, dup := levels[a.Level]
		assert.False(t, dup, "duplicate archive for %s", a.Level)
		levels[a.Level] = a
	}
	assert.Equal(t, []byte{2}, levels["L1"].Entities[0].Payload)
	assert.Contains(t, levels, "L2")

	// Game objects live on the stack, not on each archive.
	assert.Nil(t, levels["L1"].GameMode)
	assert.Equal(t, []byte("L1"), blob.Stack.GameMode.Payload)
}

func TestBuildLevel_StackedSplitsPersistent(t *testing.T) {
	agg := aggregate.New(aggregate.Options{Strategy: aggregate.Stacked})
	companion := archive.EntityRecord{Name: "Companion", Level: "L1", Category: classify.Persistent, Class: "/Game/Pet"}

	blob := agg.BuildLevel(pass("L1", placed("Door", "L1"), companion))
	require.NotNil(t, blob.Stack)

	assert.Equal(t, archive.PersistentLevel, blob.Stack.Persistent.Level)
	require.Len(t, blob.Stack.Persistent.Entities, 1)
	assert.Equal(t, "Companion", blob.Stack.Persistent.Entities[0].Name)
	require.Len(t, blob.Stack.Archives, 1)
	assert.Len(t, blob.Stack.Archives[0].Entities, 1)

	for _, l := range agg.Levels() {
		assert.NotEqual(t, archive.PersistentLevel, l.Level, "persistent archive is not kept in memory")
	}
}

func TestBuildLevel_StackIsolatedFromMemory(t *testing.T) {
	agg := aggregate.New(aggregate.Options{Strategy: aggregate.Stacked})
	blob := agg.BuildLevel(pass("L1", placed("Door", "L1")))

	blob.Stack.Archives[0].Entities[0].Name = "Mutated"
	assert.Equal(t, "Door", agg.Levels()[0].Entities[0].Name)
}

func TestBuildLevel_StreamedDestroyedReplacesPlaced(t *testing.T) {
	agg := aggregate.New(aggregate.Options{Strategy: aggregate.Streamed})

	agg.BuildLevel(pass("Town", placed("Door", "Town", 1), placed("Lamp", "Town")))
	blob := agg.BuildLevel(pass("Town", archive.DestroyedRecord("Door", "Town"), placed("Lamp", "Town")))

	require.NotNil(t, blob.Single)
	recs := agg.SnapshotRecords()
	require.Len(t, recs, 2)
	assert.Equal(t, "Door", recs[0].Name)
	assert.Equal(t, classify.Destroyed, recs[0].Category)

	var door archive.EntityRecord
	for _, r := range blob.Single.Entities {
		if r.Name == "Door" {
			door = r
		}
	}
	assert.Equal(t, classify.Destroyed, door.Category)
}

func TestBuildLevel_StreamedFoldsOtherLevels(t *testing.T) {
	agg := aggregate.New(aggregate.Options{Strategy: aggregate.Streamed})
	runtime := archive.EntityRecord{Name: "Crate_1", Level: "L1", Category: classify.Runtime}

	agg.BuildLevel(pass("L1", placed("Door", "L1"), runtime))
	blob := agg.BuildLevel(pass("L2", placed("Gate", "L2")))

	require.NotNil(t, blob.Single)
	ids := identities(blob.Single.Entities)
	assert.ElementsMatch(t, []string{"L2_Gate", "L1_Door"}, ids, "runtime records are not streamed")
	assert.Equal(t, "L2", blob.Single.Level)
	assert.Equal(t, []byte("L2"), blob.Single.GameMode.Payload)
}

func TestBuildLevel_FullFoldsSnapshotIntoStack(t *testing.T) {
	agg := aggregate.New(aggregate.Options{Strategy: aggregate.Full})

	agg.BuildLevel(pass("L1", placed("Door", "L1")))
	blob := agg.BuildLevel(pass("L2", placed("Gate", "L2")))

	require.NotNil(t, blob.Stack)
	require.Len(t, blob.Stack.Archives, 2)

	var l2 archive.LevelArchive
	for _, a := range blob.Stack.Archives {
		if a.Level == "L2" {
			l2 = a
		}
	}
	assert.ElementsMatch(t, []string{"L2_Gate", "L1_Door"}, identities(l2.Entities))
}

func TestBuildPlayer(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		agg := aggregate.New(aggregate.Options{})
		blob := agg.BuildPlayer(archive.PlayerArchive{Level: "L1"})
		require.NotNil(t, blob.Single)
		assert.Nil(t, blob.Stack)
	})

	t.Run("stacked keeps positions per level", func(t *testing.T) {
		agg := aggregate.New(aggregate.Options{Strategy: aggregate.Stacked})
		p1 := archive.PlayerArchive{Level: "L1", Pawn: archive.PawnRecord{Position: world.Vector{X: 1}}}
		p2 := archive.PlayerArchive{Level: "L2", Pawn: archive.PawnRecord{Position: world.Vector{X: 2}}}

		agg.BuildPlayer(p1)
		blob := agg.BuildPlayer(p2)
		require.NotNil(t, blob.Stack)
		assert.Len(t, blob.Stack.Positions, 2)
		assert.Equal(t, "L2", blob.Stack.Player.Level)

		pos, ok := blob.Stack.Position("L1")
		require.True(t, ok)
		assert.Equal(t, 1.0, pos.Position.X)
	})
}

func TestUnpackLevel_Stack(t *testing.T) {
	saver := aggregate.New(aggregate.Options{Strategy: aggregate.Stacked})
	saver.BuildLevel(pass("L1", placed("Door", "L1")))
	companion := archive.EntityRecord{Name: "Companion", Level: "L2", Category: classify.Persistent}
	blob := saver.BuildLevel(pass("L2", placed("Gate", "L2"), companion))

	loader := aggregate.New(aggregate.Options{Strategy: aggregate.Stacked})
	got := loader.UnpackLevel(blob, "L1")

	assert.ElementsMatch(t, []string{"L1_Door", "Companion"}, identities(got.Entities))
	require.Len(t, got.Scripts, 1)
	assert.Equal(t, "L1Script", got.Scripts[0].Name)
	assert.Equal(t, []byte("L2"), got.GameMode.Payload, "stack game mode applies on every level")

	assert.Len(t, loader.Levels(), 2, "empty memory list is seeded from disk")

	// A non-empty memory list is not replaced.
	loader.BuildLevel(pass("L3"))
	loader.UnpackLevel(blob, "L1")
	assert.Len(t, loader.Levels(), 3)
}

func TestUnpackLevel_SingleLevelMismatch(t *testing.T) {
	companion := archive.EntityRecord{Name: "Companion", Level: "L1", Category: classify.Persistent}
	saver := aggregate.New(aggregate.Options{})
	blob := saver.BuildLevel(pass("L1", placed("Door", "L1"), companion))

	t.Run("only persistent records apply", func(t *testing.T) {
		loader := aggregate.New(aggregate.Options{})
		got := loader.UnpackLevel(blob, "L2")
		assert.Equal(t, []string{"Companion"}, identities(got.Entities))
		assert.Empty(t, got.Scripts)
		assert.Nil(t, got.GameMode)
	})

	t.Run("persistent game mode", func(t *testing.T) {
		loader := aggregate.New(aggregate.Options{PersistentGameMode: true})
		got := loader.UnpackLevel(blob, "L2")
		require.NotNil(t, got.GameMode)
		assert.Equal(t, []byte("L1"), got.GameMode.Payload)
	})

	t.Run("same level", func(t *testing.T) {
		loader := aggregate.New(aggregate.Options{})
		got := loader.UnpackLevel(blob, "L1")
		assert.Len(t, got.Entities, 2)
		assert.Len(t, got.Scripts, 1)
		assert.NotNil(t, got.GameMode)
		assert.False(t, got.Empty())
	})
}

func TestUnpackLevel_StreamedSeedsSnapshot(t *testing.T) {
	saver := aggregate.New(aggregate.Options{Strategy: aggregate.Streamed})
	blob := saver.BuildLevel(pass("Town", placed("Door", "Town"), archive.DestroyedRecord("Barrel", "Town")))

	loader := aggregate.New(aggregate.Options{Strategy: aggregate.Streamed})
	loader.UnpackLevel(blob, "Elsewhere")
	assert.Empty(t, loader.SnapshotRecords(), "other level's archive is not absorbed")

	loader.UnpackLevel(blob, "Town")
	assert.Len(t, loader.SnapshotRecords(), 2)
}

func TestUnpackPlayer(t *testing.T) {
	p := archive.PlayerArchive{Level: "L1", Pawn: archive.PawnRecord{Position: world.Vector{X: 5}}}

	t.Run("single level mismatch", func(t *testing.T) {
		agg := aggregate.New(aggregate.Options{})
		_, ok := agg.UnpackPlayer(archive.PlayerBlob{Single: &p}, "L2")
		assert.False(t, ok)

		got, ok := agg.UnpackPlayer(archive.PlayerBlob{Single: &p}, "L1")
		require.True(t, ok)
		assert.Equal(t, 5.0, got.Pawn.Position.X)
	})

	t.Run("persistent player", func(t *testing.T) {
		agg := aggregate.New(aggregate.Options{PersistentPlayer: true})
		_, ok := agg.UnpackPlayer(archive.PlayerBlob{Single: &p}, "L2")
		assert.True(t, ok)
	})

	t.Run("stack resolves position per level", func(t *testing.T) {
		stack := &archive.PlayerStack{}
		stack.Put(p)
		agg := aggregate.New(aggregate.Options{Strategy: aggregate.Stacked})

		got, ok := agg.UnpackPlayer(archive.PlayerBlob{Stack: stack}, "L2")
		require.True(t, ok)
		assert.True(t, got.Pawn.Position.IsNearlyZero(), "no position for an unsaved level")

		got, _ = agg.UnpackPlayer(archive.PlayerBlob{Stack: stack}, "L1")
		assert.Equal(t, 5.0, got.Pawn.Position.X)

		// Memory was seeded, so a later save keeps the L1 position.
		blob := agg.BuildPlayer(archive.PlayerArchive{Level: "L2"})
		_, ok = blob.Stack.Position("L1")
		assert.True(t, ok)
	})
}

func TestReset(t *testing.T) {
	agg := aggregate.New(aggregate.Options{Strategy: aggregate.Full})
	agg.BuildLevel(pass("L1", placed("Door", "L1")))
	agg.BuildPlayer(archive.PlayerArchive{Level: "L1"})
	agg.SetLoadFromMemory(true)

	agg.Reset()

	assert.Empty(t, agg.Levels())
	assert.Empty(t, agg.SnapshotRecords())
	assert.False(t, agg.LoadFromMemory())
	blob := agg.BuildPlayer(archive.PlayerArchive{Level: "L2"})
	assert.Len(t, blob.Stack.Positions, 1)
}

func identities(recs []archive.EntityRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Identity())
	}
	return out
}
