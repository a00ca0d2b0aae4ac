package benchmarks

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/randalmurphal/worldsave/pkg/worldsave"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	"github.com/randalmurphal/worldsave/pkg/worldsave/config"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

var crateSchema = codec.MustCompile("Crate",
	codec.Int("hp"),
	codec.String("label"),
	codec.Array("loot", codec.TypeString),
	codec.Map("tags", codec.TypeInt),
)

// BenchmarkSave_100 saves a level with 100 placed entities.
func BenchmarkSave_100(b *testing.B) {
	benchmarkSave(b, 100, config.DefaultSettings())
}

// BenchmarkSave_1000 saves a level with 1000 placed entities.
func BenchmarkSave_1000(b *testing.B) {
	benchmarkSave(b, 1000, config.DefaultSettings())
}

// BenchmarkSave_1000_Multithreaded encodes on the worker pool.
func BenchmarkSave_1000_Multithreaded(b *testing.B) {
	settings := config.DefaultSettings()
	settings.MultithreadedSaving = true
	benchmarkSave(b, 1000, settings)
}

// BenchmarkSave_1000_Uncompressed skips the s2 envelope.
func BenchmarkSave_1000_Uncompressed(b *testing.B) {
	settings := config.DefaultSettings()
	settings.Compression = false
	benchmarkSave(b, 1000, settings)
}

// BenchmarkLoad_1000_Sync applies 1000 records in one tick.
func BenchmarkLoad_1000_Sync(b *testing.B) {
	benchmarkLoad(b, 1000, config.LoadSync)
}

// BenchmarkLoad_1000_Deferred applies 1000 records in batches.
func BenchmarkLoad_1000_Deferred(b *testing.B) {
	benchmarkLoad(b, 1000, config.LoadDeferred)
}

// BenchmarkLoad_1000_Multithreaded matches 1000 records on a worker.
func BenchmarkLoad_1000_Multithreaded(b *testing.B) {
	benchmarkLoad(b, 1000, config.LoadMultithreaded)
}

func benchmarkSave(b *testing.B, n int, settings config.Settings) {
	s := newSession(b, buildWorld(n), settings)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		task, err := s.Save(worldsave.ScopeLevel)
		if err != nil {
			b.Fatal(err)
		}
		drive(b, s, task)
	}
}

func benchmarkLoad(b *testing.B, n int, method config.LoadMethod) {
	settings := config.DefaultSettings()
	settings.LoadMethod = method
	settings.DeferredBatchSize = 100
	s := newSession(b, buildWorld(n), settings)
	task, err := s.Save(worldsave.ScopeLevel)
	if err != nil {
		b.Fatal(err)
	}
	drive(b, s, task)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		task, err := s.Load(worldsave.ScopeLevel, true)
		if err != nil {
			b.Fatal(err)
		}
		drive(b, s, task)
	}
}

func buildWorld(n int) *world.Sim {
	sim := world.NewSim("Bench")
	sim.Add(world.ActorSpec{Name: "PC", Role: world.RoleController})
	sim.Add(world.ActorSpec{Name: "Pawn", Role: world.RolePawn, PlayerControlled: true, Movable: true})
	sim.Add(world.ActorSpec{Name: "GM", Role: world.RoleGameMode})
	for i := 0; i < n; i++ {
		sim.Add(world.ActorSpec{
			Name: fmt.Sprintf("Crate_%d", i), Placed: true, Movable: true,
			Transform: world.At(float64(i), 0, 0),
			Schema:    crateSchema,
			State:     crateState(i),
		})
	}
	return sim
}

func crateState(i int) codec.State {
	return codec.State{
		"hp":    int64(i),
		"label": "crate",
		"loot":  []any{"coin", "gem"},
		"tags":  map[string]any{"tier": int64(i % 5)},
	}
}

func newSession(b *testing.B, sim *world.Sim, settings config.Settings) *worldsave.Session {
	b.Helper()
	s, err := worldsave.New(sim,
		worldsave.WithSettings(settings),
		worldsave.WithBackend(store.NewMemoryBackend()),
		worldsave.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = s.Close() })
	return s
}

type benchTask interface {
	Done() bool
	Err() error
}

func drive(b *testing.B, s *worldsave.Session, task benchTask) {
	for !task.Done() {
		s.Tick()
	}
	if err := task.Err(); err != nil {
		b.Fatal(err)
	}
}
