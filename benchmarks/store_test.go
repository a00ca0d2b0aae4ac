package benchmarks

import (
	"path/filepath"
	"testing"

	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
)

// BenchmarkMemoryBackend_Put measures storing a level-sized blob in memory.
func BenchmarkMemoryBackend_Put(b *testing.B) {
	benchmarkPut(b, store.NewMemoryBackend())
}

// BenchmarkSQLiteBackend_Put measures storing a level-sized blob in SQLite.
func BenchmarkSQLiteBackend_Put(b *testing.B) {
	backend, err := store.NewSQLiteBackend(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer backend.Close()
	benchmarkPut(b, backend)
}

// BenchmarkBoltBackend_Put measures storing a level-sized blob in bbolt.
func BenchmarkBoltBackend_Put(b *testing.B) {
	backend, err := store.NewBoltBackend(filepath.Join(b.TempDir(), "bench.bolt"))
	if err != nil {
		b.Fatal(err)
	}
	defer backend.Close()
	benchmarkPut(b, backend)
}

// BenchmarkMemoryBackend_Load measures reading and decoding a blob.
func BenchmarkMemoryBackend_Load(b *testing.B) {
	adapter := store.NewAdapter(store.NewMemoryBackend(), store.DefaultOptions())
	if _, err := adapter.Store("users/default/Bench/level", writeStates(500)); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, err := adapter.Load("users/default/Bench/level", func(r *codec.Reader) error {
			n := r.ReadLen()
			for j := 0; j < n; j++ {
				r.ReadState(crateSchema, codec.SchemaVersion)
			}
			return r.Err()
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkPut(b *testing.B, backend store.Backend) {
	adapter := store.NewAdapter(backend, store.DefaultOptions())
	blob, err := adapter.Encode(writeStates(500))
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(blob)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := adapter.Put("users/default/Bench/level", blob); err != nil {
			b.Fatal(err)
		}
	}
}

func writeStates(n int) func(*codec.Writer) error {
	return func(w *codec.Writer) error {
		w.WriteLen(n)
		for i := 0; i < n; i++ {
			w.WriteState(crateSchema, crateState(i), codec.SchemaVersion)
		}
		return w.Err()
	}
}
