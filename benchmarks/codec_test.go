package benchmarks

import (
	"testing"

	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
)

// BenchmarkWriteState measures encoding one entity state.
func BenchmarkWriteState(b *testing.B) {
	st := crateState(7)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := codec.NewWriter()
		w.WriteState(crateSchema, st, codec.SchemaVersion)
		if err := w.Err(); err != nil {
			b.Fatal(err)
		}
		w.Release()
	}
}

// BenchmarkReadState measures decoding one entity state.
func BenchmarkReadState(b *testing.B) {
	w := codec.NewWriter()
	w.WriteState(crateSchema, crateState(7), codec.SchemaVersion)
	data := w.Bytes()
	w.Release()

	vc := codec.VersionContext{Schema: codec.SchemaVersion, Legacy: codec.LegacySchemaVersion}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := codec.NewReader(data, vc)
		r.ReadState(crateSchema, codec.SchemaVersion)
		if err := r.Err(); err != nil {
			b.Fatal(err)
		}
		r.Release()
	}
}
