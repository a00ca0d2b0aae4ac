// Package archive defines the in-memory records the engine saves and loads,
// and their binary layout.
//
// Records are built from live entity state during a save pass, encoded into
// a blob, and decoded back on load. Object state inside records is kept as
// opaque codec payloads; it is only decoded when applied to a live object,
// using the version context of the blob it came from.
package archive

import (
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

// Keyed is implemented by records merged with ReplaceOrInsert.
type Keyed interface {
	Key() string
}

// ReplaceOrInsert overwrites the item with the same key, or appends item.
// It is the single merge primitive used for level stacks, scripts, player
// positions and the streaming snapshot.
func ReplaceOrInsert[T Keyed](items []T, item T) []T {
	key := item.Key()
	for i := range items {
		if items[i].Key() == key {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}

// ComponentRecord is the saved state of one component.
type ComponentRecord struct {
	Name      string
	Transform *world.Transform
	Payload   []byte
}

// Key implements Keyed.
func (c ComponentRecord) Key() string { return c.Name }

// EntityRecord is the saved state of one entity.
type EntityRecord struct {
	Name     string
	Level    string
	Category classify.Category

	// Class is only stored for categories that can be re-spawned.
	Class string

	Transform  *world.Transform
	Payload    []byte
	Components []ComponentRecord
}

// Identity returns the record's stable key.
func (r EntityRecord) Identity() string {
	return classify.Key(r.Name, r.Level, r.Category)
}

// Key implements Keyed.
func (r EntityRecord) Key() string { return r.Identity() }

// DestroyedRecord returns the marker saved for a placed entity destroyed
// at runtime. It carries no state.
func DestroyedRecord(name, level string) EntityRecord {
	return EntityRecord{Name: name, Level: level, Category: classify.Destroyed}
}

// ScriptRecord is the saved state of a level script.
type ScriptRecord struct {
	Name       string
	Level      string
	Payload    []byte
	Components []ComponentRecord
}

// Key implements Keyed.
func (s ScriptRecord) Key() string { return s.Name }

// ObjectRecord is the saved state of a singleton object such as the game
// mode or the player controller.
type ObjectRecord struct {
	Payload    []byte
	Components []ComponentRecord
}

// Empty reports whether the record carries no state.
func (o *ObjectRecord) Empty() bool {
	return o == nil || (len(o.Payload) == 0 && len(o.Components) == 0)
}

func writeTransform(w *codec.Writer, t *world.Transform) {
	if t == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	writeVector(w, t.Location)
	writeRotator(w, t.Rotation)
	writeVector(w, t.Scale)
}

func readTransform(r *codec.Reader) *world.Transform {
	if !r.ReadBool() {
		return nil
	}
	return &world.Transform{
		Location: readVector(r),
		Rotation: readRotator(r),
		Scale:    readVector(r),
	}
}

func writeVector(w *codec.Writer, v world.Vector) {
	w.WriteFloat(v.X)
	w.WriteFloat(v.Y)
	w.WriteFloat(v.Z)
}

func readVector(r *codec.Reader) world.Vector {
	return world.Vector{X: r.ReadFloat(), Y: r.ReadFloat(), Z: r.ReadFloat()}
}

func writeRotator(w *codec.Writer, v world.Rotator) {
	w.WriteFloat(v.Pitch)
	w.WriteFloat(v.Yaw)
	w.WriteFloat(v.Roll)
}

func readRotator(r *codec.Reader) world.Rotator {
	return world.Rotator{Pitch: r.ReadFloat(), Yaw: r.ReadFloat(), Roll: r.ReadFloat()}
}

func writeComponents(w *codec.Writer, comps []ComponentRecord) {
	w.WriteLen(len(comps))
	for _, c := range comps {
		w.WriteString(c.Name)
		writeTransform(w, c.Transform)
		w.WriteBytes(c.Payload)
	}
}

func readComponents(r *codec.Reader) []ComponentRecord {
	n := r.ReadLen()
	if n == 0 {
		return nil
	}
	comps := make([]ComponentRecord, 0, min(n, r.Remaining()))
	for i := 0; i < n && r.Err() == nil; i++ {
		comps = append(comps, ComponentRecord{
			Name:      r.ReadString(),
			Transform: readTransform(r),
			Payload:   r.ReadBytes(),
		})
	}
	return comps
}

// Encode writes the record.
func (e *EntityRecord) Encode(w *codec.Writer) {
	w.WriteString(e.Name)
	w.WriteString(e.Level)
	w.WriteUint8(uint8(e.Category))
	w.WriteString(e.Class)
	writeTransform(w, e.Transform)
	w.WriteBytes(e.Payload)
	writeComponents(w, e.Components)
}

// Decode reads a record written by Encode.
func (e *EntityRecord) Decode(r *codec.Reader) {
	e.Name = r.ReadString()
	e.Level = r.ReadString()
	e.Category = classify.Category(r.ReadUint8())
	e.Class = r.ReadString()
	e.Transform = readTransform(r)
	e.Payload = r.ReadBytes()
	e.Components = readComponents(r)
	if r.Err() == nil && !e.Category.Valid() {
		r.Fail(errBadCategory(e.Category))
	}
}

// Encode writes the record.
func (s *ScriptRecord) Encode(w *codec.Writer) {
	w.WriteString(s.Name)
	w.WriteString(s.Level)
	w.WriteBytes(s.Payload)
	writeComponents(w, s.Components)
}

// Decode reads a record written by Encode.
func (s *ScriptRecord) Decode(r *codec.Reader) {
	s.Name = r.ReadString()
	s.Level = r.ReadString()
	s.Payload = r.ReadBytes()
	s.Components = readComponents(r)
}

func writeObject(w *codec.Writer, o *ObjectRecord) {
	if o == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteBytes(o.Payload)
	writeComponents(w, o.Components)
}

func readObject(r *codec.Reader) *ObjectRecord {
	if !r.ReadBool() {
		return nil
	}
	return &ObjectRecord{Payload: r.ReadBytes(), Components: readComponents(r)}
}

func writeEntities(w *codec.Writer, recs []EntityRecord) {
	w.WriteLen(len(recs))
	for i := range recs {
		recs[i].Encode(w)
	}
}

func readEntities(r *codec.Reader) []EntityRecord {
	n := r.ReadLen()
	if n == 0 {
		return nil
	}
	recs := make([]EntityRecord, 0, min(n, r.Remaining()))
	for i := 0; i < n && r.Err() == nil; i++ {
		var e EntityRecord
		e.Decode(r)
		recs = append(recs, e)
	}
	return recs
}

func writeScripts(w *codec.Writer, scripts []ScriptRecord) {
	w.WriteLen(len(scripts))
	for i := range scripts {
		scripts[i].Encode(w)
	}
}

func readScripts(r *codec.Reader) []ScriptRecord {
	n := r.ReadLen()
	if n == 0 {
		return nil
	}
	scripts := make([]ScriptRecord, 0, min(n, r.Remaining()))
	for i := 0; i < n && r.Err() == nil; i++ {
		var s ScriptRecord
		s.Decode(r)
		scripts = append(scripts, s)
	}
	return scripts
}
