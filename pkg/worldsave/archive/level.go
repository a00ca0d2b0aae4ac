package archive

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
)

// PersistentLevel is the level id of the persistent pseudo-archive.
const PersistentLevel = "PersistentActors"

// ErrUnknownBlobKind indicates a body that is neither a single archive nor
// a stack.
var ErrUnknownBlobKind = errors.New("unknown archive kind")

func errBadCategory(c classify.Category) error {
	return fmt.Errorf("%w: invalid category %d", codec.ErrDecode, c)
}

// LevelArchive holds everything saved for one level.
type LevelArchive struct {
	Level     string
	Entities  []EntityRecord
	Scripts   []ScriptRecord
	GameMode  *ObjectRecord
	GameState *ObjectRecord
}

// Key implements Keyed.
func (a LevelArchive) Key() string { return a.Level }

// Clone returns a copy whose slices can be modified independently.
// Payload bytes are shared; they are never mutated in place.
func (a LevelArchive) Clone() LevelArchive {
	out := a
	out.Entities = append([]EntityRecord(nil), a.Entities...)
	out.Scripts = append([]ScriptRecord(nil), a.Scripts...)
	return out
}

// PutEntity replaces or appends a record by identity.
func (a *LevelArchive) PutEntity(rec EntityRecord) {
	a.Entities = ReplaceOrInsert(a.Entities, rec)
}

// PutScript replaces or appends a script record by name.
func (a *LevelArchive) PutScript(rec ScriptRecord) {
	a.Scripts = ReplaceOrInsert(a.Scripts, rec)
}

// Empty reports whether the archive carries no records.
func (a *LevelArchive) Empty() bool {
	return len(a.Entities) == 0 && len(a.Scripts) == 0 && a.GameMode.Empty() && a.GameState.Empty()
}

// Encode writes the archive.
func (a *LevelArchive) Encode(w *codec.Writer) {
	w.WriteString(a.Level)
	writeEntities(w, a.Entities)
	writeScripts(w, a.Scripts)
	writeObject(w, a.GameMode)
	writeObject(w, a.GameState)
}

// Decode reads an archive written by Encode.
func (a *LevelArchive) Decode(r *codec.Reader) {
	a.Level = r.ReadString()
	a.Entities = readEntities(r)
	a.Scripts = readScripts(r)
	a.GameMode = readObject(r)
	a.GameState = readObject(r)
}

// LevelStack holds the archives of every level visited in a session.
// Archives are unique by level; the persistent pseudo-archive is kept apart.
type LevelStack struct {
	Archives   []LevelArchive
	Persistent LevelArchive
	GameMode   *ObjectRecord
	GameState  *ObjectRecord
}

// Put replaces the archive with the same level or appends it.
func (s *LevelStack) Put(a LevelArchive) {
	s.Archives = ReplaceOrInsert(s.Archives, a)
}

// Find returns the archive saved for level.
func (s *LevelStack) Find(level string) (LevelArchive, bool) {
	for _, a := range s.Archives {
		if a.Level == level {
			return a, true
		}
	}
	return LevelArchive{}, false
}

// Encode writes the stack.
func (s *LevelStack) Encode(w *codec.Writer) {
	w.WriteLen(len(s.Archives))
	for i := range s.Archives {
		s.Archives[i].Encode(w)
	}
	s.Persistent.Encode(w)
	writeObject(w, s.GameMode)
	writeObject(w, s.GameState)
}

// Decode reads a stack written by Encode.
func (s *LevelStack) Decode(r *codec.Reader) {
	n := r.ReadLen()
	s.Archives = make([]LevelArchive, 0, min(n, r.Remaining()))
	for i := 0; i < n && r.Err() == nil; i++ {
		var a LevelArchive
		a.Decode(r)
		s.Archives = append(s.Archives, a)
	}
	s.Persistent.Decode(r)
	s.GameMode = readObject(r)
	s.GameState = readObject(r)
}

// Blob body kinds.
const (
	kindSingle uint8 = 1
	kindStack  uint8 = 2
)

// LevelBlob is the body of a saved level blob: a single archive or a stack.
// Exactly one of the fields is set.
type LevelBlob struct {
	Single *LevelArchive
	Stack  *LevelStack
}

// Encode writes the blob body.
func (b *LevelBlob) Encode(w *codec.Writer) {
	switch {
	case b.Stack != nil:
		w.WriteUint8(kindStack)
		b.Stack.Encode(w)
	case b.Single != nil:
		w.WriteUint8(kindSingle)
		b.Single.Encode(w)
	default:
		w.Fail(fmt.Errorf("%w: empty level blob", codec.ErrEncode))
	}
}

// Decode reads a blob body written by Encode.
func (b *LevelBlob) Decode(r *codec.Reader) {
	switch kind := r.ReadUint8(); kind {
	case kindStack:
		b.Stack = &LevelStack{}
		b.Stack.Decode(r)
	case kindSingle:
		b.Single = &LevelArchive{}
		b.Single.Decode(r)
	default:
		if r.Err() == nil {
			r.Fail(fmt.Errorf("%w: %w: %d", codec.ErrDecode, ErrUnknownBlobKind, kind))
		}
	}
}
