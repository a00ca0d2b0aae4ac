package archive

import (
	"fmt"

	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

// PawnRecord is the saved state of the player's character.
type PawnRecord struct {
	ObjectRecord
	Position world.Vector
	Rotation world.Rotator
}

// PlayerArchive holds the saved player objects.
type PlayerArchive struct {
	Level           string
	Controller      ObjectRecord
	ControlRotation world.Rotator
	Pawn            PawnRecord
	PlayerState     ObjectRecord
}

// Empty reports whether nothing was saved for the player.
func (p *PlayerArchive) Empty() bool {
	return p.Controller.Empty() && p.Pawn.Empty() && p.PlayerState.Empty() &&
		p.Pawn.Position.IsNearlyZero()
}

// Encode writes the archive.
func (p *PlayerArchive) Encode(w *codec.Writer) {
	w.WriteString(p.Level)
	writeObject(w, &p.Controller)
	writeRotator(w, p.ControlRotation)
	writeObject(w, &p.Pawn.ObjectRecord)
	writeVector(w, p.Pawn.Position)
	writeRotator(w, p.Pawn.Rotation)
	writeObject(w, &p.PlayerState)
}

// Decode reads an archive written by Encode.
func (p *PlayerArchive) Decode(r *codec.Reader) {
	p.Level = r.ReadString()
	p.Controller = derefObject(readObject(r))
	p.ControlRotation = readRotator(r)
	p.Pawn.ObjectRecord = derefObject(readObject(r))
	p.Pawn.Position = readVector(r)
	p.Pawn.Rotation = readRotator(r)
	p.PlayerState = derefObject(readObject(r))
}

func derefObject(o *ObjectRecord) ObjectRecord {
	if o == nil {
		return ObjectRecord{}
	}
	return *o
}

// LevelPosition is where the player stood when a level was last saved.
type LevelPosition struct {
	Level           string
	Position        world.Vector
	Rotation        world.Rotator
	ControlRotation world.Rotator
}

// Key implements Keyed.
func (l LevelPosition) Key() string { return l.Level }

// PlayerStack keeps one player archive plus a per-level position, so the
// player reappears where they left each level.
type PlayerStack struct {
	Player    PlayerArchive
	Positions []LevelPosition
}

// Put stores p as the current player archive and records its position for
// the level it was saved on.
func (s *PlayerStack) Put(p PlayerArchive) {
	s.Player = p
	s.Positions = ReplaceOrInsert(s.Positions, LevelPosition{
		Level:           p.Level,
		Position:        p.Pawn.Position,
		Rotation:        p.Pawn.Rotation,
		ControlRotation: p.ControlRotation,
	})
}

// Position returns the position recorded for level.
func (s *PlayerStack) Position(level string) (LevelPosition, bool) {
	for _, p := range s.Positions {
		if p.Level == level {
			return p, true
		}
	}
	return LevelPosition{}, false
}

// Resolve returns the player archive to apply on level. Without a recorded
// position for level the pawn position and rotations are cleared.
func (s *PlayerStack) Resolve(level string) PlayerArchive {
	p := s.Player
	pos, ok := s.Position(level)
	if !ok {
		p.Pawn.Position = world.Vector{}
		p.Pawn.Rotation = world.Rotator{}
		p.ControlRotation = world.Rotator{}
		return p
	}
	p.Pawn.Position = pos.Position
	p.Pawn.Rotation = pos.Rotation
	p.ControlRotation = pos.ControlRotation
	return p
}

// Encode writes the stack.
func (s *PlayerStack) Encode(w *codec.Writer) {
	s.Player.Encode(w)
	w.WriteLen(len(s.Positions))
	for _, p := range s.Positions {
		w.WriteString(p.Level)
		writeVector(w, p.Position)
		writeRotator(w, p.Rotation)
		writeRotator(w, p.ControlRotation)
	}
}

// Decode reads a stack written by Encode.
func (s *PlayerStack) Decode(r *codec.Reader) {
	s.Player.Decode(r)
	n := r.ReadLen()
	s.Positions = make([]LevelPosition, 0, min(n, r.Remaining()))
	for i := 0; i < n && r.Err() == nil; i++ {
		s.Positions = append(s.Positions, LevelPosition{
			Level:           r.ReadString(),
			Position:        readVector(r),
			Rotation:        readRotator(r),
			ControlRotation: readRotator(r),
		})
	}
}

// PlayerBlob is the body of a saved player blob.
// Exactly one of the fields is set.
type PlayerBlob struct {
	Single *PlayerArchive
	Stack  *PlayerStack
}

// Encode writes the blob body.
func (b *PlayerBlob) Encode(w *codec.Writer) {
	switch {
	case b.Stack != nil:
		w.WriteUint8(kindStack)
		b.Stack.Encode(w)
	case b.Single != nil:
		w.WriteUint8(kindSingle)
		b.Single.Encode(w)
	default:
		w.Fail(fmt.Errorf("%w: empty player blob", codec.ErrEncode))
	}
}

// Decode reads a blob body written by Encode.
func (b *PlayerBlob) Decode(r *codec.Reader) {
	switch kind := r.ReadUint8(); kind {
	case kindStack:
		b.Stack = &PlayerStack{}
		b.Stack.Decode(r)
	case kindSingle:
		b.Single = &PlayerArchive{}
		b.Single.Decode(r)
	default:
		if r.Err() == nil {
			r.Fail(fmt.Errorf("%w: %w: %d", codec.ErrDecode, ErrUnknownBlobKind, kind))
		}
	}
}
