package archive

import (
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
)

// StreamingSnapshot is the running set of placed and destroyed records
// gathered across every level visited. Records are kept in insertion order
// and indexed by identity.
//
// A StreamingSnapshot is not safe for concurrent use.
type StreamingSnapshot struct {
	records []EntityRecord
	index   map[string]int
}

// NewStreamingSnapshot returns an empty snapshot.
func NewStreamingSnapshot() *StreamingSnapshot {
	return &StreamingSnapshot{index: make(map[string]int)}
}

// Put replaces the record with the same identity or appends rec.
// Records outside the streaming categories are ignored; Put reports whether
// rec was stored.
func (s *StreamingSnapshot) Put(rec EntityRecord) bool {
	if !classify.IsStreamRelevant(rec.Category) {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	id := rec.Identity()
	if i, ok := s.index[id]; ok {
		s.records[i] = rec
		return true
	}
	s.index[id] = len(s.records)
	s.records = append(s.records, rec)
	return true
}

// Get returns the record with identity id.
func (s *StreamingSnapshot) Get(id string) (EntityRecord, bool) {
	i, ok := s.index[id]
	if !ok {
		return EntityRecord{}, false
	}
	return s.records[i], true
}

// Len returns the number of records.
func (s *StreamingSnapshot) Len() int { return len(s.records) }

// Records returns a copy of the records in insertion order.
func (s *StreamingSnapshot) Records() []EntityRecord {
	return append([]EntityRecord(nil), s.records...)
}

// Retain keeps only the records for which keep returns true and rebuilds
// the index. Relative order is preserved.
func (s *StreamingSnapshot) Retain(keep func(EntityRecord) bool) {
	kept := s.records[:0]
	for _, rec := range s.records {
		if keep(rec) {
			kept = append(kept, rec)
		}
	}
	clear(s.records[len(kept):])
	s.records = kept
	s.reindex()
}

// Reset drops every record.
func (s *StreamingSnapshot) Reset() {
	s.records = nil
	s.index = make(map[string]int)
}

// Absorb puts every stream-relevant entity record of a into the snapshot.
func (s *StreamingSnapshot) Absorb(a LevelArchive) {
	for _, rec := range a.Entities {
		s.Put(rec)
	}
}

// FoldInto replaces or inserts every snapshot record into a.
func (s *StreamingSnapshot) FoldInto(a *LevelArchive) {
	for _, rec := range s.records {
		a.PutEntity(rec)
	}
}

func (s *StreamingSnapshot) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i, rec := range s.records {
		s.index[rec.Identity()] = i
	}
}

// Encode writes the snapshot.
func (s *StreamingSnapshot) Encode(w *codec.Writer) {
	writeEntities(w, s.records)
}

// Decode reads a snapshot written by Encode, replacing the current contents.
func (s *StreamingSnapshot) Decode(r *codec.Reader) {
	s.records = readEntities(r)
	s.reindex()
}
