package worldsave

import (
	"errors"

	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	"github.com/randalmurphal/worldsave/pkg/worldsave/observability"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
)

// CheckVersions compares the trailers of the active slot's artifacts with
// each other and with the running build. A mismatch is returned as a
// VersionMismatch error; it never blocks loading. Artifacts that are
// missing or were written without a trailer are not compared.
func (s *Session) CheckVersions() error {
	keys := s.storeKeys()
	found := make(map[string]codec.Trailer, 3)

	artifacts := []struct {
		name string
		key  string
		read func(*codec.Reader) error
	}{
		{"player", keys.Player(), func(r *codec.Reader) error {
			var b archive.PlayerBlob
			b.Decode(r)
			return r.Err()
		}},
		{"level", keys.Level(), func(r *codec.Reader) error {
			var b archive.LevelBlob
			b.Decode(r)
			return r.Err()
		}},
		{"slotinfo", keys.SlotInfo(), func(r *codec.Reader) error {
			var info store.SlotInfo
			info.Decode(r)
			return r.Err()
		}},
	}

	for _, a := range artifacts {
		_, tr, err := s.adapter.Load(a.key, a.read)
		if errors.Is(err, store.ErrNoSave) {
			continue
		}
		if err != nil {
			return err
		}
		if tr == (codec.Trailer{}) {
			continue
		}
		found[a.name] = tr
	}

	if err := store.CompareTrailers(found, s.adapter.Trailer()); err != nil {
		observability.LogVersionMismatch(s.logger, keys.Slot, err)
		return err
	}
	return nil
}
