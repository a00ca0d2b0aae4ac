package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
)

// SlotInfo describes a saved slot.
type SlotInfo struct {
	Name      string
	Timestamp time.Time
	Level     string
	Players   []string
}

// Encode writes the slot info.
func (s *SlotInfo) Encode(w *codec.Writer) {
	w.WriteString(s.Name)
	w.WriteInt(s.Timestamp.UnixNano())
	w.WriteString(s.Level)
	w.WriteLen(len(s.Players))
	for _, p := range s.Players {
		w.WriteString(p)
	}
}

// Decode reads slot info written by Encode.
func (s *SlotInfo) Decode(r *codec.Reader) {
	s.Name = r.ReadString()
	s.Timestamp = time.Unix(0, r.ReadInt()).UTC()
	s.Level = r.ReadString()
	n := r.ReadLen()
	s.Players = nil
	for i := 0; i < n && r.Err() == nil; i++ {
		s.Players = append(s.Players, r.ReadString())
	}
}

// WriteSlotInfo stores info for the slot in keys.
func (a *Adapter) WriteSlotInfo(keys Keys, info SlotInfo) error {
	_, err := a.Store(keys.SlotInfo(), func(w *codec.Writer) error {
		info.Encode(w)
		return nil
	})
	return err
}

// ReadSlotInfo loads the info of the slot in keys.
func (a *Adapter) ReadSlotInfo(keys Keys) (SlotInfo, codec.Trailer, error) {
	var info SlotInfo
	_, tr, err := a.Load(keys.SlotInfo(), func(r *codec.Reader) error {
		info.Decode(r)
		return r.Err()
	})
	return info, tr, err
}

// ListSlots returns the slots of keys.User, newest first.
// Slots whose info cannot be read are skipped.
func (a *Adapter) ListSlots(keys Keys) ([]SlotInfo, error) {
	infos, err := a.backend.List(keys.UserPrefix())
	if err != nil {
		return nil, wserrors.IoFailure("list slots", keys.UserPrefix(), err)
	}

	type entry struct {
		info SlotInfo
		seq  int64
	}
	var entries []entry
	for _, bi := range infos {
		slot, ok := keys.slotOf(bi.Key)
		if !ok {
			continue
		}
		info, _, err := a.ReadSlotInfo(Keys{User: keys.User, Slot: slot})
		if err != nil {
			continue
		}
		if info.Name == "" {
			info.Name = slot
		}
		entries = append(entries, entry{info: info, seq: bi.Sequence})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := entries[i].info.Timestamp, entries[j].info.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].seq > entries[j].seq
	})

	out := make([]SlotInfo, len(entries))
	for i, e := range entries {
		out[i] = e.info
	}
	return out, nil
}

// SlotExists reports whether the slot in keys has any saved data.
func (a *Adapter) SlotExists(keys Keys) bool {
	return a.Exists(keys.SlotInfo()) || a.Exists(keys.Player()) || a.Exists(keys.Level())
}

// DeleteSlot removes every blob of the slot in keys, including its
// slot-scoped custom objects.
func (a *Adapter) DeleteSlot(keys Keys) error {
	infos, err := a.backend.List(keys.Prefix())
	if err != nil {
		return wserrors.IoFailure("list slot", keys.Prefix(), err)
	}
	var errs []error
	for _, bi := range infos {
		if err := a.Delete(bi.Key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CompareTrailers checks the trailers found for a slot against each other
// and against want. Missing artifacts are not part of found.
func CompareTrailers(found map[string]codec.Trailer, want codec.Trailer) error {
	keys := make([]string, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatched []string
	for _, k := range keys {
		tr := found[k]
		if tr.Game != want.Game {
			mismatched = append(mismatched, fmt.Sprintf("%s: game version %d, want %d", k, tr.Game, want.Game))
			continue
		}
		if tr.Plugin != "" && tr.Plugin != want.Plugin {
			mismatched = append(mismatched, fmt.Sprintf("%s: plugin version %q, want %q", k, tr.Plugin, want.Plugin))
		}
	}
	if len(mismatched) > 0 {
		return wserrors.VersionMismatch("check versions", "", errors.New(strings.Join(mismatched, "; ")))
	}
	return nil
}
