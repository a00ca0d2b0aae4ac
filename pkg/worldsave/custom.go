package worldsave

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	"github.com/randalmurphal/worldsave/pkg/worldsave/custom"
	"github.com/randalmurphal/worldsave/pkg/worldsave/observability"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
)

// CustomObject returns the cached custom save object name, loading it
// from the backend the first time it is requested. A slot-scoped object
// belongs to the active slot; the others are shared by every slot of the
// active user.
func (s *Session) CustomObject(name string, slotScoped bool, schema *codec.Schema) (*custom.Object, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if schema == nil {
		return nil, fmt.Errorf("custom object %s: %w: nil schema", name, codec.ErrSchema)
	}
	slot, _ := s.keys()
	key := custom.KeyFor(name, slot, slotScoped)
	if obj, ok := s.cache.Get(key); ok {
		return obj, nil
	}

	obj := custom.NewObject(key, schema)
	blobKey := s.storeKeys().Custom(name, slotScoped)
	_, _, err := s.adapter.Load(blobKey, func(r *codec.Reader) error {
		if got := r.ReadString(); r.Err() == nil && got != schema.Name() {
			return fmt.Errorf("%w: stored schema %q, want %q", codec.ErrDecode, got, schema.Name())
		}
		st := r.ReadState(schema, r.Version.Schema)
		if err := r.Err(); err != nil {
			return err
		}
		obj.Restore(st)
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrNoSave) {
		return nil, err
	}
	return s.cache.GetOrCreate(key, func() *custom.Object { return obj }), nil
}

// SaveCustom writes obj to the backend.
func (s *Session) SaveCustom(obj *custom.Object) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	keys := s.storeKeys()
	if obj.SlotScoped() {
		keys.Slot = obj.Key().Slot
	}
	key := keys.Custom(obj.Name(), obj.SlotScoped())
	schema := obj.Schema()
	state := obj.Snapshot()
	version := s.settings.SchemaVersion

	n, err := s.adapter.Store(key, func(w *codec.Writer) error {
		w.WriteString(schema.Name())
		w.WriteState(schema, state, version)
		return w.Err()
	})
	if err != nil {
		return err
	}
	observability.LogBlobWritten(s.logger, key, n)
	return nil
}

// SaveAllCustom writes every cached custom object of the active slot and
// every shared custom object.
func (s *Session) SaveAllCustom() error {
	slot, _ := s.keys()
	var errs []error
	for _, obj := range s.cache.Objects() {
		if obj.SlotScoped() && obj.Key().Slot != slot {
			continue
		}
		if err := s.SaveCustom(obj); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteCustom removes the custom object name, both its slot-scoped copy
// in the active slot and its shared copy, from the cache and the backend.
func (s *Session) DeleteCustom(name string) error {
	slot, _ := s.keys()
	keys := s.storeKeys()

	s.cache.Evict(custom.KeyFor(name, slot, true))
	s.cache.Evict(custom.KeyFor(name, slot, false))

	var errs []error
	for _, key := range []string{keys.Custom(name, true), keys.Custom(name, false)} {
		if err := s.adapter.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Debug("custom object deleted", slog.String("name", name))
	return nil
}
