// Package custom holds caller-defined save objects that live outside the
// level and player archives, such as settings or quest logs.
//
// Objects are cached by name and slot. A shared object uses an empty slot
// and survives slot switches; a slot-scoped object is evicted when its slot
// is deleted or replaced.
package custom

import (
	"sync"

	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	"github.com/randalmurphal/worldsave/pkg/worldsave/registry"
)

// Key identifies a cached object.
type Key struct {
	Name string
	// Slot is empty for objects shared by every slot.
	Slot string
}

// KeyFor builds the key of name for slot. Shared objects ignore slot.
func KeyFor(name, slot string, slotScoped bool) Key {
	if !slotScoped {
		slot = ""
	}
	return Key{Name: name, Slot: slot}
}

// Object is one custom save object.
type Object struct {
	key    Key
	schema *codec.Schema

	mu    sync.Mutex
	state codec.State
}

// NewObject creates an empty object.
func NewObject(key Key, schema *codec.Schema) *Object {
	return &Object{key: key, schema: schema, state: codec.State{}}
}

// Key returns the cache key.
func (o *Object) Key() Key { return o.key }

// Name returns the object name.
func (o *Object) Name() string { return o.key.Name }

// SlotScoped reports whether the object belongs to a single slot.
func (o *Object) SlotScoped() bool { return o.key.Slot != "" }

// Schema implements world.Object.
func (o *Object) Schema() *codec.Schema { return o.schema }

// Snapshot implements world.Object.
func (o *Object) Snapshot() codec.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Restore implements world.Object.
func (o *Object) Restore(st codec.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st == nil {
		st = codec.State{}
	}
	o.state = st.Clone()
}

// Get returns one field value.
func (o *Object) Get(field string) any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state[field]
}

// Set changes one field value.
func (o *Object) Set(field string, v any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state[field] = v
}

// Cache maps keys to owned objects. Nothing is evicted implicitly.
type Cache struct {
	objects *registry.Registry[Key, *Object]
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{objects: registry.New[Key, *Object]()}
}

// Get returns the cached object for key.
func (c *Cache) Get(key Key) (*Object, bool) {
	return c.objects.Get(key)
}

// Insert caches obj under its key, replacing any previous object.
func (c *Cache) Insert(obj *Object) {
	c.objects.Register(obj.Key(), obj)
}

// GetOrCreate returns the cached object for key, creating it with create
// if absent.
func (c *Cache) GetOrCreate(key Key, create func() *Object) *Object {
	return c.objects.GetOrCreate(key, create)
}

// Evict removes key and reports whether it was cached.
func (c *Cache) Evict(key Key) bool {
	return c.objects.Delete(key)
}

// EvictSlot removes every object scoped to slot and returns the count.
func (c *Cache) EvictSlot(slot string) int {
	if slot == "" {
		return 0
	}
	return c.objects.DeleteFunc(func(k Key, _ *Object) bool { return k.Slot == slot })
}

// EvictName removes every object named name, shared or slot-scoped.
func (c *Cache) EvictName(name string) int {
	return c.objects.DeleteFunc(func(k Key, _ *Object) bool { return k.Name == name })
}

// Objects returns the cached objects in no particular order.
func (c *Cache) Objects() []*Object {
	out := make([]*Object, 0, c.objects.Len())
	c.objects.Range(func(_ Key, o *Object) bool {
		out = append(out, o)
		return true
	})
	return out
}

// Len returns the number of cached objects.
func (c *Cache) Len() int { return c.objects.Len() }

// Clear evicts everything.
func (c *Cache) Clear() { c.objects.Clear() }
