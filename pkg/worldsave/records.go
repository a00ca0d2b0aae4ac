package worldsave

import (
	"fmt"

	"github.com/randalmurphal/worldsave/pkg/worldsave/archive"
	"github.com/randalmurphal/worldsave/pkg/worldsave/classify"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
	"github.com/randalmurphal/worldsave/pkg/worldsave/world"
)

// captured is the state of one object copied off the live simulation.
// Encoding a captured object never touches the entity again, so it can run
// on a worker.
type captured struct {
	name, level, class string
	category           classify.Category
	role               world.Role

	transform  *world.Transform
	schema     *codec.Schema
	state      codec.State
	components []capturedComponent
}

type capturedComponent struct {
	name      string
	transform *world.Transform
	schema    *codec.Schema
	state     codec.State
}

// capture copies the persisted state of e. It runs on the owning goroutine.
func capture(e world.Entity, c classify.Category) captured {
	out := captured{
		name:     e.Name(),
		level:    e.Level(),
		category: c,
		role:     e.Role(),
		schema:   e.Schema(),
	}
	if classify.HasClassPath(c) {
		out.class = e.Class()
	}
	if classify.CanProcessTransform(e) {
		t := e.Transform()
		out.transform = &t
	}
	if out.schema != nil {
		out.state = e.Snapshot()
	}
	for _, comp := range e.Components() {
		cc := capturedComponent{name: comp.Name(), schema: comp.Schema()}
		if comp.Movable() {
			t := comp.RelativeTransform()
			cc.transform = &t
		}
		if cc.schema != nil {
			cc.state = comp.Snapshot()
		}
		out.components = append(out.components, cc)
	}
	return out
}

// encoder turns captured state into payloads using one version context.
type encoder struct {
	version    uint32
	tagObjects bool
	multiLevel bool
}

func (enc encoder) tagged(c classify.Category) bool {
	return enc.tagObjects && classify.NeedsVersionTag(c, enc.multiLevel)
}

func (enc encoder) payload(s *codec.Schema, st codec.State, tagged bool) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return codec.EncodeObject(s, st, enc.version, tagged)
}

func (enc encoder) components(cc []capturedComponent, tagged bool) ([]archive.ComponentRecord, error) {
	if len(cc) == 0 {
		return nil, nil
	}
	out := make([]archive.ComponentRecord, 0, len(cc))
	for _, c := range cc {
		p, err := enc.payload(c.schema, c.state, tagged)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", c.name, err)
		}
		out = append(out, archive.ComponentRecord{Name: c.name, Transform: c.transform, Payload: p})
	}
	return out, nil
}

func (enc encoder) entity(c captured) (archive.EntityRecord, error) {
	tagged := enc.tagged(c.category)
	p, err := enc.payload(c.schema, c.state, tagged)
	if err != nil {
		return archive.EntityRecord{}, wserrors.SerializationFault("encode entity", c.name, err)
	}
	comps, err := enc.components(c.components, tagged)
	if err != nil {
		return archive.EntityRecord{}, wserrors.SerializationFault("encode entity", c.name, err)
	}
	return archive.EntityRecord{
		Name:       c.name,
		Level:      c.level,
		Category:   c.category,
		Class:      c.class,
		Transform:  c.transform,
		Payload:    p,
		Components: comps,
	}, nil
}

func (enc encoder) script(c captured) (archive.ScriptRecord, error) {
	tagged := enc.tagged(c.category)
	p, err := enc.payload(c.schema, c.state, tagged)
	if err != nil {
		return archive.ScriptRecord{}, wserrors.SerializationFault("encode script", c.name, err)
	}
	comps, err := enc.components(c.components, tagged)
	if err != nil {
		return archive.ScriptRecord{}, wserrors.SerializationFault("encode script", c.name, err)
	}
	return archive.ScriptRecord{Name: c.name, Level: c.level, Payload: p, Components: comps}, nil
}

func (enc encoder) object(c *captured) (*archive.ObjectRecord, error) {
	if c == nil {
		return nil, nil
	}
	p, err := enc.payload(c.schema, c.state, false)
	if err != nil {
		return nil, wserrors.SerializationFault("encode object", c.name, err)
	}
	comps, err := enc.components(c.components, false)
	if err != nil {
		return nil, wserrors.SerializationFault("encode object", c.name, err)
	}
	return &archive.ObjectRecord{Payload: p, Components: comps}, nil
}

// decoder applies payloads to live objects using the version context of
// the blob they came from.
type decoder struct {
	version    codec.VersionContext
	tagObjects bool
	multiLevel bool
}

func (dec decoder) tagged(c classify.Category) bool {
	return dec.tagObjects && classify.NeedsVersionTag(c, dec.multiLevel)
}

func (dec decoder) restore(o world.Object, name string, payload []byte, tagged bool) error {
	s := o.Schema()
	if s == nil || len(payload) == 0 {
		return nil
	}
	st, err := codec.DecodeObject(s, payload, dec.version, tagged)
	if err != nil {
		return wserrors.SerializationFault("decode object", name, err)
	}
	o.Restore(st)
	return nil
}

func (dec decoder) components(e world.Entity, recs []archive.ComponentRecord, tagged bool) error {
	if len(recs) == 0 {
		return nil
	}
	live := e.Components()
	for _, rec := range recs {
		for _, comp := range live {
			if comp.Name() != rec.Name {
				continue
			}
			if rec.Transform != nil && comp.Movable() && rec.Transform.Valid() {
				comp.SetRelativeTransform(*rec.Transform)
			}
			if err := dec.restore(comp, e.Name()+"."+rec.Name, rec.Payload, tagged); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

// entity applies rec to e: transform first, then payload, then components.
// The entity is flagged loaded and its post-load hook runs.
func (dec decoder) entity(e world.Entity, rec archive.EntityRecord) error {
	if rec.Transform != nil && classify.CanProcessTransform(e) && !rec.Transform.Degenerate() {
		e.SetTransform(*rec.Transform)
	}
	tagged := dec.tagged(rec.Category)
	if err := dec.restore(e, rec.Identity(), rec.Payload, tagged); err != nil {
		return err
	}
	if err := dec.components(e, rec.Components, tagged); err != nil {
		return err
	}
	e.SetFlag(world.FlagLoaded)
	if pl, ok := e.(world.PostLoader); ok {
		pl.Loaded()
	}
	return nil
}

func (dec decoder) script(e world.Entity, rec archive.ScriptRecord) error {
	tagged := dec.tagged(classify.LevelScript)
	if err := dec.restore(e, rec.Name, rec.Payload, tagged); err != nil {
		return err
	}
	if err := dec.components(e, rec.Components, tagged); err != nil {
		return err
	}
	if pl, ok := e.(world.PostLoader); ok {
		pl.Loaded()
	}
	return nil
}

func (dec decoder) object(e world.Entity, rec *archive.ObjectRecord) error {
	if !world.Valid(e) || rec.Empty() {
		return nil
	}
	if err := dec.restore(e, e.Name(), rec.Payload, false); err != nil {
		return err
	}
	if err := dec.components(e, rec.Components, false); err != nil {
		return err
	}
	if pl, ok := e.(world.PostLoader); ok {
		pl.Loaded()
	}
	return nil
}
