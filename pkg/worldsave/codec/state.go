package codec

import (
	"fmt"
	"maps"
	"slices"
)

// State holds the persisted field values of one object, keyed by field name.
//
// Decoded values always use canonical types: bool, int64, uint64, float64,
// string, []byte, State, []any, []State, map[string]any and map[string]State.
// Encoding also accepts the other Go integer and float kinds.
type State map[string]any

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case State:
		return val.Clone()
	case []byte:
		return slices.Clone(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = cloneValue(val[i])
		}
		return out
	case []State:
		out := make([]State, len(val))
		for i := range val {
			out[i] = val[i].Clone()
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case map[string]State:
		out := make(map[string]State, len(val))
		for k, e := range val {
			out[k] = e.Clone()
		}
		return out
	default:
		return v
	}
}

// Encode serializes st with schema s as it exists at schema version v.
// Fields are written positionally in declaration order; missing values are
// written as the zero value of their type.
func Encode(s *Schema, st State, v uint32) ([]byte, error) {
	w := NewWriter()
	defer w.Release()

	w.WriteState(s, st, v)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.Name(), err)
	}
	return w.Bytes(), nil
}

// Decode deserializes bytes produced by Encode at schema version v.
// Only fields live at v appear in the result.
func Decode(s *Schema, b []byte, v uint32) (State, error) {
	r := NewReader(b, VersionContext{Schema: v, Legacy: v})
	defer r.Release()

	st := r.ReadState(s, v)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Name(), err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("decode %s: %w: %d trailing bytes", s.Name(), ErrDecode, r.Remaining())
	}
	return st, nil
}

// WriteState writes every field of s live at version v.
func (w *Writer) WriteState(s *Schema, st State, v uint32) {
	for _, f := range s.fields {
		if !f.LiveAt(v) {
			continue
		}
		w.writeField(s, f, st[f.Name], v)
		if w.err != nil {
			return
		}
	}
}

func (w *Writer) writeField(s *Schema, f Field, val any, v uint32) {
	switch f.Type {
	case TypeStruct:
		nested, err := asState(val)
		if err != nil {
			w.Fail(fieldErr(s, f, err))
			return
		}
		w.WriteState(f.Schema, nested, v)
	case TypeArray:
		w.writeArray(s, f, val, v)
	case TypeMap:
		w.writeMap(s, f, val, v)
	default:
		if err := w.writeScalar(f.Type, val); err != nil {
			w.Fail(fieldErr(s, f, err))
		}
	}
}

func (w *Writer) writeArray(s *Schema, f Field, val any, v uint32) {
	if f.Elem == TypeStruct {
		items, err := asStateSlice(val)
		if err != nil {
			w.Fail(fieldErr(s, f, err))
			return
		}
		w.WriteLen(len(items))
		for _, item := range items {
			w.WriteState(f.Schema, item, v)
		}
		return
	}

	items, err := asSlice(val)
	if err != nil {
		w.Fail(fieldErr(s, f, err))
		return
	}
	w.WriteLen(len(items))
	for _, item := range items {
		if err := w.writeScalar(f.Elem, item); err != nil {
			w.Fail(fieldErr(s, f, err))
			return
		}
	}
}

// writeMap writes entries sorted by key so the output is deterministic.
func (w *Writer) writeMap(s *Schema, f Field, val any, v uint32) {
	if f.Elem == TypeStruct {
		entries, err := asStateMap(val)
		if err != nil {
			w.Fail(fieldErr(s, f, err))
			return
		}
		w.WriteMapLen(len(entries))
		for _, k := range slices.Sorted(maps.Keys(entries)) {
			w.WriteString(k)
			w.WriteState(f.Schema, entries[k], v)
		}
		return
	}

	entries, err := asMap(val)
	if err != nil {
		w.Fail(fieldErr(s, f, err))
		return
	}
	w.WriteMapLen(len(entries))
	for _, k := range slices.Sorted(maps.Keys(entries)) {
		w.WriteString(k)
		if err := w.writeScalar(f.Elem, entries[k]); err != nil {
			w.Fail(fieldErr(s, f, err))
			return
		}
	}
}

func (w *Writer) writeScalar(t Type, val any) error {
	switch t {
	case TypeBool:
		b, ok := val.(bool)
		if !ok && val != nil {
			return typeErr(t, val)
		}
		w.WriteBool(b)
	case TypeInt:
		n, ok := toInt64(val)
		if !ok {
			return typeErr(t, val)
		}
		w.WriteInt(n)
	case TypeUint:
		n, ok := toUint64(val)
		if !ok {
			return typeErr(t, val)
		}
		w.WriteUint(n)
	case TypeFloat:
		n, ok := toFloat64(val)
		if !ok {
			return typeErr(t, val)
		}
		w.WriteFloat(n)
	case TypeString:
		str, ok := val.(string)
		if !ok && val != nil {
			return typeErr(t, val)
		}
		w.WriteString(str)
	case TypeBytes:
		b, ok := val.([]byte)
		if !ok && val != nil {
			return typeErr(t, val)
		}
		w.WriteBytes(b)
	case TypeVector:
		v, ok := toVec3(val)
		if !ok {
			return typeErr(t, val)
		}
		w.WriteLen(len(v))
		for _, c := range v {
			w.WriteFloat(c)
		}
	default:
		return fmt.Errorf("unsupported scalar type %s", t)
	}
	return nil
}

// ReadState reads every field of s live at version v.
func (r *Reader) ReadState(s *Schema, v uint32) State {
	st := make(State, len(s.fields))
	for _, f := range s.fields {
		if !f.LiveAt(v) {
			continue
		}
		st[f.Name] = r.readField(f, v)
		if r.err != nil {
			return st
		}
	}
	return st
}

func (r *Reader) readField(f Field, v uint32) any {
	switch f.Type {
	case TypeStruct:
		return r.ReadState(f.Schema, v)
	case TypeArray:
		n := r.ReadLen()
		hint := min(n, r.Remaining())
		if f.Elem == TypeStruct {
			items := make([]State, 0, hint)
			for i := 0; i < n && r.err == nil; i++ {
				items = append(items, r.ReadState(f.Schema, v))
			}
			return items
		}
		items := make([]any, 0, hint)
		for i := 0; i < n && r.err == nil; i++ {
			items = append(items, r.readScalar(f.Elem))
		}
		return items
	case TypeMap:
		n := r.ReadMapLen()
		hint := min(n, r.Remaining())
		if f.Elem == TypeStruct {
			entries := make(map[string]State, hint)
			for i := 0; i < n && r.err == nil; i++ {
				k := r.ReadString()
				entries[k] = r.ReadState(f.Schema, v)
			}
			return entries
		}
		entries := make(map[string]any, hint)
		for i := 0; i < n && r.err == nil; i++ {
			k := r.ReadString()
			entries[k] = r.readScalar(f.Elem)
		}
		return entries
	default:
		return r.readScalar(f.Type)
	}
}

func (r *Reader) readScalar(t Type) any {
	switch t {
	case TypeBool:
		return r.ReadBool()
	case TypeInt:
		return r.ReadInt()
	case TypeUint:
		return r.ReadUint()
	case TypeFloat:
		return r.ReadFloat()
	case TypeString:
		return r.ReadString()
	case TypeBytes:
		return r.ReadBytes()
	case TypeVector:
		var v Vec3
		if n := r.ReadLen(); n != len(v) && r.err == nil {
			r.Fail(fmt.Errorf("%w: vector of %d components", ErrDecode, n))
			return v
		}
		for i := range v {
			v[i] = r.ReadFloat()
		}
		return v
	default:
		r.Fail(fmt.Errorf("%w: unsupported scalar type %s", ErrDecode, t))
		return nil
	}
}

func fieldErr(s *Schema, f Field, err error) error {
	return fmt.Errorf("%w: %s.%s: %v", ErrEncode, s.Name(), f.Name, err)
}

func typeErr(t Type, val any) error {
	return fmt.Errorf("want %s, got %T", t, val)
}

func asState(val any) (State, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case State:
		return v, nil
	case map[string]any:
		return State(v), nil
	default:
		return nil, fmt.Errorf("want struct state, got %T", val)
	}
}

func asStateSlice(val any) ([]State, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case []State:
		return v, nil
	case []any:
		out := make([]State, len(v))
		for i, item := range v {
			st, err := asState(item)
			if err != nil {
				return nil, err
			}
			out[i] = st
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want struct array, got %T", val)
	}
}

func asSlice(val any) ([]any, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []string:
		return toAnySlice(v), nil
	case []int64:
		return toAnySlice(v), nil
	case []int:
		return toAnySlice(v), nil
	case []float64:
		return toAnySlice(v), nil
	case []bool:
		return toAnySlice(v), nil
	default:
		return nil, fmt.Errorf("want array, got %T", val)
	}
}

func toAnySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out
}

func asStateMap(val any) (map[string]State, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case map[string]State:
		return v, nil
	case map[string]any:
		out := make(map[string]State, len(v))
		for k, item := range v {
			st, err := asState(item)
			if err != nil {
				return nil, err
			}
			out[k] = st
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want struct map, got %T", val)
	}
}

func asMap(val any) (map[string]any, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case map[string]int64:
		out := make(map[string]any, len(v))
		for k, n := range v {
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want map, got %T", val)
	}
}

func toInt64(val any) (int64, bool) {
	switch v := val.(type) {
	case nil:
		return 0, true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	default:
		return 0, false
	}
}

func toUint64(val any) (uint64, bool) {
	switch v := val.(type) {
	case nil:
		return 0, true
	case uint:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

func toVec3(val any) (Vec3, bool) {
	switch v := val.(type) {
	case nil:
		return Vec3{}, true
	case Vec3:
		return v, true
	case [3]float64:
		return Vec3(v), true
	case interface{ XYZ() (x, y, z float64) }:
		x, y, z := v.XYZ()
		return Vec3{x, y, z}, true
	}
	return Vec3{}, false
}

func toFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case nil:
		return 0, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
