package codec

import (
	"fmt"
)

// Type tags a persisted field.
type Type uint8

const (
	// TypeBool is a boolean field.
	TypeBool Type = iota + 1
	// TypeInt is a signed 64-bit integer field.
	TypeInt
	// TypeUint is an unsigned 64-bit integer field.
	TypeUint
	// TypeFloat is a float64 field.
	TypeFloat
	// TypeString is a UTF-8 string field.
	TypeString
	// TypeBytes is an opaque byte slice field.
	TypeBytes
	// TypeStruct is a nested structure described by Field.Schema.
	TypeStruct
	// TypeArray is an ordered list of Field.Elem values.
	TypeArray
	// TypeMap maps string keys to Field.Elem values.
	TypeMap
	// TypeVector is a three-component float vector, decoded as Vec3.
	TypeVector
)

// Vec3 is the decoded value of a TypeVector field. Encoding also accepts
// [3]float64 and any value with an XYZ method.
type Vec3 [3]float64

// XYZ returns the components of v.
func (v Vec3) XYZ() (x, y, z float64) { return v[0], v[1], v[2] }

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeUint:
		return "uint"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeStruct:
		return "struct"
	case TypeArray:
		return "array"
	case TypeMap:
		return "map"
	case TypeVector:
		return "vector"
	default:
		return "unknown"
	}
}

func (t Type) scalar() bool {
	return (t >= TypeBool && t <= TypeBytes) || t == TypeVector
}

// Field declares one persisted field.
//
// Since and Until bound the schema versions that carry the field: a field is
// live at version v when Since <= v and (Until == 0 or v < Until).
type Field struct {
	Name string
	Type Type

	// Elem is the element type of an array or map field.
	Elem Type

	// Schema describes struct fields and struct elements.
	Schema *Schema

	Since uint32
	Until uint32
}

// LiveAt reports whether the field is present at schema version v.
func (f Field) LiveAt(v uint32) bool {
	if v < f.Since {
		return false
	}
	return f.Until == 0 || v < f.Until
}

// Bool declares a boolean field.
func Bool(name string) Field { return Field{Name: name, Type: TypeBool} }

// Int declares a signed integer field.
func Int(name string) Field { return Field{Name: name, Type: TypeInt} }

// Uint declares an unsigned integer field.
func Uint(name string) Field { return Field{Name: name, Type: TypeUint} }

// Float declares a float field.
func Float(name string) Field { return Field{Name: name, Type: TypeFloat} }

// String declares a string field.
func String(name string) Field { return Field{Name: name, Type: TypeString} }

// Bytes declares a byte slice field.
func Bytes(name string) Field { return Field{Name: name, Type: TypeBytes} }

// Vector declares a three-component float vector field.
func Vector(name string) Field { return Field{Name: name, Type: TypeVector} }

// Struct declares a nested structure field.
func Struct(name string, s *Schema) Field { return Field{Name: name, Type: TypeStruct, Schema: s} }

// Array declares a list of scalar values.
func Array(name string, elem Type) Field { return Field{Name: name, Type: TypeArray, Elem: elem} }

// StructArray declares a list of structures.
func StructArray(name string, s *Schema) Field {
	return Field{Name: name, Type: TypeArray, Elem: TypeStruct, Schema: s}
}

// Map declares a string-keyed map of scalar values.
func Map(name string, elem Type) Field { return Field{Name: name, Type: TypeMap, Elem: elem} }

// StructMap declares a string-keyed map of structures.
func StructMap(name string, s *Schema) Field {
	return Field{Name: name, Type: TypeMap, Elem: TypeStruct, Schema: s}
}

// Added returns a copy of f that first appears at schema version v.
func (f Field) Added(v uint32) Field {
	f.Since = v
	return f
}

// Removed returns a copy of f that is dropped from schema version v on.
func (f Field) Removed(v uint32) Field {
	f.Until = v
	return f
}

// Schema is the compiled, ordered list of persisted fields of one type.
// A Schema is immutable once compiled and safe for concurrent use.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
}

// Compile validates the field list and builds a Schema.
// Nested schemas must already be compiled.
func Compile(name string, fields ...Field) (*Schema, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: schema name is empty", ErrSchema)
	}

	s := &Schema{
		name:   name,
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}

	for _, f := range fields {
		if err := checkField(name, f); err != nil {
			return nil, err
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate field %q", ErrSchema, name, f.Name)
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}

	return s, nil
}

// MustCompile is like Compile but panics on error.
// Use it for package-level schema declarations.
func MustCompile(name string, fields ...Field) *Schema {
	s, err := Compile(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func checkField(schema string, f Field) error {
	if f.Name == "" {
		return fmt.Errorf("%w: %s: field name is empty", ErrSchema, schema)
	}
	if f.Until != 0 && f.Until <= f.Since {
		return fmt.Errorf("%w: %s.%s: removed at %d before it was added at %d",
			ErrSchema, schema, f.Name, f.Until, f.Since)
	}

	switch {
	case f.Type.scalar():
		return nil
	case f.Type == TypeStruct:
		if f.Schema == nil {
			return fmt.Errorf("%w: %s.%s: struct field without schema", ErrSchema, schema, f.Name)
		}
		return nil
	case f.Type == TypeArray || f.Type == TypeMap:
		if f.Elem == TypeStruct {
			if f.Schema == nil {
				return fmt.Errorf("%w: %s.%s: struct elements without schema", ErrSchema, schema, f.Name)
			}
			return nil
		}
		if !f.Elem.scalar() {
			return fmt.Errorf("%w: %s.%s: unsupported element type %s", ErrSchema, schema, f.Name, f.Elem)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s.%s: unknown type %d", ErrSchema, schema, f.Name, f.Type)
	}
}

// Name returns the schema name.
func (s *Schema) Name() string {
	return s.name
}

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}
