package codec_test

import (
	"testing"

	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		fields []codec.Field
	}{
		{"empty schema name", "", []codec.Field{codec.Int("a")}},
		{"empty field name", "S", []codec.Field{codec.Int("")}},
		{"duplicate field", "S", []codec.Field{codec.Int("a"), codec.String("a")}},
		{"struct without schema", "S", []codec.Field{codec.Struct("a", nil)}},
		{"struct array without schema", "S", []codec.Field{codec.StructArray("a", nil)}},
		{"nested container", "S", []codec.Field{{Name: "a", Type: codec.TypeArray, Elem: codec.TypeMap}}},
		{"unknown type", "S", []codec.Field{{Name: "a", Type: codec.Type(200)}}},
		{"removed before added", "S", []codec.Field{codec.Int("a").Added(3).Removed(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Compile(tt.schema, tt.fields...)
			assert.ErrorIs(t, err, codec.ErrSchema)
		})
	}
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() {
		codec.MustCompile("S", codec.Int("a"), codec.Int("a"))
	})
}

func TestSchema_FieldLookup(t *testing.T) {
	s := codec.MustCompile("S", codec.Int("a"), codec.Float("b").Added(2))

	f, ok := s.Field("b")
	require.True(t, ok)
	assert.Equal(t, codec.TypeFloat, f.Type)
	assert.False(t, f.LiveAt(1))
	assert.True(t, f.LiveAt(2))

	_, ok = s.Field("missing")
	assert.False(t, ok)

	fields := s.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "a", fields[0].Name)
}

func TestSchemas_Registry(t *testing.T) {
	schemas := codec.NewSchemas()

	_, err := schemas.Declare("Door", codec.Bool("open"))
	require.NoError(t, err)
	require.NoError(t, schemas.Register(itemSchema))

	_, err = schemas.Declare("Door", codec.Bool("open"))
	assert.ErrorIs(t, err, codec.ErrSchema)

	s, err := schemas.Lookup("Item")
	require.NoError(t, err)
	assert.Same(t, itemSchema, s)

	_, err = schemas.Lookup("Nope")
	assert.ErrorIs(t, err, codec.ErrUnknownSchema)

	assert.Equal(t, []string{"Door", "Item"}, schemas.Names())
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "struct", codec.TypeStruct.String())
	assert.Equal(t, "unknown", codec.Type(99).String())
}
