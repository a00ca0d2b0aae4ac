package codec

import (
	"fmt"

	"github.com/randalmurphal/worldsave/pkg/worldsave/registry"
)

// Schemas maps type names to compiled schemas.
// Registration happens once per type, before any encode.
type Schemas struct {
	entries *registry.Registry[string, *Schema]
}

// NewSchemas creates an empty schema registry.
func NewSchemas() *Schemas {
	return &Schemas{entries: registry.New[string, *Schema]()}
}

// Register adds compiled schemas. A name can only be registered once.
func (s *Schemas) Register(schemas ...*Schema) error {
	for _, sc := range schemas {
		if sc == nil {
			return fmt.Errorf("%w: nil schema", ErrSchema)
		}
		if !s.entries.RegisterNew(sc.Name(), sc) {
			return fmt.Errorf("%w: %s already registered", ErrSchema, sc.Name())
		}
	}
	return nil
}

// Declare compiles and registers a schema in one step.
func (s *Schemas) Declare(name string, fields ...Field) (*Schema, error) {
	sc, err := Compile(name, fields...)
	if err != nil {
		return nil, err
	}
	if err := s.Register(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// Lookup returns the schema registered under name.
func (s *Schemas) Lookup(name string) (*Schema, error) {
	sc, ok := s.entries.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	return sc, nil
}

// Names returns registered schema names in ascending order.
func (s *Schemas) Names() []string {
	return registry.SortedKeys(s.entries)
}
