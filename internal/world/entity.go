package world

import (
	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/track"
)

// ID identifies an entity within its collection.
type ID = string

// Entity is a tracked record whose fields are components: nested tracked
// objects like movement or stats, plus the odd top-level scalar such as a
// name or a kind discriminator.
type Entity struct {
	*track.Object
}

// NewEntity builds an entity of the given schema from a complete plain value.
func NewEntity(schema *codec.Object, fields codec.Fields) (*Entity, error) {
	obj, err := track.NewObject(schema, fields)
	if err != nil {
		return nil, err
	}
	return &Entity{Object: obj}, nil
}

// Component returns the nested component stored in field name, or nil.
func (e *Entity) Component(name string) *track.Object { return e.Child(name) }

// Flat returns a complete snapshot of every field of every component
// without touching dirty state.
func (e *Entity) Flat() codec.Fields { return e.Fields() }
