package world

import (
	"fmt"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/track"
)

// Collection maps entity ids to entities of one schema, or of several
// variants forming a union.
type Collection struct {
	name    string
	schema  *codec.Object
	union   *codec.Union
	entries *track.Map[*Entity]
}

// NewCollection creates a collection holding entities of one schema.
func NewCollection(name string, schema *codec.Object) *Collection {
	c := &Collection{name: name, schema: schema, entries: track.NewMap[*Entity]()}
	c.entries.Build = c.build
	return c
}

// NewUnionCollection creates a collection whose entities may be any variant
// of u, chosen by the discriminator field.
func NewUnionCollection(name string, u *codec.Union) *Collection {
	c := &Collection{name: name, union: u, entries: track.NewMap[*Entity]()}
	c.entries.Build = c.build
	return c
}

func (c *Collection) Name() string { return c.name }

// Codec returns the full-value codec for the collection's entities.
func (c *Collection) Codec() codec.Codec {
	if c.union != nil {
		return c.union
	}
	return c.schema
}

// Accepts reports whether entities of schema o may live in the collection.
func (c *Collection) Accepts(o *codec.Object) bool {
	if c.union != nil {
		_, err := c.union.ByTypeID(o.TypeID())
		return err == nil
	}
	return o == c.schema
}

// NewEntity builds an entity of the right variant from a flat snapshot.
func (c *Collection) NewEntity(fields codec.Fields) (*Entity, error) {
	schema := c.schema
	if c.union != nil {
		v, err := c.union.Variant(fields)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		schema = v
	}
	return NewEntity(schema, fields)
}

func (c *Collection) build(_ string, v any) (*Entity, error) {
	switch t := v.(type) {
	case *Entity:
		return t, nil
	case codec.Fields:
		return c.NewEntity(t)
	case map[string]any:
		return c.NewEntity(codec.Fields(t))
	}
	return nil, fmt.Errorf("%w: %s entity from %T", codec.ErrValueType, c.name, v)
}

// Set adds or replaces an entity. A replaced entity ships as a whole.
func (c *Collection) Set(id ID, e *Entity) error {
	if !c.Accepts(e.Schema()) {
		return fmt.Errorf("%w: %s does not hold %s", codec.ErrValueType, c.name, e.Schema().Name())
	}
	c.entries.Set(id, e)
	return nil
}

// Insert builds an entity from fields and sets it.
func (c *Collection) Insert(id ID, fields codec.Fields) (*Entity, error) {
	e, err := c.NewEntity(fields)
	if err != nil {
		return nil, err
	}
	return e, c.Set(id, e)
}

func (c *Collection) Get(id ID) (*Entity, bool) { return c.entries.Get(id) }
func (c *Collection) Has(id ID) bool { return c.entries.Has(id) }
func (c *Collection) Delete(id ID) bool { return c.entries.Delete(id) }
func (c *Collection) Len() int { return c.entries.Len() }

// IDs returns every id in sorted order.
func (c *Collection) IDs() []ID { return c.entries.Keys() }

func (c *Collection) Each(fn func(id ID, e *Entity)) { c.entries.Each(fn) }

// SelectFlat returns full snapshots for the ids that exist. Missing ids are
// skipped.
func (c *Collection) SelectFlat(ids []ID) map[ID]codec.Fields {
	out := make(map[ID]codec.Fields, len(ids))
	for _, id := range ids {
		if e, ok := c.entries.Get(id); ok {
			out[id] = e.Flat()
		}
	}
	return out
}

// Changes is the outcome of one collection flush, kept apart from any
// observer's view.
type Changes struct {
	// Changed holds the folded partial value of every entity that existed
	// before this cycle and was modified in place.
	Changed map[ID]codec.Fields
	// Replaced lists ids set this cycle, new or overwritten. Their current
	// value ships as a full snapshot.
	Replaced map[ID]struct{}
	// Deleted lists ids that existed at the previous flush and are gone.
	Deleted []ID
}

// Dirty reports whether id changed in place or was replaced.
func (ch Changes) Dirty(id ID) bool {
	if _, ok := ch.Changed[id]; ok {
		return true
	}
	_, ok := ch.Replaced[id]
	return ok
}

// FlushChanges drains the collection's dirty state into per-entity folded
// changes. It is the server-side equivalent of Flush: a subsequent Flush or
// FlushChanges with no mutation in between is empty.
func (c *Collection) FlushChanges() Changes {
	set, _ := c.entries.Pending()
	replaced := make(map[ID]struct{}, len(set))
	for _, id := range set {
		replaced[id] = struct{}{}
	}
	changed := make(map[ID]codec.Fields)
	c.entries.Each(func(id ID, e *Entity) {
		if _, ok := replaced[id]; ok {
			return
		}
		if f := e.FlushFields(); f != nil {
			changed[id] = f
		}
	})
	_, deleted := c.entries.Commit()
	return Changes{Changed: changed, Replaced: replaced, Deleted: deleted}
}

// Flush appends the collection's pending changes as track operations
// addressed under path.
func (c *Collection) Flush(path track.Path, patch track.Patch) track.Patch {
	return c.entries.Flush(path, patch)
}

func (c *Collection) Snapshot() any { return c.entries.Snapshot() }
func (c *Collection) Dirty() bool { return c.entries.Dirty() }
func (c *Collection) Reset() { c.entries.Reset() }
func (c *Collection) Resolve(seg string) (any, bool) { return c.entries.Resolve(seg) }
func (c *Collection) SetAny(key string, v any) error { return c.entries.SetAny(key, v) }
func (c *Collection) DeleteKey(key string) error { return c.entries.DeleteKey(key) }
