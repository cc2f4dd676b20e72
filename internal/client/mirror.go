// Package client applies replication patches to a local mirror of the
// visible world.
package client

import (
	"errors"
	"fmt"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/protocol"
)

// ErrDesync means a patch addressed something the mirror does not hold.
// The only remedy is a full resync.
var ErrDesync = errors.New("client: mirror out of sync")

// Mirror is a plain copy of the entities the server let this client see.
type Mirror struct {
	fixed       bool
	collections map[string]map[string]codec.Fields
}

// NewMirror creates a mirror. With names given, the mirror only accepts
// those collections and reports them even when empty; without, collections
// appear as entities are added.
func NewMirror(names ...string) *Mirror {
	m := &Mirror{fixed: len(names) > 0, collections: make(map[string]map[string]codec.Fields)}
	for _, n := range names {
		m.collections[n] = make(map[string]codec.Fields)
	}
	return m
}

func (m *Mirror) Get(collection, id string) (codec.Fields, bool) {
	f, ok := m.collections[collection][id]
	return f, ok
}

func (m *Mirror) Len(collection string) int { return len(m.collections[collection]) }

// Flat returns a deep copy of the mirror by collection.
func (m *Mirror) Flat() map[string]map[string]codec.Fields {
	out := make(map[string]map[string]codec.Fields, len(m.collections))
	for name, ents := range m.collections {
		c := make(map[string]codec.Fields, len(ents))
		for id, f := range ents {
			c[id] = f.Clone()
		}
		out[name] = c
	}
	return out
}

// Clear drops every entity.
func (m *Mirror) Clear() {
	for name := range m.collections {
		if m.fixed {
			clear(m.collections[name])
		} else {
			delete(m.collections, name)
		}
	}
}

func (m *Mirror) collection(name string, create bool) (map[string]codec.Fields, error) {
	c, ok := m.collections[name]
	if ok {
		return c, nil
	}
	if !create || m.fixed {
		return nil, fmt.Errorf("%w: unknown collection %q", ErrDesync, name)
	}
	c = make(map[string]codec.Fields)
	m.collections[name] = c
	return c, nil
}

// Apply applies p. Removals go first, then additions, then field changes,
// whatever order the operations arrived in. A full patch clears the mirror
// before anything else.
func (m *Mirror) Apply(p *protocol.Patch) error {
	if p.Full {
		m.Clear()
	}
	for _, kind := range []protocol.OpKind{protocol.OpRemoved, protocol.OpAdded, protocol.OpChanged} {
		for _, op := range p.Ops {
			if op.Kind != kind {
				continue
			}
			if err := m.apply(op); err != nil {
				return fmt.Errorf("tick %d: %w", p.Tick, err)
			}
		}
	}
	return nil
}

func (m *Mirror) apply(op protocol.Op) error {
	c, err := m.collection(op.Collection, op.Kind == protocol.OpAdded)
	if err != nil {
		return err
	}
	switch op.Kind {
	case protocol.OpRemoved:
		for _, id := range op.IDs {
			if _, ok := c[id]; !ok {
				return fmt.Errorf("%w: remove of unknown %s/%s", ErrDesync, op.Collection, id)
			}
			delete(c, id)
		}
	case protocol.OpAdded:
		for _, e := range op.Entries {
			c[e.ID] = e.Fields.Clone()
		}
	case protocol.OpChanged:
		for _, e := range op.Entries {
			cur, ok := c[e.ID]
			if !ok {
				return fmt.Errorf("%w: change to unknown %s/%s", ErrDesync, op.Collection, e.ID)
			}
			if err := merge(cur, e.Fields, e.Schema, op.Collection+"/"+e.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// merge writes a partial value into dst. Only fields the schema declares
// as objects arrive partially encoded and are merged recursively; every
// other value, optional objects included, replaces what dst holds.
func merge(dst, src codec.Fields, schema *codec.Object, path string) error {
	for k, v := range src {
		next, isObj := v.(codec.Fields)
		var nested *codec.Object
		if schema != nil {
			if fd, ok := schema.Field(k); ok {
				nested, _ = fd.Codec.(*codec.Object)
			}
		}
		if !isObj || nested == nil {
			dst[k] = codec.CloneValue(v)
			continue
		}
		cur, ok := dst[k].(codec.Fields)
		if !ok {
			return fmt.Errorf("%w: %s/%s is not an object", ErrDesync, path, k)
		}
		if err := merge(cur, next, nested, path+"/"+k); err != nil {
			return err
		}
	}
	return nil
}
