package world

import (
	"fmt"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/track"
)

// State is the authoritative world: named collections of entities.
// Accessed only from the game loop goroutine, no locks.
type State struct {
	order       []string
	collections map[string]*Collection
}

func NewState(cols ...*Collection) *State {
	s := &State{collections: make(map[string]*Collection, len(cols))}
	for _, c := range cols {
		if _, dup := s.collections[c.Name()]; dup {
			panic(fmt.Sprintf("world: duplicate collection %q", c.Name()))
		}
		s.order = append(s.order, c.Name())
		s.collections[c.Name()] = c
	}
	return s
}

// Collection returns the named collection, or nil.
func (s *State) Collection(name string) *Collection { return s.collections[name] }

// Names returns collection names in declaration order.
func (s *State) Names() []string { return s.order }

// Flush drains every collection into one local patch addressed as
// collection/id/component/...
func (s *State) Flush() track.Patch {
	var patch track.Patch
	for _, name := range s.order {
		patch = s.collections[name].Flush(track.Path{name}, patch)
	}
	return patch
}

// Update applies a patch produced by another replica's Flush.
func (s *State) Update(patch track.Patch) error { return track.Apply(s, patch) }

func (s *State) Resolve(seg string) (any, bool) {
	c, ok := s.collections[seg]
	return c, ok
}

// Flat returns full snapshots of every entity keep accepts, by collection.
// A nil keep selects everything. Collections with nothing selected are
// present and empty.
func (s *State) Flat(keep func(collection string, id ID) bool) map[string]map[ID]codec.Fields {
	out := make(map[string]map[ID]codec.Fields, len(s.order))
	for _, name := range s.order {
		sel := make(map[ID]codec.Fields)
		s.collections[name].Each(func(id ID, e *Entity) {
			if keep == nil || keep(name, id) {
				sel[id] = e.Flat()
			}
		})
		out[name] = sel
	}
	return out
}
