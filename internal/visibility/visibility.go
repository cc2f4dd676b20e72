// Package visibility decides which entities each observer may see.
package visibility

import (
	"sort"

	"github.com/l1jgo/worldsync/internal/world"
)

// IDSet is a set of entity ids.
type IDSet map[world.ID]struct{}

func (s IDSet) Add(id world.ID) { s[id] = struct{}{} }

func (s IDSet) Has(id world.ID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []world.ID {
	out := make([]world.ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Visibility is what one observer may see this tick.
type Visibility struct {
	// Collections maps collection name to visible ids. Global collections
	// are expanded here too.
	Collections map[string]IDSet
	// Globals names the collections visible in full to everyone.
	Globals map[string]struct{}
}

func New() Visibility {
	return Visibility{Collections: make(map[string]IDSet), Globals: make(map[string]struct{})}
}

// Add marks one entity visible.
func (v Visibility) Add(collection string, id world.ID) {
	s := v.Collections[collection]
	if s == nil {
		s = make(IDSet)
		v.Collections[collection] = s
	}
	s.Add(id)
}

// Contains reports whether the entity is visible. Its signature matches
// world.State.Flat's filter.
func (v Visibility) Contains(collection string, id world.ID) bool {
	return v.Collections[collection].Has(id)
}

// Policy computes an observer's visibility. Implementations must be
// deterministic and must not mutate the state.
type Policy interface {
	Compute(observer string, s *world.State) Visibility
}

// Preparer is implemented by policies that precompute shared indexes once
// per tick, before any Compute of that tick.
type Preparer interface {
	Prepare(s *world.State)
}

// All is a policy that shows every entity to every observer.
type All struct{}

func (All) Compute(_ string, s *world.State) Visibility {
	v := New()
	for _, name := range s.Names() {
		v.Globals[name] = struct{}{}
		ids := make(IDSet)
		s.Collection(name).Each(func(id world.ID, _ *world.Entity) { ids.Add(id) })
		v.Collections[name] = ids
	}
	return v
}
