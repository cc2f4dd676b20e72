package visibility

import (
	"math"

	"github.com/l1jgo/worldsync/internal/world"
)

// PrivateRule makes entities of Collection visible to the observer named
// by their top-level OwnerField, wherever they are.
type PrivateRule struct {
	Collection string
	OwnerField string
}

// TileConfig configures TilePolicy.
type TileConfig struct {
	// Actors holds one entity per observer, keyed by observer id.
	Actors string
	// Position is the component with x and y fields, plus an optional
	// area field separating maps.
	Position string
	// Radius is the half-width, in tiles, of the square an observer sees.
	Radius int
	// Spatial lists the collections culled by position.
	Spatial []string
	// Globals lists the collections every observer sees in full.
	Globals []string
	Private []PrivateRule
}

// RadiusFunc adjusts the view radius for one observer.
type RadiusFunc func(observer string, base int) int

// TilePolicy is the reference game policy: globals, private resources, and
// entities within an axis-aligned square around the observer's actor.
type TilePolicy struct {
	cfg    TileConfig
	radius RadiusFunc

	grid     *Grid
	owned    map[string]map[string][]world.ID // collection -> owner -> ids
	prepared *world.State
}

func NewTilePolicy(cfg TileConfig) *TilePolicy {
	if cfg.Radius < 1 {
		cfg.Radius = 1
	}
	return &TilePolicy{
		cfg:   cfg,
		grid:  NewGrid(int32(cfg.Radius)),
		owned: make(map[string]map[string][]world.ID),
	}
}

// WithRadius installs a per-observer radius override.
func (p *TilePolicy) WithRadius(fn RadiusFunc) *TilePolicy {
	p.radius = fn
	return p
}

// Prepare rebuilds the position grid and the owner index from s. Compute
// reads that index for as long as it is handed the same state, so callers
// that mutate s between Computes must Prepare again.
func (p *TilePolicy) Prepare(s *world.State) {
	p.grid.Reset()
	clear(p.owned)
	p.index(s, p.grid, p.owned)
	p.prepared = s
}

func (p *TilePolicy) index(s *world.State, grid *Grid, owned map[string]map[string][]world.ID) {
	for _, name := range p.cfg.Spatial {
		c := s.Collection(name)
		if c == nil {
			continue
		}
		c.Each(func(id world.ID, e *world.Entity) {
			area, x, y, ok := p.position(e)
			if ok {
				grid.Add(area, Ref{Collection: name, ID: id, X: x, Y: y})
			}
		})
	}
	for _, rule := range p.cfg.Private {
		c := s.Collection(rule.Collection)
		if c == nil {
			continue
		}
		byOwner := make(map[string][]world.ID)
		c.Each(func(id world.ID, e *world.Entity) {
			if owner := e.Text(rule.OwnerField); owner != "" {
				byOwner[owner] = append(byOwner[owner], id)
			}
		})
		owned[rule.Collection] = byOwner
	}
}

// Compute does not modify the policy. Without a Prepare for s it indexes s
// into scratch structures for this call only.
func (p *TilePolicy) Compute(observer string, s *world.State) Visibility {
	grid, owned := p.grid, p.owned
	if p.prepared != s {
		grid = NewGrid(int32(p.cfg.Radius))
		owned = make(map[string]map[string][]world.ID)
		p.index(s, grid, owned)
	}
	v := New()
	for _, name := range p.cfg.Globals {
		c := s.Collection(name)
		if c == nil {
			continue
		}
		v.Globals[name] = struct{}{}
		ids := make(IDSet, c.Len())
		c.Each(func(id world.ID, _ *world.Entity) { ids.Add(id) })
		v.Collections[name] = ids
	}
	for coll, byOwner := range owned {
		for _, id := range byOwner[observer] {
			v.Add(coll, id)
		}
	}
	// Every configured collection is present, even when nothing in it is
	// visible, so diffs see the empty set.
	for _, name := range p.cfg.Spatial {
		if v.Collections[name] == nil {
			v.Collections[name] = make(IDSet)
		}
	}

	actors := s.Collection(p.cfg.Actors)
	if actors == nil {
		return v
	}
	self, ok := actors.Get(observer)
	if !ok {
		return v
	}
	area, x, y, ok := p.position(self)
	if !ok {
		return v
	}
	r := p.cfg.Radius
	if p.radius != nil {
		r = p.radius(observer, r)
	}
	if r < 0 {
		return v
	}
	grid.Nearby(area, x, y, int32(r), func(ref Ref) { v.Add(ref.Collection, ref.ID) })
	return v
}

// position reads the tile coordinates of e, rounding down.
func (p *TilePolicy) position(e *world.Entity) (area string, x, y int32, ok bool) {
	pos := e.Component(p.cfg.Position)
	if pos == nil {
		return "", 0, 0, false
	}
	fx, okx := number(pos.Get("x"))
	fy, oky := number(pos.Get("y"))
	if !okx || !oky {
		return "", 0, 0, false
	}
	return pos.Text("area"), int32(math.Floor(fx)), int32(math.Floor(fy)), true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
