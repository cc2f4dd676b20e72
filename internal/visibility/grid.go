package visibility

import "github.com/l1jgo/worldsync/internal/world"

// Grid is a cell-based area-of-interest index over entity positions.
// Rebuilt once per tick from the game loop goroutine, no locks.

type cellKey struct {
	area string
	cx   int32
	cy   int32
}

// Ref names one entity in the grid.
type Ref struct {
	Collection string
	ID         world.ID
	X, Y       int32
}

type Grid struct {
	cellSize int32
	cells    map[cellKey][]Ref
}

func NewGrid(cellSize int32) *Grid {
	if cellSize < 1 {
		cellSize = 1
	}
	return &Grid{cellSize: cellSize, cells: make(map[cellKey][]Ref)}
}

func (g *Grid) toCellCoord(v int32) int32 {
	if v < 0 {
		return (v - g.cellSize + 1) / g.cellSize
	}
	return v / g.cellSize
}

// Add places an entity into the grid.
func (g *Grid) Add(area string, r Ref) {
	k := cellKey{area: area, cx: g.toCellCoord(r.X), cy: g.toCellCoord(r.Y)}
	g.cells[k] = append(g.cells[k], r)
}

// Reset empties the grid. Cells that were already empty are dropped, the
// rest keep their storage for the next rebuild.
func (g *Grid) Reset() {
	for k, refs := range g.cells {
		if len(refs) == 0 {
			delete(g.cells, k)
			continue
		}
		g.cells[k] = refs[:0]
	}
}

// Len returns the number of entities indexed.
func (g *Grid) Len() int {
	n := 0
	for _, refs := range g.cells {
		n += len(refs)
	}
	return n
}

// Nearby calls fn for every entity in the same area within Chebyshev
// distance r of (x, y). With r no larger than the cell size this scans the
// 3x3 neighbourhood.
func (g *Grid) Nearby(area string, x, y, r int32, fn func(Ref)) {
	for cx := g.toCellCoord(x - r); cx <= g.toCellCoord(x+r); cx++ {
		for cy := g.toCellCoord(y - r); cy <= g.toCellCoord(y+r); cy++ {
			for _, ref := range g.cells[cellKey{area: area, cx: cx, cy: cy}] {
				if abs32(ref.X-x) <= r && abs32(ref.Y-y) <= r {
					fn(ref)
				}
			}
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
