package system

import (
	"math/rand"
	"time"

	coresys "github.com/l1jgo/worldsync/internal/core/system"
	"github.com/l1jgo/worldsync/internal/scripting"
	"github.com/l1jgo/worldsync/internal/world"
)

// WanderSystem moves NPCs one tile at a time so the world has something to
// replicate. Movement comes from the npc_step Lua hook when one is loaded,
// otherwise from a random step. Positions are clamped to the NPC's area
// when the area is known. Phase 2 (Update).
type WanderSystem struct {
	npcs     *world.Collection
	areas    *world.Collection
	position string
	lua      *scripting.Engine
	rng      *rand.Rand
	every    int
	tick     uint64
}

// NewWanderSystem moves every NPC once per `every` ticks. areas and lua
// may be nil.
func NewWanderSystem(npcs, areas *world.Collection, position string, every int, lua *scripting.Engine, seed int64) *WanderSystem {
	if every < 1 {
		every = 1
	}
	return &WanderSystem{
		npcs:     npcs,
		areas:    areas,
		position: position,
		lua:      lua,
		rng:      rand.New(rand.NewSource(seed)),
		every:    every,
	}
}

func (s *WanderSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *WanderSystem) Update(_ time.Duration) {
	s.tick++
	if s.tick%uint64(s.every) != 0 {
		return
	}
	for _, id := range s.npcs.IDs() {
		e, _ := s.npcs.Get(id)
		pos := e.Component(s.position)
		if pos == nil {
			continue
		}
		dx, dy := s.step(id, e)
		if dx == 0 && dy == 0 {
			continue
		}
		x := pos.Float32("x") + float32(dx)
		y := pos.Float32("y") + float32(dy)
		x, y = s.clamp(pos.Text("area"), x, y)
		pos.Set("x", x)
		pos.Set("y", y)
	}
}

func (s *WanderSystem) step(id world.ID, e *world.Entity) (dx, dy int) {
	if s.lua != nil {
		if dx, dy, ok := s.lua.NpcStep(scripting.NpcContext{ID: id, Tick: s.tick, NPC: e.Flat()}); ok {
			return dx, dy
		}
	}
	return s.rng.Intn(3) - 1, s.rng.Intn(3) - 1
}

func (s *WanderSystem) clamp(area string, x, y float32) (float32, float32) {
	if s.areas == nil {
		return x, y
	}
	a, ok := s.areas.Get(area)
	if !ok {
		return x, y
	}
	w, h := float32(a.Int32("width")), float32(a.Int32("height"))
	return clampf(x, 0, w-1), clampf(y, 0, h-1)
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
