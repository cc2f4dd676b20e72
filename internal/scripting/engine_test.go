package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/world"
)

func newEngine(t *testing.T, files map[string]string) *Engine {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	e, err := NewEngine(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return e
}

const radiusScript = `
function view_radius(ctx)
  if ctx.actor == nil then return ctx.base end
  if ctx.actor.hp <= 0 then return 0 end
  if ctx.actor.position.area == "cave" then return math.floor(ctx.base / 2) end
  return ctx.base
end
`

func TestViewRadius(t *testing.T) {
	e := newEngine(t, map[string]string{"visibility/radius.lua": radiusScript})

	tests := []struct {
		name  string
		actor codec.Fields
		want  int
	}{
		{"no actor", nil, 10},
		{"dead", codec.Fields{"hp": int32(0), "position": codec.Fields{"area": "town"}}, 0},
		{"cave", codec.Fields{"hp": int32(5), "position": codec.Fields{"area": "cave"}}, 5},
		{"town", codec.Fields{"hp": int32(5), "position": codec.Fields{"area": "town"}}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.ViewRadius("obs", 10, tt.actor); got != tt.want {
				t.Fatalf("ViewRadius = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestViewRadiusFallsBack(t *testing.T) {
	e := newEngine(t, map[string]string{"broken.lua": `function view_radius(ctx) error("boom") end`})
	if got := e.ViewRadius("obs", 7, nil); got != 7 {
		t.Fatalf("failing hook = %d, want base", got)
	}

	empty := newEngine(t, nil)
	if empty.RadiusHook(world.NewState(), "actors") != nil {
		t.Fatal("hook without a script should be nil")
	}
}

func TestRadiusHookReadsActor(t *testing.T) {
	e := newEngine(t, map[string]string{"radius.lua": radiusScript})
	reg := codec.NewRegistry()
	pos := reg.Object("position", codec.F("area", codec.String))
	actor := reg.Object("actor", codec.F("hp", codec.Int32), codec.F("position", pos))
	state := world.NewState(world.NewCollection("actors", actor))
	if _, err := state.Collection("actors").Insert("a", codec.Fields{"hp": 3, "position": codec.Fields{"area": "cave"}}); err != nil {
		t.Fatal(err)
	}

	hook := e.RadiusHook(state, "actors")
	if hook == nil {
		t.Fatal("hook is nil")
	}
	if got := hook("a", 8); got != 4 {
		t.Fatalf("hook(a) = %d, want 4", got)
	}
	if got := hook("ghost", 8); got != 8 {
		t.Fatalf("hook(ghost) = %d, want 8", got)
	}
}

func TestNpcStep(t *testing.T) {
	e := newEngine(t, map[string]string{"ai/step.lua": `
function npc_step(ctx)
  if ctx.npc.kind == "guard" then return 0, 0 end
  return 1, -1
end
`})
	dx, dy, ok := e.NpcStep(NpcContext{ID: "g", NPC: codec.Fields{"kind": "guard"}})
	if !ok || dx != 0 || dy != 0 {
		t.Fatalf("guard step = %d,%d,%v", dx, dy, ok)
	}
	dx, dy, ok = e.NpcStep(NpcContext{ID: "r", NPC: codec.Fields{"kind": "critter"}})
	if !ok || dx != 1 || dy != -1 {
		t.Fatalf("critter step = %d,%d,%v", dx, dy, ok)
	}

	if _, _, ok := newEngine(t, nil).NpcStep(NpcContext{}); ok {
		t.Fatal("missing hook reported ok")
	}
}
