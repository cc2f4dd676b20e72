package visibility

import (
	"reflect"
	"testing"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/world"
)

type testWorld struct {
	state  *world.State
	actors *world.Collection
	items  *world.Collection
	areas  *world.Collection
}

func newTestWorld(t *testing.T) testWorld {
	t.Helper()
	reg := codec.NewRegistry()
	pos := reg.Object("position",
		codec.F("area", codec.String),
		codec.F("x", codec.Float32),
		codec.F("y", codec.Float32),
	)
	actor := reg.Object("actor", codec.F("name", codec.String), codec.F("position", pos))
	item := reg.Object("item", codec.F("owner", codec.String), codec.F("count", codec.Uint16))
	area := reg.Object("area", codec.F("title", codec.String))

	w := testWorld{
		actors: world.NewCollection("actors", actor),
		items:  world.NewCollection("items", item),
		areas:  world.NewCollection("areas", area),
	}
	w.state = world.NewState(w.actors, w.items, w.areas)
	return w
}

func (w testWorld) actor(t *testing.T, id, area string, x, y float32) *world.Entity {
	t.Helper()
	e, err := w.actors.Insert(id, codec.Fields{
		"name":     id,
		"position": codec.Fields{"area": area, "x": x, "y": y},
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func (w testWorld) policy() *TilePolicy {
	return NewTilePolicy(TileConfig{
		Actors:   "actors",
		Position: "position",
		Radius:   5,
		Spatial:  []string{"actors"},
		Globals:  []string{"areas"},
		Private:  []PrivateRule{{Collection: "items", OwnerField: "owner"}},
	})
}

func TestTilePolicy(t *testing.T) {
	w := newTestWorld(t)
	w.actor(t, "me", "town", 10, 10)
	w.actor(t, "edge", "town", 15, 5)     // dx=5, dy=-5: inside
	w.actor(t, "far", "town", 16, 10)     // dx=6: outside
	w.actor(t, "neg", "town", -1, 9)      // crosses into a negative cell: outside
	w.actor(t, "other", "dungeon", 10, 10) // same tile, other area
	w.items.Insert("sword", codec.Fields{"owner": "me", "count": 1})
	w.items.Insert("shield", codec.Fields{"owner": "edge", "count": 1})
	w.areas.Insert("town", codec.Fields{"title": "Town"})

	p := w.policy()
	p.Prepare(w.state)
	v := p.Compute("me", w.state)

	if got, want := v.Collections["actors"].Sorted(), []world.ID{"edge", "me"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("actors = %v, want %v", got, want)
	}
	if got, want := v.Collections["items"].Sorted(), []world.ID{"sword"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	if !v.Contains("areas", "town") {
		t.Fatal("global area not visible")
	}
	if _, ok := v.Globals["areas"]; !ok {
		t.Fatal("areas not reported as global")
	}
}

func TestTilePolicyWithoutActor(t *testing.T) {
	w := newTestWorld(t)
	w.actor(t, "someone", "town", 0, 0)
	w.items.Insert("ring", codec.Fields{"owner": "ghost", "count": 1})
	w.areas.Insert("town", codec.Fields{"title": "Town"})

	v := w.policy().Compute("ghost", w.state)
	if n := len(v.Collections["actors"]); n != 0 {
		t.Fatalf("spatial result has %d actors, want 0", n)
	}
	if !v.Contains("items", "ring") || !v.Contains("areas", "town") {
		t.Fatalf("private or global rule lost: %+v", v.Collections)
	}
}

func TestTilePolicyRadiusOverride(t *testing.T) {
	w := newTestWorld(t)
	w.actor(t, "me", "", 0, 0)
	w.actor(t, "far", "", 30, 0)

	p := w.policy().WithRadius(func(observer string, base int) int {
		if observer == "me" {
			return base * 10
		}
		return base
	})
	if !p.Compute("me", w.state).Contains("actors", "far") {
		t.Fatal("radius override ignored")
	}
}

func TestTilePolicyFollowsMovement(t *testing.T) {
	w := newTestWorld(t)
	w.actor(t, "me", "", 0, 0)
	other := w.actor(t, "other", "", 3, 0)
	p := w.policy()

	p.Prepare(w.state)
	if !p.Compute("me", w.state).Contains("actors", "other") {
		t.Fatal("near actor not visible")
	}
	other.Component("position").Set("x", 40)
	p.Prepare(w.state)
	if p.Compute("me", w.state).Contains("actors", "other") {
		t.Fatal("actor still visible after leaving range")
	}
}

func TestTilePolicyComputeWithoutPrepare(t *testing.T) {
	w := newTestWorld(t)
	w.actor(t, "me", "", 0, 0)
	other := w.actor(t, "other", "", 3, 0)
	p := w.policy()

	if !p.Compute("me", w.state).Contains("actors", "other") {
		t.Fatal("near actor not visible")
	}
	// No index is kept between unprepared calls.
	other.Component("position").Set("x", 40)
	if p.Compute("me", w.state).Contains("actors", "other") {
		t.Fatal("unprepared Compute served a stale index")
	}
	if p.prepared != nil {
		t.Fatal("Compute prepared the policy")
	}
}

func TestGridNearbyAcrossCells(t *testing.T) {
	g := NewGrid(4)
	for _, r := range []Ref{
		{ID: "a", X: -4, Y: 0},
		{ID: "b", X: 3, Y: 3},
		{ID: "c", X: 8, Y: 0},
		{ID: "d", X: 9, Y: 0},
	} {
		g.Add("", r)
	}
	var got []world.ID
	g.Nearby("", 1, 0, 7, func(r Ref) { got = append(got, r.ID) })
	set := IDSet{}
	for _, id := range got {
		set.Add(id)
	}
	if want := []world.ID{"a", "b", "c"}; !reflect.DeepEqual(set.Sorted(), want) {
		t.Fatalf("Nearby = %v, want %v", set.Sorted(), want)
	}
	g.Reset()
	if g.Len() != 0 {
		t.Fatalf("Len after Reset = %d", g.Len())
	}
}

func TestAllPolicy(t *testing.T) {
	w := newTestWorld(t)
	w.actor(t, "a", "", 0, 0)
	w.actor(t, "b", "", 100, 100)
	v := All{}.Compute("anyone", w.state)
	if len(v.Collections["actors"]) != 2 || len(v.Collections["items"]) != 0 {
		t.Fatalf("All = %+v", v.Collections)
	}
}
