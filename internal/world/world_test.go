package world

import (
	"errors"
	"reflect"
	"testing"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/track"
)

type fixture struct {
	reg      *codec.Registry
	user     *codec.Object
	movement *codec.Object
	mover    *codec.Object
	npc      *codec.Object
	item     *codec.Object
	thing    *codec.Union
}

func newFixture() fixture {
	reg := codec.NewRegistry()
	f := fixture{reg: reg}
	f.user = reg.Object("user",
		codec.F("name", codec.String),
		codec.F("cash", codec.Int16),
	)
	f.movement = reg.Object("movement",
		codec.F("x", codec.Float32),
		codec.F("y", codec.Float32),
		codec.F("speed", codec.Float32),
	)
	f.mover = reg.Object("mover",
		codec.F("name", codec.String),
		codec.F("cash", codec.Int16),
		codec.F("movement", f.movement),
	)
	f.npc = reg.Object("npc",
		codec.F("kind", codec.String),
		codec.F("movement", f.movement),
	)
	f.item = reg.Object("item",
		codec.F("kind", codec.String),
		codec.F("count", codec.Uint16),
	)
	f.thing = codec.NewUnion("kind", map[string]*codec.Object{"npc": f.npc, "item": f.item})
	return f
}

func (f fixture) users() *State { return NewState(NewCollection("users", f.user)) }
func (f fixture) movers() *State { return NewState(NewCollection("users", f.mover)) }
func (f fixture) things() *State { return NewState(NewUnionCollection("things", f.thing)) }

func mustInsert(t *testing.T, c *Collection, id ID, fields codec.Fields) *Entity {
	t.Helper()
	e, err := c.Insert(id, fields)
	if err != nil {
		t.Fatalf("Insert %s: %v", id, err)
	}
	return e
}

func TestReplicaScenario(t *testing.T) {
	f := newFixture()
	a, b := f.users(), f.users()

	mustInsert(t, a.Collection("users"), "1", codec.Fields{"name": "1", "cash": 1})
	patch := a.Flush()
	mustInsert(t, b.Collection("users"), "2", codec.Fields{"name": "2", "cash": 2})
	if err := b.Update(patch); err != nil {
		t.Fatalf("Update: %v", err)
	}
	users := b.Collection("users")
	if users.Len() != 2 {
		t.Fatalf("b.users.Len = %d, want 2", users.Len())
	}
	got, _ := users.Get("1")
	if want := (codec.Fields{"name": "1", "cash": int16(1)}); !reflect.DeepEqual(got.Flat(), want) {
		t.Fatalf("b.users[1] = %v, want %v", got.Flat(), want)
	}

	// delete an id both replicas hold
	b.Flush()
	a.Collection("users").Delete("1")
	if err := b.Update(a.Flush()); err != nil {
		t.Fatalf("Update delete: %v", err)
	}
	if users.Has("1") || !users.Has("2") {
		t.Fatalf("b.users = %v, want only 2", users.IDs())
	}
}

func TestNestedReplicaScenario(t *testing.T) {
	f := newFixture()
	a, b := f.movers(), f.movers()
	e := mustInsert(t, a.Collection("users"), "1", codec.Fields{
		"name":     "1",
		"cash":     1,
		"movement": codec.Fields{"x": 0, "y": 0, "speed": 2},
	})
	if err := b.Update(a.Flush()); err != nil {
		t.Fatal(err)
	}

	mv := e.Component("movement")
	mv.Set("x", 5)
	mv.Set("y", 6)
	patch := a.Flush()
	if len(patch) != 1 || !reflect.DeepEqual(patch[0].Path, track.Path{"users", "1", "movement"}) {
		t.Fatalf("patch = %+v, want one assign at users/1/movement", patch)
	}
	if err := b.Update(patch); err != nil {
		t.Fatal(err)
	}
	got, _ := b.Collection("users").Get("1")
	want := codec.Fields{
		"name":     "1",
		"cash":     int16(1),
		"movement": codec.Fields{"x": float32(5), "y": float32(6), "speed": float32(2)},
	}
	if !reflect.DeepEqual(got.Flat(), want) {
		t.Fatalf("b.users[1] = %v, want %v", got.Flat(), want)
	}
}

func TestFlushChanges(t *testing.T) {
	f := newFixture()
	c := NewCollection("users", f.mover)
	fields := func(name string) codec.Fields {
		return codec.Fields{"name": name, "cash": 0, "movement": codec.Fields{"x": 0, "y": 0, "speed": 1}}
	}
	a := mustInsert(t, c, "a", fields("a"))
	mustInsert(t, c, "b", fields("b"))
	mustInsert(t, c, "c", fields("c"))
	first := c.FlushChanges()
	if len(first.Replaced) != 3 || len(first.Changed) != 0 {
		t.Fatalf("first = %+v, want 3 replaced", first)
	}

	a.Component("movement").Set("x", 1)
	mustInsert(t, c, "b", fields("b2"))
	c.Delete("c")
	mustInsert(t, c, "d", fields("d"))
	c.Delete("d")

	ch := c.FlushChanges()
	wantChanged := map[ID]codec.Fields{"a": {"movement": codec.Fields{"x": float32(1)}}}
	if !reflect.DeepEqual(ch.Changed, wantChanged) {
		t.Fatalf("Changed = %v, want %v", ch.Changed, wantChanged)
	}
	if _, ok := ch.Replaced["b"]; !ok || len(ch.Replaced) != 1 {
		t.Fatalf("Replaced = %v, want [b]", ch.Replaced)
	}
	if !reflect.DeepEqual(ch.Deleted, []ID{"c"}) {
		t.Fatalf("Deleted = %v, want [c]", ch.Deleted)
	}
	if !ch.Dirty("a") || !ch.Dirty("b") || ch.Dirty("c") {
		t.Fatal("Dirty disagrees with Changed/Replaced")
	}

	again := c.FlushChanges()
	if len(again.Changed)+len(again.Replaced)+len(again.Deleted) != 0 {
		t.Fatalf("second FlushChanges = %+v, want empty", again)
	}
	if p := c.Flush(track.Path{"users"}, nil); len(p) != 0 {
		t.Fatalf("Flush after FlushChanges = %+v, want empty", p)
	}
}

func TestUnionCollection(t *testing.T) {
	f := newFixture()
	a, b := f.things(), f.things()
	things := a.Collection("things")
	n := mustInsert(t, things, "n1", codec.Fields{"kind": "npc", "movement": codec.Fields{"x": 1, "y": 2, "speed": 3}})
	i := mustInsert(t, things, "i1", codec.Fields{"kind": "item", "count": 4})
	if n.Schema() != f.npc || i.Schema() != f.item {
		t.Fatalf("variants = %s, %s", n.Schema().Name(), i.Schema().Name())
	}
	if _, err := things.Insert("x", codec.Fields{"kind": "ghost"}); err == nil {
		t.Fatal("unknown variant accepted")
	}
	wrong, _ := NewEntity(f.user, codec.Fields{"name": "u", "cash": 1})
	if err := things.Set("u", wrong); !errors.Is(err, codec.ErrValueType) {
		t.Fatalf("foreign schema: err = %v, want ErrValueType", err)
	}

	if err := b.Update(a.Flush()); err != nil {
		t.Fatal(err)
	}
	got, _ := b.Collection("things").Get("n1")
	if got.Schema() != f.npc {
		t.Fatalf("replica variant = %s, want npc", got.Schema().Name())
	}
	if !reflect.DeepEqual(a.Flat(nil), b.Flat(nil)) {
		t.Fatalf("replicas differ:\n a=%v\n b=%v", a.Flat(nil), b.Flat(nil))
	}
}

func TestSelectFlatAndFilter(t *testing.T) {
	f := newFixture()
	s := f.users()
	users := s.Collection("users")
	mustInsert(t, users, "1", codec.Fields{"name": "1", "cash": 1})
	mustInsert(t, users, "2", codec.Fields{"name": "2", "cash": 2})

	sel := users.SelectFlat([]ID{"2", "missing"})
	if len(sel) != 1 || sel["2"]["cash"] != int16(2) {
		t.Fatalf("SelectFlat = %v", sel)
	}
	if !users.Dirty() {
		t.Fatal("SelectFlat must not drain dirty state")
	}

	flat := s.Flat(func(_ string, id ID) bool { return id == "1" })
	if len(flat["users"]) != 1 || flat["users"]["1"] == nil {
		t.Fatalf("Flat = %v", flat)
	}
}
