package replication

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/worldsync/internal/client"
	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/encoder"
	"github.com/l1jgo/worldsync/internal/protocol"
	"github.com/l1jgo/worldsync/internal/visibility"
	"github.com/l1jgo/worldsync/internal/world"
)

type fakeTransport struct {
	refuse map[ObserverID]bool
	sent   map[ObserverID][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{refuse: make(map[ObserverID]bool), sent: make(map[ObserverID][][]byte)}
}

func (f *fakeTransport) TrySend(id ObserverID, data []byte) bool {
	if f.refuse[id] {
		return false
	}
	f.sent[id] = append(f.sent[id], data)
	return true
}

func (f *fakeTransport) take(id ObserverID) [][]byte {
	out := f.sent[id]
	delete(f.sent, id)
	return out
}

type harness struct {
	t         *testing.T
	reg       *codec.Registry
	actor     *codec.Object
	item      *codec.Object
	state     *world.State
	policy    visibility.Policy
	transport *fakeTransport
	server    *Server
	clients   map[ObserverID]*client.Client
}

func newHarness(t *testing.T, enc encoder.Encoder, policy visibility.Policy) *harness {
	t.Helper()
	reg := codec.NewRegistry()
	pos := reg.Object("position", codec.F("x", codec.Float32), codec.F("y", codec.Float32))
	h := &harness{t: t, reg: reg, transport: newFakeTransport(), clients: make(map[ObserverID]*client.Client)}
	h.actor = reg.Object("actor",
		codec.F("name", codec.String),
		codec.F("cash", codec.Int16),
		codec.F("position", pos),
	)
	h.item = reg.Object("item", codec.F("owner", codec.String), codec.F("count", codec.Uint16))
	area := reg.Object("area", codec.F("title", codec.String))
	h.state = world.NewState(
		world.NewCollection("actors", h.actor),
		world.NewCollection("items", h.item),
		world.NewCollection("areas", area),
	)
	if policy == nil {
		policy = visibility.NewTilePolicy(visibility.TileConfig{
			Actors:   "actors",
			Position: "position",
			Radius:   5,
			Spatial:  []string{"actors"},
			Globals:  []string{"areas"},
			Private:  []visibility.PrivateRule{{Collection: "items", OwnerField: "owner"}},
		})
	}
	if enc == nil {
		enc = encoder.Inline{}
	}
	h.policy = policy
	h.server = NewServer(h.state, Options{
		Policy:    policy,
		Encoder:   enc,
		Transport: h.transport,
		Hello:     protocol.EncodeHello(reg.Fingerprint()),
		Log:       zaptest.NewLogger(t),
	})
	return h
}

func (h *harness) join(id ObserverID) {
	c := client.New(h.reg, client.NewMirror(h.state.Names()...), zaptest.NewLogger(h.t))
	c.OnResync = func(error) { h.server.Resync(id) }
	h.clients[id] = c
	h.server.Join(id)
}

func (h *harness) spawn(id string, x, y float32) *world.Entity {
	h.t.Helper()
	e, err := h.state.Collection("actors").Insert(id, codec.Fields{
		"name":     id,
		"cash":     0,
		"position": codec.Fields{"x": x, "y": y},
	})
	if err != nil {
		h.t.Fatal(err)
	}
	return e
}

// step runs one tick, dispatches, and feeds every sent message to its
// client. It returns the decoded patches per observer.
func (h *harness) step() map[ObserverID][]*protocol.Patch {
	h.t.Helper()
	h.server.Tick()
	h.server.Dispatch()
	out := make(map[ObserverID][]*protocol.Patch)
	for id, c := range h.clients {
		for _, msg := range h.transport.take(id) {
			if typ, _ := protocol.PeekType(msg); typ == protocol.MsgPatch {
				p, err := protocol.DecodePatch(h.reg, msg)
				if err != nil {
					h.t.Fatalf("decode for %s: %v", id, err)
				}
				out[id] = append(out[id], p)
			}
			if err := c.Handle(msg); err != nil {
				h.t.Fatalf("client %s: %v", id, err)
			}
		}
	}
	return out
}

func (h *harness) assertConverged(step int) {
	h.t.Helper()
	for id, c := range h.clients {
		want := h.state.Flat(h.policy.Compute(id, h.state).Contains)
		if got := c.Mirror().Flat(); !reflect.DeepEqual(got, want) {
			h.t.Fatalf("step %d: observer %s diverged:\n got  %v\n want %v", step, id, got, want)
		}
	}
}

func move(e *world.Entity, x, y float32) {
	pos := e.Component("position")
	pos.Set("x", x)
	pos.Set("y", y)
}

func TestConvergence(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := h.spawn("a", 0, 0)
	b := h.spawn("b", 20, 0)
	npc := h.spawn("npc", 3, 3)
	h.state.Collection("areas").Insert("town", codec.Fields{"title": "Town"})
	h.state.Collection("items").Insert("sword", codec.Fields{"owner": "a", "count": 1})
	h.join("a")
	h.join("b")

	steps := []func(){
		func() {},
		func() { move(npc, 4, 3); a.Set("cash", 10) },
		func() { move(npc, 18, 0) },                    // npc leaves a, enters b
		func() { move(b, 5, 0); npc.Set("cash", 2) },   // b walks into a's view
		func() { h.state.Collection("items").Insert("shield", codec.Fields{"owner": "b", "count": 2}) },
		func() { h.state.Collection("actors").Delete("npc") },
		func() { h.spawn("npc", 1, 1); h.spawn("ghost", 2, 2); h.state.Collection("actors").Delete("ghost") },
		func() { a = h.spawn("a", 0, 1) }, // replace a known entity
		func() { move(a, 100, 100); h.state.Collection("areas").Insert("town", codec.Fields{"title": "Ruins"}) },
		func() { h.join("c") },
	}
	for i, mutate := range steps {
		mutate()
		h.step()
		h.assertConverged(i)
	}
}

func TestVisibilityExitRemoval(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.spawn("a", 0, 0)
	walker := h.spawn("walker", 2, 0)
	h.join("a")
	h.step()

	move(walker, 9, 0)
	got := h.step()["a"]
	if len(got) != 1 {
		t.Fatalf("got %d patches, want 1", len(got))
	}
	want := []protocol.Op{{Kind: protocol.OpRemoved, Collection: "actors", IDs: []string{"walker"}}}
	if !reflect.DeepEqual(got[0].Ops, want) {
		t.Fatalf("ops = %+v, want %+v", got[0].Ops, want)
	}
	if !h.state.Collection("actors").Has("walker") {
		t.Fatal("walker removed from world state")
	}
}

func TestChangedOnlyForKnownVisible(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.spawn("a", 0, 0)
	near := h.spawn("near", 1, 0)
	far := h.spawn("far", 50, 0)
	h.join("a")
	h.step()

	far.Set("cash", 5)
	if got := h.step()["a"]; len(got) != 0 {
		t.Fatalf("invisible change produced %+v", got)
	}

	near.Set("cash", 7)
	got := h.step()["a"]
	if len(got) != 1 || len(got[0].Ops) != 1 {
		t.Fatalf("patches = %+v", got)
	}
	op := got[0].Ops[0]
	if op.Kind != protocol.OpChanged || op.Entries[0].ID != "near" {
		t.Fatalf("op = %+v", op)
	}
	if want := (codec.Fields{"cash": int16(7)}); !reflect.DeepEqual(op.Entries[0].Fields, want) {
		t.Fatalf("fields = %v, want %v", op.Entries[0].Fields, want)
	}
}

func TestFirstPatchIsFull(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.spawn("a", 0, 0)
	h.join("a")
	if st, ok := h.server.Observer("a"); !ok || st != Unseen {
		t.Fatalf("state = %v, %v", st, ok)
	}
	got := h.step()["a"]
	if len(got) != 1 || !got[0].Full {
		t.Fatalf("first patch = %+v, want full", got)
	}
	if st, _ := h.server.Observer("a"); st != Tracked {
		t.Fatalf("state after tick = %v, want Tracked", st)
	}
	if got := h.step()["a"]; len(got) != 0 {
		t.Fatalf("quiet tick sent %+v", got)
	}
}

func TestEventsFollowVisibility(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.spawn("a", 0, 0)
	h.spawn("b", 20, 0)
	h.join("a")
	h.join("b")
	h.step()

	names := func(ps []*protocol.Patch) []string {
		var out []string
		for _, p := range ps {
			for _, ev := range p.Events {
				out = append(out, ev.Name)
			}
		}
		return out
	}

	if err := h.server.AddEvent("loot", h.item, codec.Fields{"owner": "a", "count": 2}, map[string][]world.ID{"actors": {"a"}}); err != nil {
		t.Fatal(err)
	}
	if err := h.server.AddEvent("dawn", h.item, codec.Fields{"owner": "", "count": 0}, nil); err != nil {
		t.Fatal(err)
	}
	if err := h.server.AddEvent("broken", h.item, codec.Fields{"owner": 5}, nil); err == nil {
		t.Fatal("event with a bad payload accepted")
	}
	if got := h.server.PeekEvent("loot"); len(got) != 1 || got[0]["owner"] != "a" {
		t.Fatalf("PeekEvent(loot) = %v", got)
	}

	out := h.step()
	if got, want := names(out["a"]), []string{"loot", "dawn"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("a events = %v, want %v", got, want)
	}
	if got, want := names(out["b"]), []string{"dawn"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("b events = %v, want %v", got, want)
	}
	ev := out["a"][0].Events[0]
	if want := (codec.Fields{"owner": "a", "count": uint16(2)}); !reflect.DeepEqual(ev.Payload, want) {
		t.Fatalf("loot payload = %v, want %v", ev.Payload, want)
	}

	// Events live for one tick only.
	if got := h.server.PeekEvent("dawn"); len(got) != 0 {
		t.Fatalf("dawn still queued: %v", got)
	}
	out = h.step()
	if len(out["a"]) != 0 || len(out["b"]) != 0 {
		t.Fatalf("quiet tick sent %+v", out)
	}
}

type flakyPolicy struct {
	visibility.Policy
	bad ObserverID
}

func (p *flakyPolicy) Compute(observer string, s *world.State) visibility.Visibility {
	if observer == p.bad {
		panic("policy exploded")
	}
	return p.Policy.Compute(observer, s)
}

func TestPolicyFailureIsolated(t *testing.T) {
	flaky := &flakyPolicy{Policy: visibility.All{}, bad: "bad"}
	h := newHarness(t, nil, flaky)
	h.spawn("x", 0, 0)
	h.join("bad")
	h.join("good")

	st := h.server.Tick()
	if st.Failed != 1 || st.Patches != 1 {
		t.Fatalf("stats = %+v, want 1 failed, 1 patch", st)
	}
	h.server.Dispatch()
	if len(h.transport.sent["good"]) != 2 { // hello + patch
		t.Fatal("good observer starved by bad one")
	}

	flaky.bad = ""
	got := h.step()["bad"]
	if len(got) != 1 || !got[0].Full {
		t.Fatalf("recovered observer patch = %+v, want full", got)
	}
	h.assertConverged(-1)
}

func TestBackpressureResync(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.spawn("a", 0, 0)
	mover := h.spawn("m", 1, 0)
	h.join("a")
	h.step()

	h.transport.refuse["a"] = true
	move(mover, 2, 0)
	st := h.server.Tick()
	if d := h.server.Dispatch(); d.Dropped != 1 || d.Sent != 0 {
		t.Fatalf("dispatch = %+v, want 1 dropped", d)
	}
	if st.Patches != 1 {
		t.Fatalf("tick = %+v", st)
	}

	h.transport.refuse["a"] = false
	got := h.step()["a"]
	if len(got) != 1 || !got[0].Full {
		t.Fatalf("catch-up patch = %+v, want full", got)
	}
	h.assertConverged(-1)
}

func TestPoolPreservesOrderAndStopDrains(t *testing.T) {
	pool := encoder.NewPool(4, 64, zaptest.NewLogger(t))
	h := newHarness(t, pool, nil)
	e := h.spawn("a", 0, 0)
	h.join("a")
	for i := 0; i < 20; i++ {
		e.Set("cash", i+1)
		h.server.Tick()
	}
	if err := h.server.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	var ticks []uint32
	for _, msg := range h.transport.take("a") {
		if typ, _ := protocol.PeekType(msg); typ != protocol.MsgPatch {
			continue
		}
		p, err := protocol.DecodePatch(h.reg, msg)
		if err != nil {
			t.Fatal(err)
		}
		ticks = append(ticks, p.Tick)
	}
	if len(ticks) != 20 {
		t.Fatalf("sent %d patches, want 20", len(ticks))
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i] <= ticks[i-1] {
			t.Fatalf("ticks out of order: %v", ticks)
		}
	}
	if h.server.Observers() != 0 {
		t.Fatal("observer memory kept after Stop")
	}
	if st := h.server.Tick(); st.Patches != 0 {
		t.Fatal("Tick ran after Stop")
	}
}

func TestLeaveForgetsObserver(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.spawn("a", 0, 0)
	h.join("a")
	h.step()
	h.server.Leave("a")
	if _, ok := h.server.Observer("a"); ok {
		t.Fatal("observer still known after Leave")
	}
	if st := h.server.Tick(); st.Observers != 0 || st.Patches != 0 {
		t.Fatalf("stats = %+v", st)
	}
}
