// Package replication turns the world's dirty state into one patch per
// observer per tick and hands the encoded bytes to a transport.
package replication

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/encoder"
	"github.com/l1jgo/worldsync/internal/protocol"
	"github.com/l1jgo/worldsync/internal/visibility"
	"github.com/l1jgo/worldsync/internal/world"
)

// ObserverID identifies a connected client.
type ObserverID = string

// Transport delivers bytes to observers. TrySend must not block; false
// means the observer's channel is not ready right now.
type Transport interface {
	TrySend(id ObserverID, data []byte) bool
}

// ObserverState is the lifecycle of one observer as seen by the server.
type ObserverState uint8

const (
	Unseen  ObserverState = iota // joined, no patch built yet
	Tracked                      // lastVisible reflects the client mirror
)

func (s ObserverState) String() string {
	if s == Tracked {
		return "Tracked"
	}
	return "Unseen"
}

type observer struct {
	id          ObserverID
	state       ObserverState
	lastVisible map[string]visibility.IDSet
	resync      bool
	queue       []*encoder.Future
}

// pendingEvent is an event queued for the next tick. An observer receives
// it only when every id in requires is in its visibility for that tick.
type pendingEvent struct {
	event    protocol.Event
	requires map[string][]world.ID
}

// Options configures a Server. Policy, Encoder and Transport are required.
type Options struct {
	Policy    visibility.Policy
	Encoder   encoder.Encoder
	Transport Transport
	// Hello, if set, is sent to every observer on Join.
	Hello []byte
	Log   *zap.Logger
}

// Stats summarizes one Tick or Dispatch.
type Stats struct {
	Tick      uint32
	Observers int
	Patches   int // patches built and submitted for encoding
	Entities  int // ids touched across all patches
	Failed    int // observers skipped after a policy or build failure
	Events    int // events delivered across all patches
	Sent      int
	Bytes     int
	Dropped   int // patches discarded under backpressure
}

// Server is owned by the game loop goroutine. Join, Leave, Resync, Tick,
// Dispatch and Stop must all be called from it.
type Server struct {
	state     *world.State
	policy    visibility.Policy
	enc       encoder.Encoder
	transport Transport
	hello     []byte
	log       *zap.Logger

	observers map[ObserverID]*observer
	events    []pendingEvent
	tick      uint32
	stopped   bool
}

func NewServer(state *world.State, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		state:     state,
		policy:    opts.Policy,
		enc:       opts.Encoder,
		transport: opts.Transport,
		hello:     opts.Hello,
		log:       log,
		observers: make(map[ObserverID]*observer),
	}
}

// Join registers an observer. Joining again under a known id starts over as
// a fresh observer: its next patch carries the full visible state.
func (s *Server) Join(id ObserverID) {
	if s.stopped {
		return
	}
	s.observers[id] = &observer{id: id, state: Unseen, lastVisible: make(map[string]visibility.IDSet)}
	if s.hello != nil && !s.transport.TrySend(id, s.hello) {
		s.log.Warn("hello not delivered", zap.String("observer", id))
	}
	s.log.Info("observer joined", zap.String("observer", id), zap.Int("observers", len(s.observers)))
}

// Leave forgets an observer and any patches still queued for it.
func (s *Server) Leave(id ObserverID) {
	if _, ok := s.observers[id]; !ok {
		return
	}
	delete(s.observers, id)
	s.log.Info("observer left", zap.String("observer", id), zap.Int("observers", len(s.observers)))
}

// Resync makes the observer's next patch a full one.
func (s *Server) Resync(id ObserverID) {
	if o, ok := s.observers[id]; ok {
		s.markResync(o)
		s.log.Info("observer resync requested", zap.String("observer", id))
	}
}

func (s *Server) markResync(o *observer) {
	o.resync = true
	o.queue = nil
}

// AddEvent queues an event for the next Tick. With requires nil every
// observer receives it; otherwise only observers that see all of the listed
// entities do. Events not delivered by that Tick are discarded.
func (s *Server) AddEvent(name string, schema *codec.Object, payload codec.Fields, requires map[string][]world.ID) error {
	if s.stopped {
		return nil
	}
	if schema == nil {
		return fmt.Errorf("replication: event %s has no schema", name)
	}
	if _, err := codec.Marshal(schema, payload); err != nil {
		return fmt.Errorf("replication: event %s: %w", name, err)
	}
	s.events = append(s.events, pendingEvent{
		event:    protocol.Event{Name: name, Schema: schema, Payload: payload.Clone()},
		requires: requires,
	})
	return nil
}

// PeekEvent returns the payloads of the events named name that are queued
// for the next Tick, in the order they were added.
func (s *Server) PeekEvent(name string) []codec.Fields {
	var out []codec.Fields
	for _, ev := range s.events {
		if ev.event.Name == name {
			out = append(out, ev.event.Payload)
		}
	}
	return out
}

// Observer reports the state of an observer, and whether it is known.
func (s *Server) Observer(id ObserverID) (ObserverState, bool) {
	o, ok := s.observers[id]
	if !ok {
		return Unseen, false
	}
	return o.state, true
}

// Observers returns the number of joined observers.
func (s *Server) Observers() int { return len(s.observers) }

// Tick flushes the world once, then builds and submits one patch per
// observer. Observers are visited in id order.
func (s *Server) Tick() Stats {
	if s.stopped {
		return Stats{Tick: s.tick}
	}
	s.tick++
	st := Stats{Tick: s.tick, Observers: len(s.observers)}

	changes := make(map[string]world.Changes, len(s.state.Names()))
	for _, name := range s.state.Names() {
		changes[name] = s.state.Collection(name).FlushChanges()
	}
	if p, ok := s.policy.(visibility.Preparer); ok {
		p.Prepare(s.state)
	}

	for _, id := range s.sortedObservers() {
		o := s.observers[id]
		patch, next, err := s.safeBuild(o, changes)
		if err != nil {
			st.Failed++
			s.markResync(o)
			s.log.Error("patch build failed", zap.String("observer", id), zap.Error(err))
			continue
		}
		o.lastVisible = next
		o.state = Tracked
		o.resync = false
		if patch.Empty() {
			continue
		}
		st.Patches++
		st.Entities += patch.Count()
		st.Events += len(patch.Events)
		o.queue = append(o.queue, s.enc.Submit(patch))
	}
	s.log.Debug("replication tick",
		zap.Uint32("tick", st.Tick),
		zap.Int("observers", st.Observers),
		zap.Int("patches", st.Patches),
		zap.Int("entities", st.Entities),
		zap.Int("failed", st.Failed),
		zap.Int("events", st.Events),
	)
	s.events = s.events[:0]
	return st
}

// safeBuild runs the policy and patch assembly for one observer, turning a
// panic into an error so one observer cannot abort the tick.
func (s *Server) safeBuild(o *observer, changes map[string]world.Changes) (p *protocol.Patch, next map[string]visibility.IDSet, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, next = nil, nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	p, next = s.build(o, changes)
	return p, next, nil
}

// build diffs the observer's visibility against what its mirror holds.
// It does not modify o.
func (s *Server) build(o *observer, changes map[string]world.Changes) (*protocol.Patch, map[string]visibility.IDSet) {
	vis := s.policy.Compute(o.id, s.state)
	full := o.state == Unseen || o.resync

	patch := &protocol.Patch{Tick: s.tick, Full: full}
	next := make(map[string]visibility.IDSet, len(s.state.Names()))
	var removed, added, changed []protocol.Op

	for _, name := range s.state.Names() {
		coll := s.state.Collection(name)
		ch := changes[name]

		now := make(visibility.IDSet, len(vis.Collections[name]))
		for id := range vis.Collections[name] {
			if coll.Has(id) {
				now.Add(id)
			}
		}
		next[name] = now

		var prev visibility.IDSet
		if !full {
			prev = o.lastVisible[name]
		}

		var leaving []world.ID
		for id := range prev {
			if !now.Has(id) {
				leaving = append(leaving, id)
			}
		}

		var fresh, dirty []world.ID
		for id := range now {
			_, replaced := ch.Replaced[id]
			switch {
			case !prev.Has(id), replaced:
				fresh = append(fresh, id)
			default:
				if _, ok := ch.Changed[id]; ok {
					dirty = append(dirty, id)
				}
			}
		}

		if len(leaving) > 0 {
			sort.Strings(leaving)
			removed = append(removed, protocol.Op{Kind: protocol.OpRemoved, Collection: name, IDs: leaving})
		}
		if len(fresh) > 0 {
			sort.Strings(fresh)
			flat := coll.SelectFlat(fresh)
			op := protocol.Op{Kind: protocol.OpAdded, Collection: name, Entries: make([]protocol.Entry, 0, len(fresh))}
			for _, id := range fresh {
				e, _ := coll.Get(id)
				op.Entries = append(op.Entries, protocol.Entry{ID: id, Schema: e.Schema(), Fields: flat[id]})
			}
			added = append(added, op)
		}
		if len(dirty) > 0 {
			sort.Strings(dirty)
			op := protocol.Op{Kind: protocol.OpChanged, Collection: name, Entries: make([]protocol.Entry, 0, len(dirty))}
			for _, id := range dirty {
				e, _ := coll.Get(id)
				op.Entries = append(op.Entries, protocol.Entry{ID: id, Schema: e.Schema(), Fields: ch.Changed[id]})
			}
			changed = append(changed, op)
		}
	}

	patch.Ops = append(append(removed, added...), changed...)
	for _, ev := range s.events {
		if eventVisible(next, ev.requires) {
			patch.Events = append(patch.Events, ev.event)
		}
	}
	return patch, next
}

func eventVisible(next map[string]visibility.IDSet, requires map[string][]world.ID) bool {
	for coll, ids := range requires {
		for _, id := range ids {
			if !next[coll].Has(id) {
				return false
			}
		}
	}
	return true
}

// Dispatch hands every encoded patch at the head of each observer's queue
// to the transport, preserving generation order. A refused send drops the
// rest of that observer's queue and schedules a full resync, so nothing is
// buffered behind a slow client.
func (s *Server) Dispatch() Stats {
	st := Stats{Tick: s.tick, Observers: len(s.observers)}
	for _, id := range s.sortedObservers() {
		o := s.observers[id]
		for len(o.queue) > 0 && o.queue[0].Ready() {
			data, err := o.queue[0].Result()
			o.queue = o.queue[1:]
			if err != nil {
				s.log.Error("patch encode failed", zap.String("observer", id), zap.Error(err))
				st.Dropped += len(o.queue) + 1
				s.markResync(o)
				break
			}
			if !s.transport.TrySend(id, data) {
				st.Dropped += len(o.queue) + 1
				s.markResync(o)
				s.log.Debug("observer not ready, resync scheduled", zap.String("observer", id))
				break
			}
			st.Sent++
			st.Bytes += len(data)
		}
	}
	return st
}

// Stop stops scheduling ticks, waits for in-flight encodes, dispatches
// them, and releases per-observer memory.
func (s *Server) Stop(ctx context.Context) error {
	if s.stopped {
		return nil
	}
	s.stopped = true
	err := s.enc.Close(ctx)
	st := s.Dispatch()
	s.log.Info("replication stopped",
		zap.Int("observers", len(s.observers)),
		zap.Int("sent", st.Sent),
		zap.Int("dropped", st.Dropped),
	)
	s.observers = make(map[ObserverID]*observer)
	return err
}

func (s *Server) sortedObservers() []ObserverID {
	ids := make([]ObserverID, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
