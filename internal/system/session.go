package system

import (
	"go.uber.org/zap"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/core/event"
	"github.com/l1jgo/worldsync/internal/replication"
	"github.com/l1jgo/worldsync/internal/world"
)

// Notice event names.
const (
	EventArrived  = "arrived"
	EventDeparted = "departed"
)

// Sessions ties observer lifetime to the world: a joining observer gets an
// actor entity and a replication slot; leaving removes both.
type Sessions struct {
	server   *replication.Server
	actors   *world.Collection
	newActor func(id string) codec.Fields
	notice   *codec.Object
	log      *zap.Logger
}

// NewSessions subscribes the session handlers on bus. Joins are subscribed
// first so a join and leave delivered together resolve in that order.
// actors and newActor may be nil for observers without an in-world body.
func NewSessions(bus *event.Bus, server *replication.Server, actors *world.Collection, newActor func(id string) codec.Fields, log *zap.Logger) *Sessions {
	s := &Sessions{server: server, actors: actors, newActor: newActor, log: log}
	event.Subscribe(bus, s.onJoined)
	event.Subscribe(bus, s.onLeft)
	event.Subscribe(bus, s.onResync)
	return s
}

// WithNotices makes Sessions announce arrivals to observers that can see
// the new actor, and departures to everyone. schema must have string fields
// actor and text.
func (s *Sessions) WithNotices(schema *codec.Object) *Sessions {
	s.notice = schema
	return s
}

func (s *Sessions) announce(name, id, text string, requires map[string][]world.ID) {
	if s.notice == nil {
		return
	}
	if err := s.server.AddEvent(name, s.notice, codec.Fields{"actor": id, "text": text}, requires); err != nil {
		s.log.Error("notice rejected", zap.String("event", name), zap.Error(err))
	}
}

func (s *Sessions) onJoined(e event.ObserverJoined) {
	if s.actors != nil && s.newActor != nil && !s.actors.Has(e.ObserverID) {
		if _, err := s.actors.Insert(e.ObserverID, s.newActor(e.ObserverID)); err != nil {
			s.log.Error("spawn actor failed", zap.String("observer", e.ObserverID), zap.Error(err))
		}
	}
	s.server.Join(e.ObserverID)
	var requires map[string][]world.ID
	if s.actors != nil && s.actors.Has(e.ObserverID) {
		requires = map[string][]world.ID{s.actors.Name(): {e.ObserverID}}
	}
	s.announce(EventArrived, e.ObserverID, e.ObserverID+" arrived", requires)
	s.log.Info("observer joined", zap.String("observer", e.ObserverID), zap.Int("observers", s.server.Observers()))
}

func (s *Sessions) onLeft(e event.ObserverLeft) {
	s.server.Leave(e.ObserverID)
	if s.actors != nil {
		s.actors.Delete(e.ObserverID)
	}
	s.announce(EventDeparted, e.ObserverID, e.ObserverID+" left", nil)
	s.log.Info("observer left", zap.String("observer", e.ObserverID), zap.Int("observers", s.server.Observers()))
}

func (s *Sessions) onResync(e event.ResyncRequested) {
	if _, ok := s.server.Observer(e.ObserverID); !ok {
		return
	}
	s.server.Resync(e.ObserverID)
	s.log.Info("observer requested resync", zap.String("observer", e.ObserverID))
}
