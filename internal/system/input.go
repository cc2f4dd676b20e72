package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/worldsync/internal/core/event"
	coresys "github.com/l1jgo/worldsync/internal/core/system"
)

// ConnEvents is the transport side of the input phase. net.Hub implements it.
type ConnEvents interface {
	Drain() (joined, left, resyncs []string)
}

// InputSystem drains connection events from the transports and emits them
// on the event bus. Phase 0 (Input).
type InputSystem struct {
	source ConnEvents
	bus    *event.Bus
	log    *zap.Logger
}

func NewInputSystem(source ConnEvents, bus *event.Bus, log *zap.Logger) *InputSystem {
	return &InputSystem{source: source, bus: bus, log: log}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	joined, left, resyncs := s.source.Drain()
	for _, id := range joined {
		event.Emit(s.bus, event.ObserverJoined{ObserverID: id})
	}
	for _, id := range left {
		event.Emit(s.bus, event.ObserverLeft{ObserverID: id})
	}
	for _, id := range resyncs {
		event.Emit(s.bus, event.ResyncRequested{ObserverID: id})
	}
	if n := len(joined) + len(left) + len(resyncs); n > 0 {
		s.log.Debug("connection events",
			zap.Int("joined", len(joined)),
			zap.Int("left", len(left)),
			zap.Int("resyncs", len(resyncs)),
		)
	}
}

// EventDispatchSystem delivers the events emitted since the previous
// dispatch. Phase 1 (PreUpdate).
type EventDispatchSystem struct {
	bus *event.Bus
}

func NewEventDispatchSystem(bus *event.Bus) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventDispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
