package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/worldsync/internal/core/system"
	"github.com/l1jgo/worldsync/internal/replication"
)

// ReplicationSystem builds and submits every observer's patch once per
// tick, after the simulation has run. Phase 3 (Replicate).
type ReplicationSystem struct {
	server *replication.Server
	last   replication.Stats
}

func NewReplicationSystem(server *replication.Server) *ReplicationSystem {
	return &ReplicationSystem{server: server}
}

func (s *ReplicationSystem) Phase() coresys.Phase { return coresys.PhaseReplicate }

func (s *ReplicationSystem) Update(_ time.Duration) {
	s.last = s.server.Tick()
}

// Last returns the statistics of the most recent tick.
func (s *ReplicationSystem) Last() replication.Stats { return s.last }

// OutputSystem hands encoded patches to the transports. Phase 4 (Output).
type OutputSystem struct {
	server  *replication.Server
	log     *zap.Logger
	sent    int
	bytes   int
	dropped int
}

func NewOutputSystem(server *replication.Server, log *zap.Logger) *OutputSystem {
	return &OutputSystem{server: server, log: log}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	st := s.server.Dispatch()
	s.sent += st.Sent
	s.bytes += st.Bytes
	s.dropped += st.Dropped
	if st.Dropped > 0 {
		s.log.Debug("patches dropped for slow observers", zap.Uint32("tick", st.Tick), zap.Int("dropped", st.Dropped))
	}
}

// Totals returns the cumulative messages sent, bytes sent and patches
// dropped.
func (s *OutputSystem) Totals() (sent, bytes, dropped int) {
	return s.sent, s.bytes, s.dropped
}
