package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput     Phase = iota // 0: drain transport join/leave/resync queues
	PhasePreUpdate              // 1: dispatch last tick's events
	PhaseUpdate                 // 2: simulation writes tracked state
	PhaseReplicate              // 3: flush, per-observer diff, submit encodes
	PhaseOutput                 // 4: hand encoded patches to transports
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhasePreUpdate:
		return "pre-update"
	case PhaseUpdate:
		return "update"
	case PhaseReplicate:
		return "replicate"
	case PhaseOutput:
		return "output"
	}
	return "unknown"
}

// System is one step of the tick.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
