package system

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Runner executes systems in phase order each tick. Systems sharing a phase
// run in registration order. A panicking system is logged and skipped for
// the rest of that tick's phase; the remaining phases still run.
type Runner struct {
	systems []System
	sorted  bool
	budget  time.Duration
	log     *zap.Logger

	ticks  uint64
	panics int
	slow   int
}

// NewRunner creates a runner. Ticks taking longer than budget are logged;
// zero disables the check.
func NewRunner(budget time.Duration, log *zap.Logger) *Runner {
	return &Runner{
		systems: make([]System, 0, 8),
		budget:  budget,
		log:     log,
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

func (r *Runner) Tick(dt time.Duration) {
	r.ensureSorted()
	r.ticks++
	start := time.Now()
	for _, s := range r.systems {
		r.safeUpdate(s, dt)
	}
	if elapsed := time.Since(start); r.budget > 0 && elapsed > r.budget {
		r.slow++
		r.log.Warn("tick over budget",
			zap.Uint64("tick", r.ticks),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", r.budget),
		)
	}
}

// Stats reports ticks run, recovered system panics and over-budget ticks.
func (r *Runner) Stats() (ticks uint64, panics, slow int) {
	return r.ticks, r.panics, r.slow
}

func (r *Runner) safeUpdate(s System, dt time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics++
			r.log.Error("system panic recovered",
				zap.String("system", fmt.Sprintf("%T", s)),
				zap.Stringer("phase", s.Phase()),
				zap.Any("panic", rec),
			)
		}
	}()
	s.Update(dt)
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
