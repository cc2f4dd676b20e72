package system

import (
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r recorder) Phase() Phase { return r.phase }
func (r recorder) Update(time.Duration) { *r.log = append(*r.log, r.name) }

type panicker struct{ phase Phase }

func (p panicker) Phase() Phase { return p.phase }
func (p panicker) Update(time.Duration) { panic("boom") }

type sleeper struct{ d time.Duration }

func (s sleeper) Phase() Phase { return PhaseUpdate }
func (s sleeper) Update(time.Duration) { time.Sleep(s.d) }

func TestRunnerPhaseOrder(t *testing.T) {
	var log []string
	r := NewRunner(0, zaptest.NewLogger(t))
	r.Register(recorder{"output", PhaseOutput, &log})
	r.Register(recorder{"sim-a", PhaseUpdate, &log})
	r.Register(recorder{"input", PhaseInput, &log})
	r.Register(recorder{"sim-b", PhaseUpdate, &log})
	r.Register(recorder{"replicate", PhaseReplicate, &log})

	r.Tick(time.Millisecond)
	want := []string{"input", "sim-a", "sim-b", "replicate", "output"}
	if !reflect.DeepEqual(log, want) {
		t.Fatalf("order = %v, want %v", log, want)
	}
}

func TestRunnerRecoversPanics(t *testing.T) {
	var log []string
	r := NewRunner(0, zaptest.NewLogger(t))
	r.Register(panicker{PhaseUpdate})
	r.Register(recorder{"replicate", PhaseReplicate, &log})

	r.Tick(time.Millisecond)
	r.Tick(time.Millisecond)
	if len(log) != 2 {
		t.Fatalf("later phases ran %d times, want 2", len(log))
	}
	if ticks, panics, _ := r.Stats(); ticks != 2 || panics != 2 {
		t.Fatalf("stats = %d ticks, %d panics", ticks, panics)
	}
}

func TestRunnerCountsSlowTicks(t *testing.T) {
	r := NewRunner(time.Millisecond, zaptest.NewLogger(t))
	r.Register(sleeper{5 * time.Millisecond})
	r.Tick(time.Millisecond)
	if _, _, slow := r.Stats(); slow != 1 {
		t.Fatalf("slow = %d, want 1", slow)
	}
}
