package event

import (
	"reflect"
	"testing"
)

func TestBusDeliversNextTick(t *testing.T) {
	b := NewBus()
	var joined []string
	var left []string
	Subscribe(b, func(e ObserverJoined) { joined = append(joined, e.ObserverID) })
	Subscribe(b, func(e ObserverLeft) { left = append(left, e.ObserverID) })

	Emit(b, ObserverJoined{ObserverID: "a"})
	Emit(b, ObserverJoined{ObserverID: "b"})
	Emit(b, ObserverLeft{ObserverID: "a"})
	if b.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", b.Pending())
	}
	b.DispatchAll()
	if len(joined) != 0 {
		t.Fatal("events delivered before SwapBuffers")
	}

	b.SwapBuffers()
	b.DispatchAll()
	if !reflect.DeepEqual(joined, []string{"a", "b"}) || !reflect.DeepEqual(left, []string{"a"}) {
		t.Fatalf("joined = %v, left = %v", joined, left)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(joined) != 2 {
		t.Fatal("events delivered twice")
	}
}

func TestBusDispatchesTypesInSubscriptionOrder(t *testing.T) {
	b := NewBus()
	var log []string
	Subscribe(b, func(e ObserverJoined) { log = append(log, "join "+e.ObserverID) })
	Subscribe(b, func(e ObserverLeft) { log = append(log, "leave "+e.ObserverID) })
	Subscribe(b, func(e ResyncRequested) { log = append(log, "resync "+e.ObserverID) })

	for i := 0; i < 20; i++ {
		log = log[:0]
		Emit(b, ResyncRequested{ObserverID: "a"})
		Emit(b, ObserverLeft{ObserverID: "a"})
		Emit(b, ObserverJoined{ObserverID: "a"})
		b.SwapBuffers()
		b.DispatchAll()
		want := []string{"join a", "leave a", "resync a"}
		if !reflect.DeepEqual(log, want) {
			t.Fatalf("round %d: %v, want %v", i, log, want)
		}
	}
}
