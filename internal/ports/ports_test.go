package ports

import (
	"errors"
	"testing"
)

// fakeProber reports every port free except those in busy.
type fakeProber struct {
	busy map[int]bool
}

func (f *fakeProber) CanBind(port int) bool {
	return !f.busy[port]
}

func newAllocatorForTest(busy ...int) *Allocator {
	busySet := make(map[int]bool, len(busy))
	for _, p := range busy {
		busySet[p] = true
	}
	return NewAllocator(&fakeProber{busy: busySet}, NewHighWaterMark(BasePort))
}

func TestAllocateDistinctPorts(t *testing.T) {
	alloc := newAllocatorForTest()

	requests := []Request{
		{Name: "http"},
		{Name: "db"},
		{Name: "cache"},
		{Name: "metrics"},
	}

	allocations, err := alloc.Allocate(requests)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(allocations) != len(requests) {
		t.Fatalf("got %d allocations, want %d", len(allocations), len(requests))
	}

	seen := make(map[int]string)
	for _, a := range allocations {
		if prev, ok := seen[a.Port]; ok {
			t.Errorf("port %d assigned to both %q and %q", a.Port, prev, a.Name)
		}
		seen[a.Port] = a.Name
	}
}

func TestAllocatePreferredHonoredWhenFree(t *testing.T) {
	alloc := newAllocatorForTest()

	allocations, err := alloc.Allocate([]Request{{Name: "http", Preferred: 3000}})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if allocations[0].Port != 3000 {
		t.Errorf("Port = %d, want 3000", allocations[0].Port)
	}
	if !allocations[0].Preferred {
		t.Error("Preferred = false, want true")
	}
}

func TestAllocatePreferredBusyScansForward(t *testing.T) {
	alloc := newAllocatorForTest(3000, 3001)

	allocations, err := alloc.Allocate([]Request{{Name: "http", Preferred: 3000}})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if allocations[0].Port != 3002 {
		t.Errorf("Port = %d, want 3002", allocations[0].Port)
	}
	if allocations[0].Preferred {
		t.Error("Preferred = true, want false when the preferred port was busy")
	}
}

func TestAllocateSamePreferredTwiceInOneCall(t *testing.T) {
	alloc := newAllocatorForTest()

	allocations, err := alloc.Allocate([]Request{
		{Name: "a", Preferred: 4000},
		{Name: "b", Preferred: 4000},
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if allocations[0].Port != 4000 || !allocations[0].Preferred {
		t.Errorf("first allocation = %+v, want port 4000 preferred", allocations[0])
	}
	if allocations[1].Port == 4000 {
		t.Error("second request got the same port as the first")
	}
	if allocations[1].Preferred {
		t.Error("second allocation marked preferred despite losing its port")
	}
}

func TestAllocateSequentialCallsDoNotOverlap(t *testing.T) {
	hw := NewHighWaterMark(BasePort)
	alloc := NewAllocator(&fakeProber{busy: map[int]bool{}}, hw)

	first, err := alloc.Allocate([]Request{{Name: "a"}, {Name: "b"}})
	if err != nil {
		t.Fatalf("first Allocate failed: %v", err)
	}
	second, err := alloc.Allocate([]Request{{Name: "c"}, {Name: "d"}})
	if err != nil {
		t.Fatalf("second Allocate failed: %v", err)
	}

	firstPorts := make(map[int]bool)
	for _, a := range first {
		firstPorts[a.Port] = true
	}
	for _, a := range second {
		if firstPorts[a.Port] {
			t.Errorf("port %d handed out by both calls", a.Port)
		}
	}
}

func TestAllocateExhaustion(t *testing.T) {
	// Every port is busy, so any scan runs out of attempts.
	alloc := NewAllocator(probeAlwaysFalse{}, NewHighWaterMark(BasePort))

	_, err := alloc.Allocate([]Request{{Name: "http", Preferred: 3000}})
	if !errors.Is(err, ErrPortExhausted) {
		t.Fatalf("err = %v, want ErrPortExhausted", err)
	}
}

type probeAlwaysFalse struct{}

func (probeAlwaysFalse) CanBind(int) bool { return false }

func TestHighWaterMarkAdvances(t *testing.T) {
	hw := NewHighWaterMark(50000)
	hw.Advance(50005)
	if got := hw.Next(); got != 50006 {
		t.Errorf("Next = %d, want 50006", got)
	}
	// Lower ports never move the mark backwards.
	hw.Advance(40000)
	if got := hw.Next(); got != 50006 {
		t.Errorf("Next after low Advance = %d, want 50006", got)
	}
}
