package secure

import "testing"

func TestIDAllocatorSkipsZeroAndWraps(t *testing.T) {
	a := newIDAllocator()
	a.nextID = MaxSessionID

	id, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id != MaxSessionID {
		t.Fatalf("id = %d, want %d", id, MaxSessionID)
	}

	id2, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id2 != MinSessionID {
		t.Errorf("id2 = %d, want wraparound to %d (skipping 0)", id2, MinSessionID)
	}
}

func TestIDAllocatorNoDuplicates(t *testing.T) {
	a := newIDAllocator()
	seen := make(map[uint16]bool)
	for i := 0; i < 100; i++ {
		id, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
	}
}

func TestIDAllocatorReleaseReusable(t *testing.T) {
	a := newIDAllocator()
	id, _ := a.Allocate()
	a.Release(id)

	// Exhaust the rest of the space to force probing back to id.
	a.nextID = wrapID(id + 1)
	for i := uint16(0); i < MaxSessionID-1; i++ {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}
	got, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if got != id {
		t.Errorf("got %d, want released id %d", got, id)
	}
}

func TestIDAllocatorExhaustion(t *testing.T) {
	a := newIDAllocator()
	for id := MinSessionID; id <= MaxSessionID; id++ {
		a.inUse[id] = true
	}
	if _, err := a.Allocate(); err != ErrSessionIDExhausted {
		t.Errorf("err = %v, want ErrSessionIDExhausted", err)
	}
}
