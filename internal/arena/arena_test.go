package arena

import "testing"

func TestActivateDeactivateAccounting(t *testing.T) {
	a := New(16)
	r1, ok := a.Activate(10)
	if !ok || len(r1) != 40 {
		t.Fatalf("activate 10 words failed: ok=%v len=%d", ok, len(r1))
	}
	if a.FreeOffsetWords() != 10 {
		t.Fatalf("freeOffset = %d, want 10", a.FreeOffsetWords())
	}
	if !a.Deactivate(10) {
		t.Fatal("deactivate should succeed")
	}
	if a.FreeOffsetWords() != 0 {
		t.Fatalf("freeOffset after deactivate = %d, want 0", a.FreeOffsetWords())
	}
}

func TestActivateExceedingCapacityFails(t *testing.T) {
	a := New(4)
	if _, ok := a.Activate(5); ok {
		t.Fatal("activate beyond capacity should fail")
	}
	if a.FreeOffsetWords() != 0 {
		t.Fatal("failed activate must not move the offset")
	}
}

func TestDeactivateMismatchFails(t *testing.T) {
	a := New(8)
	a.Activate(3)
	if a.Deactivate(5) {
		t.Fatal("deactivating more than allocated should fail")
	}
}

func TestModeTransitionDrainsExactly(t *testing.T) {
	a := New(20)
	a.Activate(12) // translate mode
	if !a.Deactivate(12) {
		t.Fatal("deactivate translate mode")
	}
	r, ok := a.Activate(20) // update mode reuses full capacity
	if !ok || len(r) != 80 {
		t.Fatalf("activate update mode after drain failed: ok=%v len=%d", ok, len(r))
	}
}

func TestRoundUpWords(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 4: 1, 5: 2, 8: 2, 9: 3}
	for bytes, want := range cases {
		if got := RoundUpWords(bytes); got != want {
			t.Errorf("RoundUpWords(%d) = %d, want %d", bytes, got, want)
		}
	}
}
