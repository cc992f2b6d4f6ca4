package status

import "testing"

func TestSetHasClear(t *testing.T) {
	var s Status
	if s.IsError() {
		t.Fatal("zero status must not be an error")
	}
	s = s.Set(TimedOut)
	s = s.Set(Nak)
	if !s.Has(TimedOut) || !s.Has(Nak) {
		t.Fatalf("expected both flags set, got %v", s)
	}
	if s.Has(LockedBus) {
		t.Fatal("LockedBus should not be set")
	}
	s = s.Clear(TimedOut)
	if s.Has(TimedOut) {
		t.Fatal("TimedOut should have been cleared")
	}
	if !s.IsError() {
		t.Fatal("Nak is still set, should report error")
	}
}

func TestMultipleFlagsCoexist(t *testing.T) {
	s := LockedBus.Set(MemoryLeak).Set(DriverError)
	for _, f := range []Status{LockedBus, MemoryLeak, DriverError} {
		if !s.Has(f) {
			t.Fatalf("flag %v missing from %v", f, s)
		}
	}
}

func TestStringListsSetBits(t *testing.T) {
	s := Nak.Set(TimedOut)
	got := s.String()
	if got != "timedOut,nak" {
		t.Fatalf("got %q", got)
	}
	if Status(0).String() != "ok" {
		t.Fatal("zero status should stringify to ok")
	}
}

func TestCallSiteRoundTrip(t *testing.T) {
	cs := CallSite{
		TopCall:              CallI2CProcess,
		SubCall:              7,
		RecoverFromLockedBus: true,
		IsBusReady:           false,
		LowLevelCall:         LowLevelRead,
	}
	packed := cs.Pack()
	got := Unpack(packed)
	if got != cs {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, cs)
	}
}

func TestCallSiteDistinguishability(t *testing.T) {
	a := CallSite{TopCall: CallI2CProcess, LowLevelCall: LowLevelWrite}
	b := CallSite{TopCall: CallI2CProcess, LowLevelCall: LowLevelRead}
	if a.Pack() == b.Pack() {
		t.Fatal("distinct callsites must pack to distinct values")
	}
}
