package update

import (
	"testing"

	"github.com/chenthusiasm/i2c-bridge/internal/status"
	"github.com/chenthusiasm/i2c-bridge/internal/xfer"
)

func TestBeginFileBumpsSmallSubchunkSize(t *testing.T) {
	c := New(xfer.New(4, 32), nil)
	info := c.BeginFile(0, 1024, 10, 4, 5)
	if info.SubchunkSize != 10+256 {
		t.Fatalf("expected bumped subchunk size %d, got %d", 10+256, info.SubchunkSize)
	}
}

func TestBeginFileLeavesAdequateSubchunkSizeAlone(t *testing.T) {
	c := New(xfer.New(4, 32), nil)
	info := c.BeginFile(0, 1024, 64, 4, 5)
	if info.SubchunkSize != 64 {
		t.Fatalf("expected unmodified subchunk size 64, got %d", info.SubchunkSize)
	}
}

func TestBeginFileDecodesFlagBits(t *testing.T) {
	c := New(xfer.New(4, 32), nil)
	info := c.BeginFile(0x07, 1024, 64, 4, 5)
	if !info.Initiate || !info.Test || !info.TextStream {
		t.Fatalf("expected all three flag bits set, got %+v", info)
	}
}

func TestBeginFileEmitsEventOnlyOnce(t *testing.T) {
	c := New(xfer.New(4, 32), nil)
	var events []string
	c.SetEventFunc(func(name string) { events = append(events, name) })
	c.BeginFile(0x01, 1024, 64, 4, 5)
	c.BeginFile(0x01, 1024, 64, 4, 5)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %v", events)
	}
}

func validSubchunk(payload ...byte) []byte {
	sub := []byte{subchunkCode, 0x30, 0, 1, 2, 3, 4, 5, 6, 7}
	return append(sub, payload...)
}

func TestValidSubchunkQueuesWrite(t *testing.T) {
	xq := xfer.New(4, 32)
	c := New(xq, nil)
	c.ProcessSubchunk(validSubchunk(0xAB, 0xCD))
	tr, ok := xq.Dequeue()
	if !ok || tr.Addr != bootloaderAddr || tr.Dir != xfer.Write {
		t.Fatalf("expected a bootloader write, got %+v ok=%v", tr, ok)
	}
}

func TestInvalidCodeByteRaisesUpdateError(t *testing.T) {
	xq := xfer.New(4, 32)
	var got status.Status
	c := New(xq, func(s status.Status) { got = s })
	bad := validSubchunk()
	bad[0] = 0x00
	c.ProcessSubchunk(bad)
	if !got.Has(status.UpdateError) {
		t.Fatalf("expected updateError, got %v", got)
	}
	if !xq.IsEmpty() {
		t.Fatal("invalid sub-chunk must not be queued")
	}
}

func TestWrongKeyRaisesUpdateError(t *testing.T) {
	xq := xfer.New(4, 32)
	var got status.Status
	c := New(xq, func(s status.Status) { got = s })
	bad := validSubchunk()
	bad[5] = 0xFF
	c.ProcessSubchunk(bad)
	if !got.Has(status.UpdateError) {
		t.Fatalf("expected updateError for bad key, got %v", got)
	}
}

func TestCommandOutOfRangeRaisesUpdateError(t *testing.T) {
	xq := xfer.New(4, 32)
	var got status.Status
	c := New(xq, func(s status.Status) { got = s })
	bad := validSubchunk()
	bad[1] = 0x50
	c.ProcessSubchunk(bad)
	if !got.Has(status.UpdateError) {
		t.Fatalf("expected updateError for out-of-range command, got %v", got)
	}
}
