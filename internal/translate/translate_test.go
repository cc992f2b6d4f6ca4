package translate

import (
	"testing"

	"github.com/chenthusiasm/i2c-bridge/internal/pktqueue"
	"github.com/chenthusiasm/i2c-bridge/internal/status"
	"github.com/chenthusiasm/i2c-bridge/internal/xfer"
)

type fakeEncoder struct {
	lastCmd byte
}

func (f *fakeEncoder) SetCommand(cmd byte) { f.lastCmd = cmd }

func newController() (*Controller, *pktqueue.Queue, *fakeEncoder, *xfer.Queue) {
	tx := pktqueue.New(4, 32)
	enc := &fakeEncoder{}
	xq := xfer.New(4, 16)
	c := New(tx, enc, xq, nil, Version{Major: 1, Minor: 2, Baud: 1_000_000})
	return c, tx, enc, xq
}

func TestAckRoundTrip(t *testing.T) {
	c, tx, enc, _ := newController()
	c.Dispatch([]byte{CmdAck})
	if enc.lastCmd != CmdAck {
		t.Fatalf("expected Ack response command, got %q", enc.lastCmd)
	}
	if tx.IsEmpty() {
		t.Fatal("expected a response enqueued")
	}
}

func TestSlaveWriteEnqueuesTransfer(t *testing.T) {
	c, _, _, xq := newController()
	c.Dispatch([]byte{CmdSlaveWrite, 0x42, 0x01, 0x02})
	tr, ok := xq.Dequeue()
	if !ok {
		t.Fatal("expected a transfer enqueued")
	}
	if tr.Addr != 0x42 || tr.Dir != xfer.Write {
		t.Fatalf("got %+v", tr)
	}
	if string(tr.Data) != "\x01\x02" {
		t.Fatalf("data mismatch: %v", tr.Data)
	}
}

func TestSlaveReadDefaultsSizeToOne(t *testing.T) {
	c, _, _, xq := newController()
	c.Dispatch([]byte{CmdSlaveRead, 0x10})
	tr, ok := xq.Dequeue()
	if !ok || tr.ReadLen != 1 {
		t.Fatalf("expected default read size 1, got %+v ok=%v", tr, ok)
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	c, tx, _, _ := newController()
	c.Dispatch([]byte{0xFE})
	if !tx.IsEmpty() {
		t.Fatal("unknown command must not enqueue a response")
	}
}

func TestResetInvokesCallbackAfterAck(t *testing.T) {
	var resetCalled bool
	tx := pktqueue.New(4, 32)
	enc := &fakeEncoder{}
	xq := xfer.New(4, 16)
	c := New(tx, enc, xq, func() { resetCalled = true }, Version{})
	c.Dispatch([]byte{CmdReset})
	if !resetCalled {
		t.Fatal("expected reset callback to be invoked")
	}
	if enc.lastCmd != CmdAck {
		t.Fatal("expected an Ack enqueued before reset")
	}
}

func TestUpdateRequestParsesParams(t *testing.T) {
	c, _, _, _ := newController()
	var gotFlags, gotSub, gotChunks, gotDelay uint8
	var gotSize uint16
	c.SetOnUpdateRequested(func(flags uint8, fileSize uint16, subchunkSize, chunks, delayMs uint8) {
		gotFlags, gotSize, gotSub, gotChunks, gotDelay = flags, fileSize, subchunkSize, chunks, delayMs
	})
	c.Dispatch([]byte{CmdSlaveUpdate, 0x07, 0x01, 0x00, 0x20, 0x05, 0x0A})
	if gotFlags != 0x07 || gotSize != 0x0100 || gotSub != 0x20 || gotChunks != 5 || gotDelay != 0x0A {
		t.Fatalf("got flags=%x size=%x sub=%x chunks=%d delay=%x", gotFlags, gotSize, gotSub, gotChunks, gotDelay)
	}
}

func TestRaiseErrorLegacyModeUsesOneLetterCommand(t *testing.T) {
	c, _, enc, _ := newController()
	c.RaiseError(status.TimedOut, status.CallSite{})
	if enc.lastCmd != CmdSlaveTimeout {
		t.Fatalf("expected legacy timeout command, got %q", enc.lastCmd)
	}
	c.RaiseError(status.Nak, status.CallSite{})
	if enc.lastCmd != CmdSlaveNak {
		t.Fatalf("expected legacy nak command, got %q", enc.lastCmd)
	}
}

func TestRaiseErrorGlobalModeUsesFramedRecord(t *testing.T) {
	c, tx, enc, _ := newController()
	c.SetErrorMode(ErrorModeGlobal)
	cs := status.CallSite{TopCall: 0x12, SubCall: 0x3, IsBusReady: true}
	c.RaiseError(status.DriverError, cs)
	if enc.lastCmd != CmdErrorMode {
		t.Fatalf("expected framed error-mode command, got %q", enc.lastCmd)
	}
	if tx.IsEmpty() {
		t.Fatal("expected a framed error record enqueued")
	}
}
