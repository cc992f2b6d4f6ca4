// Package update implements the firmware-update mode controller of
// spec §4.I: seeds RX state-machine counters from a host file-info
// command, validates each decoded sub-chunk against the bootloader
// sub-chunk layout, and forwards valid sub-chunks to the slave
// bootloader over I²C.
package update

import (
	"github.com/chenthusiasm/i2c-bridge/internal/status"
	"github.com/chenthusiasm/i2c-bridge/internal/xfer"
)

// MinSubchunkSize is the minimum encoded sub-chunk size: 14 header
// bytes (code, command, 8-byte key, plus framing overhead already
// counted elsewhere) plus 8 bytes of data (spec §4.I).
const MinSubchunkSize = 22

// Sub-chunk layout constants (spec §4.I).
const (
	subchunkCode    = 0xFF
	subchunkCmdLo   = 0x30
	subchunkCmdHi   = 0x3F
	subchunkKeyLen  = 8
	subchunkHdrLen  = 1 + 1 + subchunkKeyLen // code + command + key
	bootloaderAddr  = 0x08
)

// expectedKey is the fixed key bytes every sub-chunk must carry.
var expectedKey = [subchunkKeyLen]byte{0, 1, 2, 3, 4, 5, 6, 7}

// FileInfo is the file-info command payload (spec §4.I).
type FileInfo struct {
	TotalSize    uint16
	SubchunkSize int
	TotalChunks  uint8
	DelayMs      uint8
	// Flags documented upstream as "purpose unknown"; preserved as
	// named, individually inspectable bits (spec §4.I).
	Initiate   bool
	Test       bool
	TextStream bool
}

// EventFunc reports a one-shot diagnostic the first time a
// purpose-unknown flag bit is observed set.
type EventFunc func(name string)

// Controller drives update-mode sub-chunk validation and bootloader
// writes.
type Controller struct {
	xferQ *xfer.Queue
	onErr func(status.Status)
	event EventFunc

	seenInitiate, seenTest, seenTextStream bool

	effectiveSubchunkSize int
}

// New returns an update-mode controller dispatching bootloader writes
// through xferQ.
func New(xferQ *xfer.Queue, onErr func(status.Status)) *Controller {
	return &Controller{xferQ: xferQ, onErr: onErr}
}

// SetEventFunc registers the diagnostic-event callback.
func (c *Controller) SetEventFunc(fn EventFunc) { c.event = fn }

// BeginFile processes a decoded file-info command, raising
// SubchunkSize by 256 when the host specified something below
// MinSubchunkSize, and returns the adjusted FileInfo for the RX state
// machine to be configured with.
func (c *Controller) BeginFile(flags uint8, totalSize uint16, subchunkSize, totalChunks, delayMs uint8) FileInfo {
	info := FileInfo{
		TotalSize:   totalSize,
		TotalChunks: totalChunks,
		DelayMs:     delayMs,
		Initiate:    flags&0x01 != 0,
		Test:        flags&0x02 != 0,
		TextStream:  flags&0x04 != 0,
	}
	adjusted := int(subchunkSize)
	if adjusted < MinSubchunkSize {
		adjusted += 256
	}
	info.SubchunkSize = adjusted
	c.effectiveSubchunkSize = adjusted

	c.emitFlagEvents(info)
	return info
}

func (c *Controller) emitFlagEvents(info FileInfo) {
	if info.Initiate && !c.seenInitiate {
		c.seenInitiate = true
		c.emit("update.flag.initiate")
	}
	if info.Test && !c.seenTest {
		c.seenTest = true
		c.emit("update.flag.test")
	}
	if info.TextStream && !c.seenTextStream {
		c.seenTextStream = true
		c.emit("update.flag.textStream")
	}
}

func (c *Controller) emit(name string) {
	if c.event != nil {
		c.event(name)
	}
}

// ProcessSubchunk validates a decoded sub-chunk and, if valid, queues
// it as a write to the bootloader address. Invalid sub-chunks raise
// updateError and are dropped.
func (c *Controller) ProcessSubchunk(sub []byte) {
	if !c.validate(sub) {
		c.raise(status.UpdateError)
		return
	}
	if !c.xferQ.EnqueueWrite(bootloaderAddr, sub) {
		c.raise(status.QueueFull)
		return
	}
	// Drain the bootloader's read response; a fixed-size ack read is
	// queued immediately behind the write so the comms FSM services it
	// in order.
	c.xferQ.EnqueueRead(bootloaderAddr, 2)
}

func (c *Controller) validate(sub []byte) bool {
	if len(sub) < subchunkHdrLen {
		return false
	}
	if sub[0] != subchunkCode {
		return false
	}
	cmd := sub[1]
	if cmd < subchunkCmdLo || cmd > subchunkCmdHi {
		return false
	}
	for i := 0; i < subchunkKeyLen; i++ {
		if sub[2+i] != expectedKey[i] {
			return false
		}
	}
	return true
}

func (c *Controller) raise(s status.Status) {
	if c.onErr != nil {
		c.onErr(s)
	}
}
