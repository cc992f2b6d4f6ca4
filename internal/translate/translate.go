// Package translate implements the translate mode controller of spec
// §4.H: dispatches decoded host packets by their one-byte command
// (spec §6) and enqueues exactly one response packet per recognized
// command; reads and writes against the slave are handed off to the
// transfer queue so the I²C FSM drives them asynchronously.
package translate

import (
	"encoding/binary"

	"github.com/chenthusiasm/i2c-bridge/internal/pktqueue"
	"github.com/chenthusiasm/i2c-bridge/internal/status"
	"github.com/chenthusiasm/i2c-bridge/internal/xfer"
)

// Command identifiers, spec §6.
const (
	CmdAck           = 'A'
	CmdErrorMode     = 'E'
	CmdSlaveAddress  = 'I'
	CmdSlaveNak      = 'N'
	CmdSlaveRead     = 'R'
	CmdSlaveTimeout  = 'T'
	CmdLegacyVersion = 'V'
	CmdSlaveWrite    = 'W'
	CmdSlaveAck      = 'a'
	CmdSlaveUpdate   = 'B'
	CmdReset         = 'r'
	CmdVersion       = 'v'
)

// ErrorMode selects the encoding of error reports back to the host.
type ErrorMode int

const (
	ErrorModeLegacy ErrorMode = iota
	ErrorModeGlobal
)

// Version is reported in response to CmdVersion/CmdLegacyVersion.
type Version struct {
	Major uint16
	Minor uint16
	Baud  uint32
}

// Controller dispatches decoded host commands.
type Controller struct {
	tx        *pktqueue.Queue
	enc       commandEncoder
	xferQ     *xfer.Queue
	reset     func()
	version   Version
	errorMode ErrorMode
	slaveAddr uint8

	onUpdateRequested func(flags uint8, fileSize uint16, subchunkSize, chunks, delayMs uint8)
}

// commandEncoder is the minimal surface translate needs from
// internal/frame.Encoder (which owns the wire-level encode callback
// this controller's enqueues run through).
type commandEncoder interface {
	SetCommand(cmd byte)
}

// New returns a controller that enqueues framed responses into tx
// (whose encode callback must be a frame.Encoder.Encode bound to enc)
// and dispatches slave I/O into xferQ.
func New(tx *pktqueue.Queue, enc commandEncoder, xferQ *xfer.Queue, reset func(), version Version) *Controller {
	return &Controller{tx: tx, enc: enc, xferQ: xferQ, reset: reset, version: version}
}

// SetOnUpdateRequested registers the callback invoked when a
// CmdSlaveUpdate packet arrives, so the orchestrator can transition to
// update mode with the carried parameters.
func (c *Controller) SetOnUpdateRequested(fn func(flags uint8, fileSize uint16, subchunkSize, chunks, delayMs uint8)) {
	c.onUpdateRequested = fn
}

// SetErrorMode switches between legacy one-byte and framed global error
// reporting (spec §6 "Error mode").
func (c *Controller) SetErrorMode(m ErrorMode) { c.errorMode = m }

// SetSlaveAddr sets the address used for commands that omit one.
func (c *Controller) SetSlaveAddr(addr uint8) { c.slaveAddr = addr }

func (c *Controller) respond(cmd byte, payload []byte) {
	c.enc.SetCommand(cmd)
	c.tx.Enqueue(payload)
}

// Dispatch processes one decoded host packet, whose first byte is the
// command. Unknown commands are ignored, per spec §4.H.
func (c *Controller) Dispatch(packet []byte) {
	if len(packet) == 0 {
		return
	}
	cmd := packet[0]
	body := packet[1:]

	switch cmd {
	case CmdAck:
		c.respond(CmdAck, nil)

	case CmdErrorMode:
		if len(body) >= 1 {
			if body[0] == 0 {
				c.errorMode = ErrorModeLegacy
			} else {
				c.errorMode = ErrorModeGlobal
			}
		}
		c.respond(CmdAck, nil)

	case CmdSlaveAddress:
		if len(body) >= 1 {
			c.slaveAddr = body[0]
		}
		c.respond(CmdAck, nil)

	case CmdSlaveRead:
		if len(body) < 1 {
			return
		}
		addr := body[0]
		n := 1
		if len(body) >= 2 {
			n = int(body[1])
		}
		if !c.xferQ.EnqueueRead(addr, n) {
			c.RaiseError(status.QueueFull, status.CallSite{})
			return
		}
		c.respond(CmdAck, nil)

	case CmdSlaveWrite:
		if len(body) < 1 {
			return
		}
		addr := body[0]
		if !c.xferQ.EnqueueWrite(addr, body[1:]) {
			c.RaiseError(status.QueueFull, status.CallSite{})
			return
		}
		c.respond(CmdAck, nil)

	case CmdLegacyVersion:
		payload := make([]byte, 6)
		payload[0] = byte(c.version.Major)
		payload[1] = byte(c.version.Minor)
		binary.BigEndian.PutUint32(payload[2:], c.version.Baud)
		c.respond(CmdLegacyVersion, payload)

	case CmdVersion:
		payload := []byte{
			byte(c.version.Major >> 8), byte(c.version.Major),
			byte(c.version.Minor >> 8), byte(c.version.Minor),
		}
		c.respond(CmdVersion, payload)

	case CmdSlaveAck:
		c.respond(CmdSlaveAck, []byte{c.slaveAddr})

	case CmdSlaveUpdate:
		if len(body) < 6 {
			return
		}
		flags := body[0]
		fileSize := binary.BigEndian.Uint16(body[1:3])
		subchunkSize := body[3]
		chunks := body[4]
		delayMs := body[5]
		if c.onUpdateRequested != nil {
			c.onUpdateRequested(flags, fileSize, subchunkSize, chunks, delayMs)
		}
		c.respond(CmdAck, nil)

	case CmdReset:
		c.respond(CmdAck, nil)
		if c.reset != nil {
			c.reset()
		}

	default:
		// Unknown command: ignored per spec §4.H.
	}
}

// RaiseError enqueues a host-visible error response in the current
// error mode: a bare one-letter legacy command, or a framed global
// error record (spec §6 "Error mode") carrying cs for attribution.
func (c *Controller) RaiseError(s status.Status, cs status.CallSite) {
	if c.errorMode == ErrorModeLegacy {
		switch {
		case s.Has(status.TimedOut):
			c.respond(CmdSlaveTimeout, nil)
		default:
			c.respond(CmdSlaveNak, nil)
		}
		return
	}
	payload := make([]byte, 8)
	payload[0] = 1 // type: error record
	payload[1] = byte(s)
	binary.BigEndian.PutUint32(payload[2:6], uint32(s))
	binary.BigEndian.PutUint16(payload[6:8], cs.Pack())
	c.respond(CmdErrorMode, payload)
}
