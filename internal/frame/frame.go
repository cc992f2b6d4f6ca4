// Package frame implements the byte-stuffed, sentinel-framed codec and
// receive state machine of spec §4.E: one physical RX state machine
// that the bridge orchestrator switches between two framing dialects
// (translate vs. firmware update) at mode-activation time, plus the
// matching outbound encoder.
//
// The decoder is fed one byte at a time (as an ISR would feed it) and
// appends into an incrementally-built element of a pktqueue.Queue; the
// encoder is registered as that same queue type's encode callback on
// the *outbound* queue, so a single call to pktqueue.Enqueue produces a
// fully framed wire packet.
package frame

import "github.com/chenthusiasm/i2c-bridge/internal/pktqueue"

// Sentinel bytes (spec §4.E, §6).
const (
	SOF    byte = 0xAA
	EOF    byte = 0xAA
	Escape byte = 0x55
)

// Dialect selects which framing the decoder applies.
type Dialect int

const (
	DialectTranslate Dialect = iota
	DialectUpdate
)

// OverflowFunc is invoked with a dropped byte when an element would
// overflow its slot; the state machine keeps consuming the frame.
type OverflowFunc func(b byte)

// OutOfFrameFunc is invoked for bytes observed while not in a frame.
type OutOfFrameFunc func(b byte)

// translate-dialect decode states.
type tState int

const (
	tOutOfFrame tState = iota
	tInFrame
	tMaybeCmdMarker // saw a single 0x55 as the very first byte of the frame
	tAwaitCmd       // confirmed 0x55 0x55 marker; next raw byte is the command
	tEscape
)

// update-dialect decode states.
type uState int

const (
	uWaitSOF uState = iota
	uChunkSizeHi
	uChunkSizeLo
	uPayload
)

// UpdateParams seeds the update-dialect counters; set by the update mode
// controller after decoding a file-info command (spec §4.I).
type UpdateParams struct {
	TotalBytes   int
	SubchunkSize int
}

// Decoder is the single physical RX state machine, dialect-switched.
type Decoder struct {
	dialect Dialect

	clock          func() int64
	resetTimeoutMs int64
	lastByteMs     int64
	haveLastByte   bool

	rx         *pktqueue.Queue
	overflow   OverflowFunc
	outOfFrame OutOfFrameFunc

	// translate dialect
	tstate tState

	// update dialect
	ustate         uState
	chunkHi        byte
	params         UpdateParams
	fileBytesSeen  int
	chunkTotalSize int
	chunkBytesSeen int
	subchunkBytes  int
	fileComplete   bool
	onFileComplete func()
	onSubchunk     func()
}

// NewDecoder returns a translate-dialect decoder that appends finalized
// packets into rx. clock supplies the millisecond tick for the
// inter-byte timeout.
func NewDecoder(clock func() int64, rx *pktqueue.Queue, resetTimeoutMs int64) *Decoder {
	return &Decoder{clock: clock, rx: rx, resetTimeoutMs: resetTimeoutMs}
}

// SetDialect switches framing dialect and resets in-flight decode state.
// Called by the orchestrator at mode activation (spec §4.J).
func (d *Decoder) SetDialect(dialect Dialect) {
	d.dialect = dialect
	d.tstate = tOutOfFrame
	d.ustate = uWaitSOF
	d.rx.AbortIncremental()
	d.fileComplete = false
}

// SetOverflowFunc registers the overflow callback.
func (d *Decoder) SetOverflowFunc(f OverflowFunc) { d.overflow = f }

// SetOutOfFrameFunc registers the out-of-frame byte callback.
func (d *Decoder) SetOutOfFrameFunc(f OutOfFrameFunc) { d.outOfFrame = f }

// ConfigureUpdate seeds the update-dialect file counters from a decoded
// file-info command.
func (d *Decoder) ConfigureUpdate(p UpdateParams) {
	d.params = p
	d.fileBytesSeen = 0
	d.chunkTotalSize = 0
	d.chunkBytesSeen = 0
	d.subchunkBytes = 0
	d.fileComplete = false
	d.ustate = uWaitSOF
}

// SetOnFileComplete registers a callback fired exactly once when
// file.bytesSeen reaches file.totalBytes.
func (d *Decoder) SetOnFileComplete(f func()) { d.onFileComplete = f }

// SetOnSubchunk registers a callback fired whenever a sub-chunk element
// has just been finalized, so the update controller can drive progress
// reporting without polling.
func (d *Decoder) SetOnSubchunk(f func()) { d.onSubchunk = f }

// FileBytesSeen reports update-dialect progress.
func (d *Decoder) FileBytesSeen() int { return d.fileBytesSeen }

// FeedByte advances the state machine by one byte. It is cheap and
// non-blocking. Neither the decoder nor its rx queue does any locking
// of its own; the orchestrator calls FeedByte from Process, on the same
// goroutine that dequeues the finished packets.
func (d *Decoder) FeedByte(b byte) {
	now := d.clock()
	if d.haveLastByte && d.inFrame() && now-d.lastByteMs > d.resetTimeoutMs {
		d.resetToOutOfFrame()
	}
	d.lastByteMs = now
	d.haveLastByte = true

	switch d.dialect {
	case DialectUpdate:
		d.feedUpdate(b)
	default:
		d.feedTranslate(b)
	}
}

func (d *Decoder) inFrame() bool {
	switch d.dialect {
	case DialectUpdate:
		return d.ustate != uWaitSOF
	default:
		return d.tstate != tOutOfFrame
	}
}

func (d *Decoder) resetToOutOfFrame() {
	d.tstate = tOutOfFrame
	d.ustate = uWaitSOF
	d.rx.AbortIncremental()
}

func (d *Decoder) appendOrOverflow(b byte) {
	if !d.rx.EnqueueByteIncremental(b) {
		if d.overflow != nil {
			d.overflow(b)
		}
	}
}

// feedTranslate implements the translate-dialect decode table of
// spec §4.E, extended with the command-marker resolution of design
// note (c): a 0x55 0x55 pair is only ever a command marker when it is
// the first content of the frame; everywhere else (and when a lone
// leading 0x55 is not followed by a second 0x55) it decodes as an
// ordinary escape-then-literal.
func (d *Decoder) feedTranslate(b byte) {
	switch d.tstate {
	case tOutOfFrame:
		if b == SOF {
			d.tstate = tInFrame
		} else if d.outOfFrame != nil {
			d.outOfFrame(b)
		}

	case tInFrame:
		switch {
		case b == Escape:
			if d.rx.IsBuilding() {
				d.tstate = tEscape
			} else {
				d.tstate = tMaybeCmdMarker
			}
		case b == EOF:
			d.rx.FinalizeIncremental()
			d.tstate = tOutOfFrame
		default:
			d.appendOrOverflow(b)
		}

	case tMaybeCmdMarker:
		if b == Escape {
			d.tstate = tAwaitCmd
			return
		}
		// Ordinary escape: the byte we deferred judgment on was a plain
		// escape flag; b is the literal it was guarding.
		d.appendOrOverflow(b)
		d.tstate = tInFrame

	case tAwaitCmd:
		// Raw command byte, never stuffed (command identifiers avoid
		// 0xAA/0x55 by construction — spec §4.E "Prohibited literals").
		d.appendOrOverflow(b)
		d.tstate = tInFrame

	case tEscape:
		// Mid-frame escape: b is a literal payload byte.
		d.appendOrOverflow(b)
		d.tstate = tInFrame
	}
}

// feedUpdate implements the update-dialect decode rules of spec §4.E:
// SOF, then a big-endian 16-bit chunk total size, then raw payload
// bytes counted against three concurrent counters.
func (d *Decoder) feedUpdate(b byte) {
	switch d.ustate {
	case uWaitSOF:
		if b == SOF {
			d.ustate = uChunkSizeHi
		}

	case uChunkSizeHi:
		d.chunkHi = b
		d.ustate = uChunkSizeLo

	case uChunkSizeLo:
		d.chunkTotalSize = int(d.chunkHi)<<8 | int(b)
		d.chunkBytesSeen = 0
		if d.chunkTotalSize == 0 {
			// Empty chunk: nothing to accumulate, so finalize now
			// rather than consuming the next chunk's SOF as payload.
			d.rx.FinalizeIncremental()
			if d.onSubchunk != nil {
				d.onSubchunk()
			}
			d.ustate = uWaitSOF
			return
		}
		d.ustate = uPayload

	case uPayload:
		d.appendOrOverflow(b)
		d.subchunkBytes++
		d.chunkBytesSeen++
		d.fileBytesSeen++

		finalizeSubchunk := d.params.SubchunkSize > 0 && d.subchunkBytes >= d.params.SubchunkSize
		finalizeChunkEnd := d.chunkBytesSeen >= d.chunkTotalSize
		if finalizeSubchunk || finalizeChunkEnd {
			d.rx.FinalizeIncremental()
			d.subchunkBytes = 0
			if d.onSubchunk != nil {
				d.onSubchunk()
			}
		}
		if finalizeChunkEnd {
			d.ustate = uWaitSOF
		}
		if d.params.TotalBytes > 0 && d.fileBytesSeen >= d.params.TotalBytes && !d.fileComplete {
			if !finalizeSubchunk && !finalizeChunkEnd {
				d.rx.FinalizeIncremental()
				d.subchunkBytes = 0
				if d.onSubchunk != nil {
					d.onSubchunk()
				}
			}
			d.fileComplete = true
			d.ustate = uWaitSOF
			if d.onFileComplete != nil {
				d.onFileComplete()
			}
		}
	}
}

// Encoder produces the outbound wire framing of spec §4.E and is
// registered as a pktqueue.EncodeFunc on the outbound queue.
type Encoder struct {
	pendingCmd     byte
	havePendingCmd bool
}

// SetCommand arms a one-shot command marker for the next Encode call.
func (e *Encoder) SetCommand(cmd byte) {
	e.pendingCmd = cmd
	e.havePendingCmd = true
}

// Encode writes SOF, an optional command marker, stuffed payload bytes,
// and EOF into dst. It satisfies pktqueue.EncodeFunc. The pending
// command flag is always consumed, success or failure.
func (e *Encoder) Encode(dst, src []byte) (int, bool) {
	cmd, haveCmd := e.pendingCmd, e.havePendingCmd
	e.havePendingCmd = false

	if haveCmd && (cmd == SOF || cmd == Escape) {
		return 0, false
	}

	n := 0
	put := func(b byte) bool {
		if n >= len(dst) {
			return false
		}
		dst[n] = b
		n++
		return true
	}

	if !put(SOF) {
		return 0, false
	}
	if haveCmd {
		if !put(Escape) || !put(Escape) || !put(cmd) {
			return 0, false
		}
	}
	for _, b := range src {
		if b == SOF || b == Escape {
			if !put(Escape) {
				return 0, false
			}
		}
		if !put(b) {
			return 0, false
		}
	}
	if !put(EOF) {
		return 0, false
	}
	return n, true
}
