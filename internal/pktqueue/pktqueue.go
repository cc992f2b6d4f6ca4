// Package pktqueue implements the packet queue of spec §4.B: a
// fixed-capacity ring of variable-length elements, each backed by its
// own fixed-size slot of a shared byte arena, with an optional
// registered encode callback applied at enqueue time and support for
// incremental (byte-at-a-time) element construction from the RX state
// machine.
//
// The encode callback is held by value/closure rather than as a
// back-pointer from the queue into the codec, per the cyclic-ownership
// design note: the queue owns element storage, the callback borrows
// source and destination only for the duration of one call.
package pktqueue

// EncodeFunc transforms src into dst and returns the number of bytes
// written, or ok=false if the encoded form would not fit in dst.
type EncodeFunc func(dst []byte, src []byte) (n int, ok bool)

// Queue is a ring of maxElements slots, each slotCap bytes, carved out
// of one contiguous backing array.
type Queue struct {
	buf         []byte
	slotCap     int
	maxElements int

	lens     []int // finalized length of slot i, valid for the first `count` logical elements
	building bool  // true while the tail slot is an open incremental element
	buildLen int   // bytes written so far into the open tail slot

	head  int
	tail  int
	count int

	encode EncodeFunc
}

// New returns a queue of maxElements slots of slotCap bytes each.
func New(maxElements, slotCap int) *Queue {
	if maxElements <= 0 {
		maxElements = 1
	}
	if slotCap <= 0 {
		slotCap = 1
	}
	return &Queue{
		buf:         make([]byte, maxElements*slotCap),
		slotCap:     slotCap,
		maxElements: maxElements,
		lens:        make([]int, maxElements),
	}
}

// RegisterEncode attaches (or clears, with nil) the encode callback.
func (q *Queue) RegisterEncode(cb EncodeFunc) { q.encode = cb }

func (q *Queue) slot(i int) []byte {
	return q.buf[i*q.slotCap : (i+1)*q.slotCap]
}

// IsFull reports whether the element ring has no free slot for a new
// (non-incremental) element.
func (q *Queue) IsFull() bool { return q.count == q.maxElements }

// IsEmpty reports whether the element ring has no finalized elements.
func (q *Queue) IsEmpty() bool { return q.count == 0 }

// MaxElements returns the element-ring capacity.
func (q *Queue) MaxElements() int { return q.maxElements }

// SlotCap returns the per-element byte capacity.
func (q *Queue) SlotCap() int { return q.slotCap }

// Enqueue writes src (possibly through the registered encode callback)
// into a fresh tail slot and finalizes it as one complete element.
// Returns false if the ring is full, an incremental element is
// currently open, or encoding/copying would overflow the slot.
func (q *Queue) Enqueue(src []byte) bool {
	if q.building || q.IsFull() {
		return false
	}
	idx := q.tail
	dst := q.slot(idx)
	var n int
	if q.encode != nil {
		var ok bool
		n, ok = q.encode(dst, src)
		if !ok {
			return false
		}
	} else {
		if len(src) > len(dst) {
			return false
		}
		n = copy(dst, src)
	}
	q.lens[idx] = n
	q.tail = (q.tail + 1) % q.maxElements
	q.count++
	return true
}

// EnqueueByteIncremental appends one byte to the element currently being
// built at the tail, opening a new tail element first if none is open.
// Returns false (appending nothing) if the ring has no free slot to
// open, or the open element's slot is already full.
func (q *Queue) EnqueueByteIncremental(b byte) bool {
	if !q.building {
		if q.IsFull() {
			return false
		}
		q.building = true
		q.buildLen = 0
	}
	if q.buildLen >= q.slotCap {
		return false
	}
	q.slot(q.tail)[q.buildLen] = b
	q.buildLen++
	return true
}

// FinalizeIncremental closes the element being incrementally built at
// the tail, making it immutable and visible to Dequeue. Returns false
// if no element is currently being built.
func (q *Queue) FinalizeIncremental() bool {
	if !q.building {
		return false
	}
	q.lens[q.tail] = q.buildLen
	q.tail = (q.tail + 1) % q.maxElements
	q.count++
	q.building = false
	q.buildLen = 0
	return true
}

// AbortIncremental discards the element currently being built at the
// tail without finalizing it, e.g. on an inter-byte timeout that resets
// the RX state machine.
func (q *Queue) AbortIncremental() {
	q.building = false
	q.buildLen = 0
}

// IsBuilding reports whether an incremental element is currently open.
func (q *Queue) IsBuilding() bool { return q.building }

// BuildLen reports how many bytes are in the currently open incremental
// element (0 if none is open).
func (q *Queue) BuildLen() int { return q.buildLen }

// Dequeue returns a borrowed, read-only view of the head element and its
// length, or ok=false if the queue is empty. The view is only valid
// until that slot is reused by a future Enqueue/FinalizeIncremental.
func (q *Queue) Dequeue() (view []byte, ok bool) {
	if q.IsEmpty() {
		return nil, false
	}
	idx := q.head
	n := q.lens[idx]
	view = q.slot(idx)[:n]
	q.head = (q.head + 1) % q.maxElements
	q.count--
	return view, true
}

// Remaining reports the number of finalized elements available to Dequeue.
func (q *Queue) Remaining() int { return q.count }
