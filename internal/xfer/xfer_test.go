package xfer

import "testing"

func TestWriteRoundTrip(t *testing.T) {
	q := New(4, 8)
	if !q.EnqueueWrite(0x42, []byte{0x01, 0x02, 0x03}) {
		t.Fatal("enqueue write failed")
	}
	got, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected a transfer")
	}
	if got.Addr != 0x42 || got.Dir != Write {
		t.Fatalf("got addr=%x dir=%v", got.Addr, got.Dir)
	}
	if string(got.Data) != "\x01\x02\x03" {
		t.Fatalf("data mismatch: %v", got.Data)
	}
}

func TestReadRoundTrip(t *testing.T) {
	q := New(4, 8)
	if !q.EnqueueRead(0x10, 5) {
		t.Fatal("enqueue read failed")
	}
	got, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected a transfer")
	}
	if got.Addr != 0x10 || got.Dir != Read || got.ReadLen != 5 {
		t.Fatalf("got %+v", got)
	}
}

func TestFIFOOrdering(t *testing.T) {
	q := New(4, 8)
	q.EnqueueWrite(0x01, []byte{0xAA})
	q.EnqueueRead(0x02, 3)
	q.EnqueueWrite(0x03, []byte{0xBB})

	first, _ := q.Dequeue()
	second, _ := q.Dequeue()
	third, _ := q.Dequeue()
	if first.Addr != 0x01 || second.Addr != 0x02 || third.Addr != 0x03 {
		t.Fatalf("FIFO order violated: %+v %+v %+v", first, second, third)
	}
}

func TestQueueFullRejectsEnqueue(t *testing.T) {
	q := New(1, 8)
	if !q.EnqueueWrite(0x01, []byte{0x01}) {
		t.Fatal("first enqueue should succeed")
	}
	if q.EnqueueWrite(0x02, []byte{0x02}) {
		t.Fatal("second enqueue should fail: queue is full")
	}
}

func TestDequeueEmptyFails(t *testing.T) {
	q := New(2, 8)
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue from empty queue should fail")
	}
}
