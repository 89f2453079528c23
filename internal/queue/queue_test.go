package queue

import (
	"testing"

	"accvpn/internal/packet"
)

func TestBoundedQueue_RejectsAtMaxLen(t *testing.T) {
	q := NewBounded(2)
	if !q.Enqueue(packet.New(packet.TypeData, []byte{1})) {
		t.Fatal("first enqueue should succeed")
	}
	if !q.Enqueue(packet.New(packet.TypeData, []byte{2})) {
		t.Fatal("second enqueue should succeed")
	}
	if q.Enqueue(packet.New(packet.TypeData, []byte{3})) {
		t.Fatal("enqueue at max_qlen should be rejected")
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
}

func TestUnboundedQueue_NeverDrops(t *testing.T) {
	q := NewUnbounded()
	for i := 0; i < 1000; i++ {
		if !q.Enqueue(packet.New(packet.TypeData, []byte{byte(i)})) {
			t.Fatalf("ingress enqueue #%d rejected", i)
		}
	}
	if q.Len() != 1000 {
		t.Fatalf("Len() = %d, want 1000", q.Len())
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewUnbounded()
	q.Enqueue(packet.New(packet.TypeData, []byte{1}))
	q.Enqueue(packet.New(packet.TypeData, []byte{2}))
	q.Enqueue(packet.New(packet.TypeData, []byte{3}))

	for _, want := range []byte{1, 2, 3} {
		got := q.Dequeue()
		if got == nil || got.Data[0] != want {
			t.Fatalf("Dequeue() = %v, want payload %d", got, want)
		}
	}
	if q.Dequeue() != nil {
		t.Fatal("Dequeue() on empty queue should return nil")
	}
}

func TestQueue_PeekLen(t *testing.T) {
	q := NewUnbounded()
	if q.PeekLen() != 0 {
		t.Fatalf("PeekLen() on empty queue = %d, want 0", q.PeekLen())
	}
	q.Enqueue(packet.New(packet.TypeData, make([]byte, 42)))
	if q.PeekLen() != 42 {
		t.Fatalf("PeekLen() = %d, want 42", q.PeekLen())
	}
}
