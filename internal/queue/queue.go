// Package queue implements the per-session ingress and egress FIFOs of
// packet.Packet described in spec §4.2. Egress enforces a maximum length;
// ingress never drops.
package queue

import "accvpn/internal/packet"

// DefaultMaxLen is the default bound on egress queue length (spec §3).
const DefaultMaxLen = 10

// Queue is a singly-linked FIFO of *packet.Packet with an optional bound.
// A zero-value Queue (maxLen 0) is unbounded; use NewBounded for egress.
type Queue struct {
	head, tail *node
	len        int
	maxLen     int
}

type node struct {
	pkt  *packet.Packet
	next *node
}

// NewUnbounded returns a Queue suitable for ingress: Enqueue never fails.
func NewUnbounded() *Queue {
	return &Queue{}
}

// NewBounded returns a Queue suitable for egress: Enqueue fails once Len
// reaches maxLen.
func NewBounded(maxLen int) *Queue {
	return &Queue{maxLen: maxLen}
}

// Len reports the current number of queued packets.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return q.len
}

// Full reports whether the queue is at its bound. An unbounded queue is
// never full.
func (q *Queue) Full() bool {
	return q.maxLen > 0 && q.len >= q.maxLen
}

// Enqueue appends pkt to the tail. It returns false without mutating the
// queue when the queue is bounded and already full.
func (q *Queue) Enqueue(pkt *packet.Packet) bool {
	if q.Full() {
		return false
	}
	n := &node{pkt: pkt}
	if q.tail == nil {
		q.head, q.tail = n, n
	} else {
		q.tail.next = n
		q.tail = n
	}
	q.len++
	return true
}

// Dequeue pops the head packet, or returns nil if the queue is empty.
func (q *Queue) Dequeue() *packet.Packet {
	if q.head == nil {
		return nil
	}
	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.len--
	return n.pkt
}

// PeekLen reports the length of the head packet's payload, or 0 if empty.
func (q *Queue) PeekLen() int {
	if q.head == nil {
		return 0
	}
	return q.head.pkt.Len()
}
