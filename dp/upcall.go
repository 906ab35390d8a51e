package dp

import (
	"github.com/packetdp/dp/dpconf"
	"github.com/packetdp/dp/flowkey"
)

// UpcallKind distinguishes why a packet was handed to userspace.
type UpcallKind int

const (
	UpcallMiss UpcallKind = iota
	UpcallUserspace
)

// Upcall is one queued record. Ownership transfers to whoever dequeues it.
type Upcall struct {
	Kind     UpcallKind
	Key      flowkey.Key
	UserData []byte
	Packet   []byte
}

// ring is one bounded, power-of-two-capacity circular buffer of Upcalls.
// Like FlowTable, it does no locking of its own: the Datapath's flowMu,
// shared with the flow table, serializes access to it in threaded mode.
type ring struct {
	buf        []Upcall
	head, tail uint32 // head - tail <= len(buf); unsigned wraparound is fine since both only increase
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Upcall, capacity)}
}

func (r *ring) len() int { return int(r.head - r.tail) }

func (r *ring) full() bool { return r.len() >= len(r.buf) }

func (r *ring) push(u Upcall) bool {
	if r.full() {
		return false
	}
	r.buf[r.head%uint32(len(r.buf))] = u
	r.head++
	return true
}

func (r *ring) pop() (Upcall, bool) {
	if r.len() == 0 {
		return Upcall{}, false
	}
	u := r.buf[r.tail%uint32(len(r.buf))]
	r.tail++
	return u, true
}

// UpcallQueues is the pair of rings (miss, userspace) a datapath owns.
type UpcallQueues struct {
	rings [dpconf.NQueues]*ring
}

func newUpcallQueues(capacity int) *UpcallQueues {
	q := &UpcallQueues{}
	for i := range q.rings {
		q.rings[i] = newRing(capacity)
	}
	return q
}

func ringIndex(k UpcallKind) int {
	switch k {
	case UpcallMiss:
		return 0
	case UpcallUserspace:
		return 1
	default:
		return 0
	}
}

// Enqueue adds u to its ring. It reports false if the ring was full; the
// caller increments the lost counter in that case.
func (q *UpcallQueues) Enqueue(u Upcall) bool {
	return q.rings[ringIndex(u.Kind)].push(u)
}

// Dequeue returns the oldest record from any non-empty ring, trying ring 0
// (miss) before ring 1 (userspace); no further fairness is guaranteed.
func (q *UpcallQueues) Dequeue() (Upcall, bool) {
	for _, r := range q.rings {
		if u, ok := r.pop(); ok {
			return u, true
		}
	}
	return Upcall{}, false
}

// Empty reports whether every ring is empty.
func (q *UpcallQueues) Empty() bool {
	for _, r := range q.rings {
		if r.len() > 0 {
			return false
		}
	}
	return true
}

// Purge drops every queued record without returning them, for recv-purge.
func (q *UpcallQueues) Purge() {
	for _, r := range q.rings {
		r.head, r.tail = 0, 0
	}
}
