// Flow table: the exact-match classifier. It is a plain,
// unsynchronized hash table; concurrency is the Datapath's job (its
// flowMu, held across every call here in both modes), the
// way hkwi/gopenflow's flowTable relies on its caller's *sync.RWMutex
// rather than locking itself.
package dp

import (
	"time"

	"github.com/packetdp/dp/dperr"
	"github.com/packetdp/dp/flowkey"
)

// FlowStats is a snapshot of one flow entry's counters.
type FlowStats struct {
	LastUsed    time.Time
	PacketCount uint64
	ByteCount   uint64
	TCPFlags    uint8
}

// Entry is one row of the flow table. Its stats fields are updated on the
// fast path (see Touch) without taking any additional lock beyond the
// Datapath's flowMu the caller already holds; plain fields, not atomics,
// are correct here precisely because that lock already serializes every
// access in threaded mode, and cooperative mode has no concurrency at all.
type Entry struct {
	Key     flowkey.Key
	Actions []byte

	lastUsed    time.Time
	packetCount uint64
	byteCount   uint64
	tcpFlags    uint8
}

// Touch applies the per-entry update a hit produces: last-used := now,
// packets++, bytes += len, flags |= pkt flags.
func (e *Entry) Touch(now time.Time, length int, tcpFlags uint8) {
	e.lastUsed = now
	e.packetCount++
	e.byteCount += uint64(length)
	e.tcpFlags |= tcpFlags
}

// Stats returns a snapshot of e's counters.
func (e *Entry) Stats() FlowStats {
	return FlowStats{
		LastUsed:    e.lastUsed,
		PacketCount: e.packetCount,
		ByteCount:   e.byteCount,
		TCPFlags:    e.tcpFlags,
	}
}

// PutFlags controls Modify's side effects.
type PutFlags uint8

const (
	// ResetStats zeros the entry's counters as part of a Modify.
	ResetStats PutFlags = 1 << iota
)

// Cursor addresses a position in the table for Dump, as a (bucket,
// offset) pair.
type Cursor struct {
	Bucket int
	Offset int
}

// FlowTable is a fixed-bucket-count hash table keyed by flowkey.Key.
type FlowTable struct {
	buckets  [][]*Entry
	count    int
	capacity int
}

// numBuckets is fixed rather than resized, so bucket indexing never
// changes under a dump cursor. At the default capacity of dpconf.MaxFlows
// (65,536) entries, chains average 16 entries per bucket.
const numBuckets = 4096

// NewFlowTable creates an empty table holding up to capacity entries.
func NewFlowTable(capacity int) *FlowTable {
	return &FlowTable{
		buckets:  make([][]*Entry, numBuckets),
		capacity: capacity,
	}
}

func bucketIndex(k flowkey.Key) int {
	return int(k.Hash() % uint64(numBuckets))
}

// Lookup performs the exact-match classification.
func (t *FlowTable) Lookup(k flowkey.Key) (*Entry, bool) {
	b := t.buckets[bucketIndex(k)]
	for _, e := range b {
		if e.Key == k {
			return e, true
		}
	}
	return nil, false
}

// Insert adds a new entry. actions is copied: a flow entry exclusively
// owns its action blob, so mutating the caller's slice afterward must not
// affect the stored entry.
func (t *FlowTable) Insert(k flowkey.Key, actions []byte) (*Entry, error) {
	if _, ok := t.Lookup(k); ok {
		return nil, dperr.Exists
	}
	if t.count >= t.capacity {
		return nil, dperr.TooBig
	}
	e := &Entry{Key: k, Actions: append([]byte(nil), actions...)}
	idx := bucketIndex(k)
	t.buckets[idx] = append(t.buckets[idx], e)
	t.count++
	return e, nil
}

// Modify replaces an existing entry's action blob, optionally resetting
// its stats, and returns the stats as they stood before the call.
func (t *FlowTable) Modify(k flowkey.Key, newActions []byte, flags PutFlags) (FlowStats, error) {
	e, ok := t.Lookup(k)
	if !ok {
		return FlowStats{}, dperr.NotFound
	}
	prev := e.Stats()
	e.Actions = append([]byte(nil), newActions...)
	if flags&ResetStats != 0 {
		e.lastUsed = time.Time{}
		e.packetCount = 0
		e.byteCount = 0
		e.tcpFlags = 0
	}
	return prev, nil
}

// Delete removes an entry, returning its final stats.
func (t *FlowTable) Delete(k flowkey.Key) (FlowStats, error) {
	idx := bucketIndex(k)
	b := t.buckets[idx]
	for i, e := range b {
		if e.Key == k {
			stats := e.Stats()
			t.buckets[idx] = append(b[:i:i], b[i+1:]...)
			t.count--
			return stats, nil
		}
	}
	return FlowStats{}, dperr.NotFound
}

// Dump returns the entry at cursor and the cursor of the entry that
// follows it, or dperr.EndOfData once the table is exhausted. Entries
// inserted or deleted between calls may be seen once, never, or twice
// under concurrent mutation; that looseness is deliberate.
func (t *FlowTable) Dump(cur Cursor) (*Entry, Cursor, error) {
	for b := cur.Bucket; b < len(t.buckets); b++ {
		bucket := t.buckets[b]
		off := 0
		if b == cur.Bucket {
			off = cur.Offset
		}
		if off < len(bucket) {
			next := Cursor{Bucket: b, Offset: off + 1}
			return bucket[off], next, nil
		}
	}
	return nil, cur, dperr.EndOfData
}

// DumpN is a convenience wrapper batching up to n entries starting at
// cursor; it is built entirely on Dump's cursor contract, not a different
// iteration order.
func (t *FlowTable) DumpN(cur Cursor, n int) ([]*Entry, Cursor, error) {
	out := make([]*Entry, 0, n)
	for len(out) < n {
		e, next, err := t.Dump(cur)
		if err != nil {
			return out, cur, err
		}
		out = append(out, e)
		cur = next
	}
	return out, cur, nil
}

// Flush deletes every entry.
func (t *FlowTable) Flush() {
	for i := range t.buckets {
		t.buckets[i] = nil
	}
	t.count = 0
}

// Len returns the current number of entries.
func (t *FlowTable) Len() int { return t.count }
