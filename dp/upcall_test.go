package dp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpcallQueuesPrioritizesMissRing(t *testing.T) {
	q := newUpcallQueues(4)
	q.Enqueue(Upcall{Kind: UpcallUserspace, UserData: []byte("u")})
	q.Enqueue(Upcall{Kind: UpcallMiss, UserData: []byte("m")})

	u, ok := q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, UpcallMiss, u.Kind)

	u, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, UpcallUserspace, u.Kind)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestUpcallQueuesEnqueueFailsWhenRingFull(t *testing.T) {
	q := newUpcallQueues(2)
	assert.True(t, q.Enqueue(Upcall{Kind: UpcallMiss}))
	assert.True(t, q.Enqueue(Upcall{Kind: UpcallMiss}))
	assert.False(t, q.Enqueue(Upcall{Kind: UpcallMiss}))
}

func TestUpcallQueuesPurgeEmptiesBothRings(t *testing.T) {
	q := newUpcallQueues(2)
	q.Enqueue(Upcall{Kind: UpcallMiss})
	q.Enqueue(Upcall{Kind: UpcallUserspace})
	assert.False(t, q.Empty())

	q.Purge()
	assert.True(t, q.Empty())
}
