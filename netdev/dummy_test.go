package netdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDummyReceiveReturnsAgainWhenEmpty(t *testing.T) {
	d := NewDummy("dummy0")
	buf := make([]byte, 64)
	_, err := d.Receive(buf)
	assert.ErrorIs(t, err, ErrAgain)
}

func TestDummyInjectThenReceive(t *testing.T) {
	d := NewDummy("dummy0")
	d.Inject([]byte("hello"))

	buf := make([]byte, 64)
	n, err := d.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestDummyDispatchBatchesQueuedFrames(t *testing.T) {
	d := NewDummy("dummy0")
	for i := 0; i < 5; i++ {
		d.Inject([]byte{byte(i)})
	}

	var got [][]byte
	n, err := d.Dispatch(3, func(frame []byte) {
		got = append(got, append([]byte(nil), frame...))
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, got, 3)
}

func TestDummySendAccumulatesInSent(t *testing.T) {
	d := NewDummy("dummy0")
	require.NoError(t, d.Send([]byte("out")))
	require.Len(t, d.Sent, 1)
	assert.Equal(t, "out", string(d.Sent[0]))
}

func TestDummyCloseRejectsFurtherSend(t *testing.T) {
	d := NewDummy("dummy0")
	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Send([]byte("x")), ErrClosed)
}

func TestDummyFdIsPollable(t *testing.T) {
	d := NewDummy("dummy0")
	assert.GreaterOrEqual(t, d.Fd(), 0)
}
