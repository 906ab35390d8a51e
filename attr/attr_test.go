package attr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParseRoundTrip(t *testing.T) {
	var b Build
	b.PutUint16(1, 0x1234)
	b.PutUint32(2, 0xdeadbeef)
	b.Put(3, []byte("odd")) // length 3, forces 4-byte alignment padding

	var nested Build
	nested.PutUint16(1, 7)
	b.PutNested(4, &nested)

	stream := b.Bytes()

	var got []Attr
	err := Parse(stream, func(a Attr) error {
		got = append(got, a)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, uint16(1), got[0].Type)
	v, err := got[0].Uint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)

	v32, err := got[1].Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v32)

	assert.Equal(t, []byte("odd"), got[2].Payload)
}

func TestParseAllMatchesParse(t *testing.T) {
	var b Build
	b.PutUint16(1, 1)
	b.PutUint16(2, 2)
	stream := b.Bytes()

	all, err := ParseAll(stream)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestParseTruncatedStreamErrors(t *testing.T) {
	var b Build
	b.PutUint32(1, 0x11223344)
	stream := b.Bytes()

	err := Parse(stream[:len(stream)-2], func(Attr) error { return nil })
	assert.Error(t, err)
}
