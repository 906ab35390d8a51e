package flowkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetdp/dp/dperr"
)

func ethernetIPv4TCP(t *testing.T) []byte {
	t.Helper()
	frame := make([]byte, 14+20+20)
	copy(frame[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(frame[6:12], []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
	frame[12] = 0x08
	frame[13] = 0x00 // IPv4

	ip := frame[14:34]
	ip[0] = 0x45 // version 4, IHL 5
	ip[9] = 6    // TCP
	copy(ip[12:16], []byte{10, 0, 0, 1})
	copy(ip[16:20], []byte{10, 0, 0, 2})

	tcp := frame[34:54]
	tcp[0], tcp[1] = 0x1f, 0x90 // src port 8080
	tcp[2], tcp[3] = 0x00, 0x50 // dst port 80
	tcp[13] = 0x02              // SYN

	return frame
}

func TestExtractIPv4TCP(t *testing.T) {
	frame := ethernetIPv4TCP(t)
	k, err := Extract(frame, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), k.InPort)
	assert.Equal(t, uint16(0x0800), k.EthType)
	assert.Equal(t, uint8(6), k.IPProto)
	assert.Equal(t, uint16(8080), k.TCPSrc)
	assert.Equal(t, uint16(80), k.TCPDst)
}

func TestExtractRejectsShortFrame(t *testing.T) {
	_, err := Extract([]byte{1, 2, 3}, 1)
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame := ethernetIPv4TCP(t)
	k, err := Extract(frame, 3)
	require.NoError(t, err)

	stream := Encode(k)
	decoded, err := Decode(stream)
	require.NoError(t, err)
	assert.Equal(t, k, decoded)
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort(0))
	assert.NoError(t, ValidatePort(PortLocal))
	assert.NoError(t, ValidatePort(PortNone))
	assert.ErrorIs(t, ValidatePort(PortMax), dperr.Invalid)
}

func TestHashStableAcrossEqualKeys(t *testing.T) {
	frame := ethernetIPv4TCP(t)
	k1, err := Extract(frame, 1)
	require.NoError(t, err)
	k2, err := Extract(frame, 1)
	require.NoError(t, err)
	assert.Equal(t, k1.Hash(), k2.Hash())
}
