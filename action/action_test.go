package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetdp/dp/dpconf"
	"github.com/packetdp/dp/dperr"
	"github.com/packetdp/dp/flowkey"
)

func baseEthernetFrame() []byte {
	frame := make([]byte, 14+20+4)
	copy(frame[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(frame[6:12], []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
	frame[12] = 0x08
	frame[13] = 0x00
	frame[14] = 0x45
	frame[14+9] = 6
	return frame
}

func TestOutputActionInvokesContext(t *testing.T) {
	var b Builder
	b.Output(5)
	actions := b.Bytes()

	var gotPort uint32
	var gotFrame []byte
	frame := baseEthernetFrame()

	Execute(actions, frame, Context{
		Output: func(port uint32, f []byte) {
			gotPort = port
			gotFrame = f
		},
	})
	assert.Equal(t, uint32(5), gotPort)
	assert.Equal(t, frame, gotFrame)
}

func TestUserspaceActionCarriesKeyAndUserdata(t *testing.T) {
	var b Builder
	_, err := b.Userspace([]byte("hello"))
	require.NoError(t, err)
	actions := b.Bytes()

	wantKey := flowkey.Key{InPort: 7}
	var gotKey flowkey.Key
	var gotData []byte

	Execute(actions, baseEthernetFrame(), Context{
		Key: wantKey,
		Userspace: func(k flowkey.Key, userdata, frame []byte) {
			gotKey = k
			gotData = userdata
		},
	})
	assert.Equal(t, wantKey, gotKey)
	assert.Equal(t, []byte("hello"), gotData)
}

func TestPushPopVLANRoundTrip(t *testing.T) {
	var b Builder
	b.PushVLAN(0x0005).PopVLAN()
	actions := b.Bytes()

	frame := baseEthernetFrame()
	out := Execute(actions, frame, Context{})
	assert.Equal(t, len(frame), len(out))
}

func TestPushVLANAddsFourBytes(t *testing.T) {
	var b Builder
	b.PushVLAN(0x0005)
	frame := baseEthernetFrame()
	out := Execute(b.Bytes(), frame, Context{})
	assert.Equal(t, len(frame)+4, len(out))
	assert.Equal(t, uint16(0x8100), uint16(out[12])<<8|uint16(out[13]))
}

func TestSetEthernetOverwritesAddresses(t *testing.T) {
	var b Builder
	dst := [6]byte{1, 1, 1, 1, 1, 1}
	src := [6]byte{2, 2, 2, 2, 2, 2}
	b.SetEthernetAddrs(dst, src)

	frame := baseEthernetFrame()
	out := Execute(b.Bytes(), frame, Context{})
	assert.Equal(t, dst[:], out[0:6])
	assert.Equal(t, src[:], out[6:12])
}

func TestSetTCPOverwritesPorts(t *testing.T) {
	frame := make([]byte, 14+20+4)
	copy(frame[12:14], []byte{0x08, 0x00})
	frame[14] = 0x45
	frame[14+9] = 6

	var b Builder
	b.SetTCP(1234, 80)
	out := Execute(b.Bytes(), frame, Context{})
	l4 := out[34:38]
	assert.Equal(t, uint16(1234), uint16(l4[0])<<8|uint16(l4[1]))
	assert.Equal(t, uint16(80), uint16(l4[2])<<8|uint16(l4[3]))
}

func TestUnknownActionTypePanics(t *testing.T) {
	assert.Panics(t, func() {
		Execute([]byte{0, 99, 0, 4}, baseEthernetFrame(), Context{})
	})
}

func TestUserspaceRejectsOversizedUserdata(t *testing.T) {
	var b Builder
	_, err := b.Userspace(make([]byte, dpconf.MaxUserData+1))
	assert.ErrorIs(t, err, dperr.Invalid)
}

func TestSampleAlwaysRunsAtMaxProbability(t *testing.T) {
	var nested Builder
	ran := false
	nested.Userspace(nil)

	var b Builder
	b.Sample(^uint32(0), &nested)

	Execute(b.Bytes(), baseEthernetFrame(), Context{
		Userspace: func(flowkey.Key, []byte, []byte) { ran = true },
	})
	require.True(t, ran)
}
