package dp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetdp/dp/action"
	"github.com/packetdp/dp/dperr"
	"github.com/packetdp/dp/flowkey"
	"github.com/packetdp/dp/netdev"
)

func ethernetFrame(srcLow byte) []byte {
	frame := make([]byte, 14+20+20)
	copy(frame[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(frame[6:12], []byte{0x02, 0, 0, 0, 0, srcLow})
	frame[12], frame[13] = 0x08, 0x00
	ip := frame[14:34]
	ip[0] = 0x45
	ip[9] = 6
	copy(ip[12:16], []byte{10, 0, 0, 1})
	copy(ip[16:20], []byte{10, 0, 0, byte(srcLow)})
	return frame
}

func TestMissProducesUpcall(t *testing.T) {
	d := New("br0", nil, WithMode(Cooperative))
	dev := netdev.NewDummy("eth1")
	_, err := d.AddPort("eth1", 1, "system", dev)
	require.NoError(t, err)

	dev.Inject(ethernetFrame(1))
	d.Run()

	u, err := d.Recv()
	require.NoError(t, err)
	assert.Equal(t, UpcallMiss, u.Kind)
	assert.Equal(t, uint32(1), u.Key.InPort)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.RxPackets)
}

func TestHitRunsActionsAndUpdatesStats(t *testing.T) {
	d := New("br0", nil, WithMode(Cooperative))
	in := netdev.NewDummy("eth1")
	out := netdev.NewDummy("eth2")
	_, err := d.AddPort("eth1", 1, "system", in)
	require.NoError(t, err)
	_, err = d.AddPort("eth2", 2, "system", out)
	require.NoError(t, err)

	frame := ethernetFrame(1)
	key, err := flowkey.Extract(frame, 1)
	require.NoError(t, err)

	var b action.Builder
	b.Output(2)
	require.NoError(t, d.PutFlow(key, b.Bytes()))

	in.Inject(frame)
	d.Run()

	assert.Len(t, out.Sent, 1)
	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Hits)

	_, fstats, err := d.GetFlow(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fstats.PacketCount)
}

func TestUpcallQueueOverflowCountsLost(t *testing.T) {
	d := New("br0", nil, WithMode(Cooperative))
	dev := netdev.NewDummy("eth1")
	_, err := d.AddPort("eth1", 1, "system", dev)
	require.NoError(t, err)

	const injected = 200
	for i := 0; i < injected; i++ {
		dev.Inject(ethernetFrame(byte(i % 250)))
	}
	// Run performs one non-blocking receive per port per call, so draining
	// 200 queued frames takes 200 calls.
	for i := 0; i < injected; i++ {
		d.Run()
	}

	var dequeued int
	for {
		_, err := d.Recv()
		if err != nil {
			break
		}
		dequeued++
	}

	stats := d.Stats()
	assert.Equal(t, 128, dequeued)
	assert.Equal(t, uint64(injected-128), stats.Lost)
}

func TestPutFlowRejectsInvalidIngressPort(t *testing.T) {
	d := New("br0", nil, WithMode(Cooperative))
	k := flowkey.Key{InPort: flowkey.PortMax}
	err := d.PutFlow(k, nil)
	assert.ErrorIs(t, err, dperr.Invalid)
}

func TestActionInterpretationPushVLANSetOutput(t *testing.T) {
	d := New("br0", nil, WithMode(Cooperative))
	in := netdev.NewDummy("eth1")
	out := netdev.NewDummy("eth2")
	_, err := d.AddPort("eth1", 1, "system", in)
	require.NoError(t, err)
	_, err = d.AddPort("eth2", 2, "system", out)
	require.NoError(t, err)

	frame := ethernetFrame(9)
	key, err := flowkey.Extract(frame, 1)
	require.NoError(t, err)

	newSrc := [6]byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	newDst := [6]byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	var b action.Builder
	b.PushVLAN(0x0064).SetEthernetAddrs(newDst, newSrc).Output(2)
	require.NoError(t, d.PutFlow(key, b.Bytes()))

	in.Inject(frame)
	d.Run()

	require.Len(t, out.Sent, 1)
	sent := out.Sent[0]
	assert.Equal(t, len(frame)+4, len(sent))
	assert.Equal(t, newDst[:], sent[0:6])
	assert.Equal(t, newSrc[:], sent[6:12])
	assert.Equal(t, uint16(0x8100), uint16(sent[12])<<8|uint16(sent[13]))
}
