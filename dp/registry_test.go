package dp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetdp/dp/dperr"
	"github.com/packetdp/dp/netdev"
)

func TestRegistryOpenCreateNotFoundExists(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Open("br0", "system", false, nil)
	assert.ErrorIs(t, err, dperr.NotFound)

	h1, err := reg.Open("br0", "system", true, nil)
	require.NoError(t, err)
	defer h1.Close()

	_, err = reg.Open("br0", "system", true, nil)
	assert.ErrorIs(t, err, dperr.Exists)

	_, err = reg.Open("br0", "dummy", false, nil)
	assert.ErrorIs(t, err, dperr.Invalid)

	h2, err := reg.Open("br0", "system", false, nil)
	require.NoError(t, err)
	assert.Same(t, h1.Datapath(), h2.Datapath())
	h2.Close()
}

func TestHandleCloseFreesOnlyAfterDestroy(t *testing.T) {
	reg := NewRegistry()
	h1, err := reg.Open("br0", "system", true, nil)
	require.NoError(t, err)
	h2, err := reg.Open("br0", "system", false, nil)
	require.NoError(t, err)

	require.NoError(t, h1.Close())
	_, stillThere := reg.Lookup("br0")
	assert.True(t, stillThere)

	h2.Datapath().Destroy()
	require.NoError(t, h2.Close())
	_, stillThere = reg.Lookup("br0")
	assert.False(t, stillThere)
}

func TestRegistryEnumerate(t *testing.T) {
	reg := NewRegistry()
	h1, err := reg.Open("br0", "system", true, nil)
	require.NoError(t, err)
	defer h1.Close()
	h2, err := reg.Open("br1", "system", true, nil)
	require.NoError(t, err)
	defer h2.Close()

	names := reg.Enumerate()
	assert.ElementsMatch(t, []string{"br0", "br1"}, names)
}

func TestPortAssignmentPolicy(t *testing.T) {
	reg := NewRegistry()
	h, err := reg.Open("br0", "system", true, nil)
	require.NoError(t, err)
	defer h.Close()

	d := h.Datapath()
	p1, err := d.AddPort("eth0", 0, "system", netdev.NewDummy("eth0"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), p1.Number)

	p2, err := d.AddPort("veth5", 0, "system", netdev.NewDummy("veth5"))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), p2.Number)

	p3, err := d.AddPort("br-int", 0, "system", netdev.NewDummy("br-int"))
	require.NoError(t, err)
	assert.Equal(t, uint32(100), p3.Number)

	p4, err := d.AddPort("br5", 0, "system", netdev.NewDummy("br5"))
	require.NoError(t, err)
	assert.Equal(t, uint32(105), p4.Number)
}
