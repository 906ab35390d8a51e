package dp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetdp/dp/dperr"
	"github.com/packetdp/dp/flowkey"
)

func TestFlowTableInsertLookupDelete(t *testing.T) {
	ft := NewFlowTable(16)
	k := flowkey.Key{InPort: 1, EthType: 0x0800}

	_, err := ft.Insert(k, []byte{1, 2, 3})
	require.NoError(t, err)

	e, ok := ft.Lookup(k)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, e.Actions)

	_, err = ft.Insert(k, []byte{4})
	assert.ErrorIs(t, err, dperr.Exists)

	_, err = ft.Delete(k)
	require.NoError(t, err)
	_, ok = ft.Lookup(k)
	assert.False(t, ok)

	_, err = ft.Delete(k)
	assert.ErrorIs(t, err, dperr.NotFound)
}

func TestFlowTableInsertRespectsCapacity(t *testing.T) {
	ft := NewFlowTable(1)
	k1 := flowkey.Key{InPort: 1}
	k2 := flowkey.Key{InPort: 2}

	_, err := ft.Insert(k1, nil)
	require.NoError(t, err)
	_, err = ft.Insert(k2, nil)
	assert.ErrorIs(t, err, dperr.TooBig)
}

func TestFlowTableModifyResetsStatsWhenFlagged(t *testing.T) {
	ft := NewFlowTable(16)
	k := flowkey.Key{InPort: 1}
	e, err := ft.Insert(k, []byte{1})
	require.NoError(t, err)
	e.Touch(e.lastUsed, 1500, 0)

	prev, err := ft.Modify(k, []byte{2}, ResetStats)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), prev.PacketCount)

	got, _ := ft.Lookup(k)
	assert.Equal(t, []byte{2}, got.Actions)
	assert.Equal(t, uint64(0), got.Stats().PacketCount)
}

func TestFlowTableDumpNIteratesAllEntries(t *testing.T) {
	ft := NewFlowTable(16)
	for i := uint32(1); i <= 5; i++ {
		_, err := ft.Insert(flowkey.Key{InPort: i}, nil)
		require.NoError(t, err)
	}

	var seen int
	cur := Cursor{}
	for {
		entries, next, err := ft.DumpN(cur, 2)
		seen += len(entries)
		if err != nil {
			assert.ErrorIs(t, err, dperr.EndOfData)
			break
		}
		cur = next
	}
	assert.Equal(t, 5, seen)
}
