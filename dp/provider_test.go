package dp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderOpenCloseRoundTrip(t *testing.T) {
	reg := NewRegistry()
	p := NewProvider(reg, "system")

	h, err := p.Open("br0", "system", true, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"br0"}, p.Enumerate())

	p.Destroy(h)
	require.NoError(t, p.Close(h))
	assert.Empty(t, p.Enumerate())
}

func TestCloneAsDummyOverridesTypeTagOnly(t *testing.T) {
	reg := NewRegistry()
	p := NewProvider(reg, "system")
	dummy := CloneAsDummy(p)

	assert.Equal(t, "system", p.Type)
	assert.Equal(t, "dummy", dummy.Type)
}

func TestProviderRegistryDummyOverride(t *testing.T) {
	reg := NewRegistry()
	real := NewProvider(reg, "system")
	dummy := CloneAsDummy(real)

	pr := NewProviderRegistry()
	pr.Register(real)
	pr.RegisterDummy(dummy)

	got, ok := pr.Lookup("system")
	require.True(t, ok)
	assert.Equal(t, "system", got.Type)

	pr.SetDummyOverride(true)
	got, ok = pr.Lookup("system")
	require.True(t, ok)
	assert.Equal(t, "dummy", got.Type)
}
