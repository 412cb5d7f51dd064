package commr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommRDeterministic(t *testing.T) {
	var c, r [32]byte
	c[0], r[0] = 1, 2

	a, err := CommR(c, r)
	require.NoError(t, err)
	b, err := CommR(c, r)
	require.NoError(t, err)
	require.Equal(t, a, b)

	// inputs are passed by value
	require.Equal(t, byte(1), c[0])

	swapped, err := CommR(r, c)
	require.NoError(t, err)
	require.NotEqual(t, a, swapped)

	// canonical field element, top bits of the last byte are clear
	require.Zero(t, a[31]&0x80)
}
