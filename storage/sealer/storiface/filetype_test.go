package storiface

import (
	"bytes"
	"math/big"
	"math/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"
)

func TestFileTypeAllow(t *testing.T) {
	require.True(t, FTAll.Has(FTCache))
	require.False(t, (FTSealed | FTUnsealed).Has(FTCache))
	require.Equal(t, []SectorFileType{FTUnsealed, FTCache}, (FTUnsealed | FTCache).AllSet())
	require.Equal(t, "cache", FTCache.String())
	require.Equal(t, "<unknown 3>", (FTUnsealed | FTSealed).String())
}

func TestSectorName(t *testing.T) {
	id := abi.SectorID{Miner: 1000, Number: 42}
	require.Equal(t, "s-t01000-42", SectorName(id))
}

func TestPathByType(t *testing.T) {
	var sp SectorPaths
	for _, ft := range PathTypes {
		SetPathByType(&sp, ft, ft.String())
	}
	require.Equal(t, "sealed", PathByType(sp, FTSealed))
	require.Equal(t, "cache", sp.Cache)
	require.Panics(t, func() { PathByType(sp, FTAll) })
}

func TestByteIndex(t *testing.T) {
	require.NoError(t, UnpaddedByteIndex(508).Valid())
	require.Error(t, UnpaddedByteIndex(500).Valid())
	require.Equal(t, PaddedByteIndex(512), UnpaddedByteIndex(508).Padded())
	require.Equal(t, UnpaddedByteIndex(1016), PaddedByteIndex(1024).Unpadded())
}

func TestProverIDCanonical(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 32; i++ {
		id, err := NewProverID(r)
		require.NoError(t, err)

		le := id
		for i, j := 0, len(le)-1; i < j; i, j = i+1, j-1 {
			le[i], le[j] = le[j], le[i]
		}
		v := new(big.Int).SetBytes(le[:])
		require.Equal(t, -1, v.Cmp(fr.Modulus()), "prover id must be reduced")
	}

	_, err := NewProverID(bytes.NewReader(make([]byte, 10)))
	require.Error(t, err)
}
