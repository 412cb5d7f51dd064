package storiface

import (
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
)

// UnpaddedByteIndex is an offset into the unpadded view of a sector.
type UnpaddedByteIndex uint64

// PaddedByteIndex is the matching offset in the fr32 padded layout.
type PaddedByteIndex uint64

// Valid reports whether i falls on an fr32 chunk boundary (127 unpadded
// bytes per 128 padded).
func (i UnpaddedByteIndex) Valid() error {
	if i%127 != 0 {
		return xerrors.Errorf("unpadded byte index %d is not a multiple of 127", i)
	}
	return nil
}

func (i UnpaddedByteIndex) Padded() PaddedByteIndex {
	return PaddedByteIndex(abi.UnpaddedPieceSize(i).Padded())
}

func (i PaddedByteIndex) Unpadded() UnpaddedByteIndex {
	return UnpaddedByteIndex(abi.PaddedPieceSize(i).Unpadded())
}
