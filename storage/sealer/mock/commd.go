package mock

import (
	"math/bits"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-commp-utils/v2"
	"github.com/filecoin-project/go-commp-utils/v2/zerocomm"
	commcid "github.com/filecoin-project/go-fil-commcid"
	"github.com/filecoin-project/go-state-types/abi"
)

type stackedPiece struct {
	comm []byte
	size abi.PaddedPieceSize
}

// generateUnsealedCID aggregates piece commitments the way the staged file
// lays them out: every piece aligned to its own size, gaps and the tail of the
// sector filled with zero pieces.
func generateUnsealedCID(ssize abi.SectorSize, pieces []abi.PieceInfo) (cid.Cid, error) {
	upssize := abi.PaddedPieceSize(ssize).Unpadded()

	if len(pieces) == 0 {
		return zerocomm.ZeroPieceCommitment(upssize), nil
	}

	var (
		stack []stackedPiece
		total abi.PaddedPieceSize
	)

	push := func(p stackedPiece) {
		stack = append(stack, p)
		for len(stack) > 1 && stack[len(stack)-1].size == stack[len(stack)-2].size {
			l, r := stack[len(stack)-2], stack[len(stack)-1]
			h := hashPair(l.comm, r.comm)
			stack = append(stack[:len(stack)-2], stackedPiece{comm: h[:], size: l.size * 2})
		}
	}

	pushZero := func(size abi.PaddedPieceSize) error {
		zc, err := commcid.CIDToPieceCommitmentV1(zerocomm.ZeroPieceCommitment(size.Unpadded()))
		if err != nil {
			return err
		}
		push(stackedPiece{comm: zc, size: size})
		return nil
	}

	for _, p := range pieces {
		if err := p.Size.Validate(); err != nil {
			return cid.Undef, xerrors.Errorf("invalid piece size: %w", err)
		}

		comm, err := commcid.CIDToPieceCommitmentV1(p.PieceCID)
		if err != nil {
			return cid.Undef, xerrors.Errorf("piece cid: %w", err)
		}

		pads, padSum := requiredPadding(total, p.Size)
		for _, pad := range pads {
			if err := pushZero(pad); err != nil {
				return cid.Undef, err
			}
		}
		total += padSum

		push(stackedPiece{comm: comm, size: p.Size})
		total += p.Size
	}

	if total > abi.PaddedPieceSize(ssize) {
		return cid.Undef, xerrors.Errorf("pieces (%d bytes) do not fit in a %d byte sector", total, ssize)
	}

	// collapse into one power of two piece before zero padding to the sector
	for len(stack) > 1 {
		if err := pushZero(stack[len(stack)-1].size); err != nil {
			return cid.Undef, err
		}
	}

	pcid, err := commcid.PieceCommitmentV1ToCID(stack[0].comm)
	if err != nil {
		return cid.Undef, err
	}

	return commp.ZeroPadPieceCommitment(pcid, stack[0].size.Unpadded(), upssize)
}

// requiredPadding returns the zero pieces needed to align oldLength to newPieceLength.
func requiredPadding(oldLength abi.PaddedPieceSize, newPieceLength abi.PaddedPieceSize) ([]abi.PaddedPieceSize, abi.PaddedPieceSize) {
	var padPieces []abi.PaddedPieceSize

	toFill := uint64(-oldLength % newPieceLength)

	n := bits.OnesCount64(toFill)
	var sum abi.PaddedPieceSize
	for i := 0; i < n; i++ {
		next := bits.TrailingZeros64(toFill)
		psize := uint64(1) << uint(next)
		toFill ^= psize

		padded := abi.PaddedPieceSize(psize)
		padPieces = append(padPieces, padded)
		sum += padded
	}

	return padPieces, sum
}
