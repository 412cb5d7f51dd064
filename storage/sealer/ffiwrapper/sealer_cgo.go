//go:build cgo && ffi

package ffiwrapper

import (
	"context"
	"io"
	"os"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	ffi "github.com/filecoin-project/filecoin-ffi"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/proof"

	"github.com/filecoin-project/seal-stress/storage/sealer/cachecheck"
	"github.com/filecoin-project/seal-stress/storage/sealer/porep"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

var log = logging.Logger("ffiwrapper")

// Sealer drives the real proofs through filecoin-ffi. The proofs derive the
// prover id from the miner actor of the sector and the PoRep id from the
// registered proof type, so SectorRef.ProverID and Config.PoRepID only select
// the proof version here.
type Sealer struct{}

var _ storiface.Proofs = &Sealer{}

func New() *Sealer {
	return &Sealer{}
}

func proofType(sector storiface.SectorRef) (abi.RegisteredSealProof, error) {
	return sector.Config.RegisteredSealProof()
}

func (sb *Sealer) GeneratePieceCommitment(ctx context.Context, sector storiface.SectorRef, piece *os.File, size abi.UnpaddedPieceSize) (abi.PieceInfo, error) {
	spt, err := proofType(sector)
	if err != nil {
		return abi.PieceInfo{}, err
	}

	pieceCID, err := ffi.GeneratePieceCIDFromFile(spt, piece, size)
	if err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("generating piece commitment: %w", err)
	}

	return abi.PieceInfo{
		Size:     size.Padded(),
		PieceCID: pieceCID,
	}, nil
}

func (sb *Sealer) AddPiece(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, existing []abi.UnpaddedPieceSize, size abi.UnpaddedPieceSize, piece *os.File) (abi.PieceInfo, error) {
	spt, err := proofType(sector)
	if err != nil {
		return abi.PieceInfo{}, err
	}

	stagedFile, err := os.OpenFile(paths.Unsealed, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("opening staged sector: %w", err)
	}
	defer stagedFile.Close() // nolint

	var offset abi.UnpaddedPieceSize
	for _, e := range existing {
		offset += e
	}
	if _, err := stagedFile.Seek(int64(offset.Padded()), io.SeekStart); err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("seeking staged sector: %w", err)
	}

	_, _, pieceCID, err := ffi.WriteWithAlignment(spt, piece, size, stagedFile, existing)
	if err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("writing piece: %w", err)
	}

	return abi.PieceInfo{
		Size:     size.Padded(),
		PieceCID: pieceCID,
	}, nil
}

func (sb *Sealer) SealPreCommit1(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, ticket abi.SealRandomness, pieces []abi.PieceInfo) (storiface.PreCommit1Out, error) {
	spt, err := proofType(sector)
	if err != nil {
		return nil, err
	}

	var sum abi.UnpaddedPieceSize
	for _, piece := range pieces {
		sum += piece.Size.Unpadded()
	}
	ussize := sector.Config.UnpaddedCapacity()
	if sum != ussize {
		return nil, xerrors.Errorf("aggregated piece sizes don't match sector size: %d != %d (%d)", sum, ussize, int64(ussize-sum))
	}

	// staged file must exist at full size before the proofs read it
	if err := os.Truncate(paths.Unsealed, int64(sector.Config.SectorSize)); err != nil {
		return nil, xerrors.Errorf("extending staged sector: %w", err)
	}
	f, err := os.OpenFile(paths.Sealed, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, xerrors.Errorf("ensuring sealed file exists: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	p1o, err := ffi.SealPreCommitPhase1(
		spt,
		paths.Cache,
		paths.Unsealed,
		paths.Sealed,
		sector.ID.Number,
		sector.ID.Miner,
		ticket,
		pieces,
	)
	if err != nil {
		return nil, xerrors.Errorf("presealing sector %d (%s): %w", sector.ID.Number, paths.Unsealed, err)
	}

	return p1o, nil
}

func (sb *Sealer) ValidateCacheForPreCommit2(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, pc1o storiface.PreCommit1Out) error {
	if len(pc1o) == 0 {
		return &cachecheck.Error{Sector: sector.ID, File: paths.Cache, Reason: "empty phase 1 output"}
	}
	return cachecheck.PreCommit2(ctx, sector, paths)
}

func (sb *Sealer) SealPreCommit2(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, pc1o storiface.PreCommit1Out) (storiface.SectorCids, error) {
	sealedCID, unsealedCID, err := ffi.SealPreCommitPhase2(pc1o, paths.Cache, paths.Sealed)
	if err != nil {
		return storiface.SectorCids{}, xerrors.Errorf("presealing sector %d (%s): %w", sector.ID.Number, paths.Unsealed, err)
	}

	return storiface.SectorCids{
		Unsealed: unsealedCID,
		Sealed:   sealedCID,
	}, nil
}

func (sb *Sealer) ValidateCacheForCommit(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths) error {
	return cachecheck.Replica(ctx, sector, paths)
}

func (sb *Sealer) ClearCache(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths) error {
	return ffi.ClearCache(paths.Cache)
}

func (sb *Sealer) SealCommit1(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, ticket abi.SealRandomness, seed abi.InteractiveSealRandomness, pieces []abi.PieceInfo, cids storiface.SectorCids) (storiface.Commit1Out, error) {
	spt, err := proofType(sector)
	if err != nil {
		return nil, err
	}

	output, err := ffi.SealCommitPhase1(
		spt,
		cids.Sealed,
		cids.Unsealed,
		paths.Cache,
		paths.Sealed,
		sector.ID.Number,
		sector.ID.Miner,
		ticket,
		seed,
		pieces,
	)
	if err != nil {
		log.Warnw("commit phase 1 failed", "sector", sector.ID, "ticket", ticket, "seed", seed, "pieces", pieces, "sealed", cids.Sealed, "unsealed", cids.Unsealed, "error", err)

		return nil, xerrors.Errorf("StandaloneSealCommit: %w", err)
	}
	return output, nil
}

func (sb *Sealer) SealCommit2(ctx context.Context, sector storiface.SectorRef, c1o storiface.Commit1Out) (storiface.Proof, error) {
	return ffi.SealCommitPhase2(c1o, sector.ID.Number, sector.ID.Miner)
}

func (sb *Sealer) UnsealRange(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, out *os.File, ticket abi.SealRandomness, commd cid.Cid, offset storiface.UnpaddedByteIndex, size abi.UnpaddedPieceSize) error {
	spt, err := proofType(sector)
	if err != nil {
		return err
	}
	if err := offset.Valid(); err != nil {
		return xerrors.Errorf("unseal offset: %w", err)
	}

	sealed, err := os.Open(paths.Sealed)
	if err != nil {
		return xerrors.Errorf("opening sealed file: %w", err)
	}
	defer sealed.Close() // nolint

	err = ffi.UnsealRange(spt,
		paths.Cache,
		sealed,
		out,
		sector.ID.Number,
		sector.ID.Miner,
		ticket,
		commd,
		uint64(offset),
		uint64(size))
	if err != nil {
		return xerrors.Errorf("unseal range: %w", err)
	}

	return out.Sync()
}

func (sb *Sealer) GenerateUnsealedCID(ctx context.Context, cfg porep.Config, pieces []abi.PieceInfo) (cid.Cid, error) {
	spt, err := cfg.RegisteredSealProof()
	if err != nil {
		return cid.Undef, err
	}
	return ffi.GenerateUnsealedCID(spt, pieces)
}

func (sb *Sealer) VerifySeal(ctx context.Context, info storiface.SealVerifyInfo) (bool, error) {
	spt, err := proofType(info.Sector)
	if err != nil {
		return false, err
	}

	return ffi.VerifySeal(proof.SealVerifyInfo{
		SealProof:             spt,
		SectorID:              info.Sector.ID,
		Randomness:            info.Randomness,
		InteractiveRandomness: info.InteractiveRandomness,
		Proof:                 info.Proof,
		SealedCID:             info.SealedCID,
		UnsealedCID:           info.UnsealedCID,
	})
}
