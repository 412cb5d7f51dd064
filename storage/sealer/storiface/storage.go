package storiface

import (
	"context"
	"os"

	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/storage/sealer/porep"
)

type SectorRef struct {
	ID       abi.SectorID
	ProverID ProverID
	Config   porep.Config
}

var NoSectorRef = SectorRef{}

type PreCommit1Out []byte

type Commit1Out []byte

type Proof []byte

type SectorCids struct {
	Unsealed cid.Cid
	Sealed   cid.Cid
}

type SealVerifyInfo struct {
	Sector SectorRef

	Randomness            abi.SealRandomness
	InteractiveRandomness abi.InteractiveSealRandomness
	Proof                 Proof

	SealedCID   cid.Cid // comm_r
	UnsealedCID cid.Cid // comm_d
}

type Storage interface {
	// GeneratePieceCommitment computes the piece CID of size unpadded bytes read
	// from the start of the file.
	GeneratePieceCommitment(ctx context.Context, sector SectorRef, piece *os.File, size abi.UnpaddedPieceSize) (abi.PieceInfo, error)
	// AddPiece appends a piece into the staged (unsealed) sector file.
	AddPiece(ctx context.Context, sector SectorRef, paths SectorPaths, existing []abi.UnpaddedPieceSize, size abi.UnpaddedPieceSize, piece *os.File) (abi.PieceInfo, error)
}

type Sealer interface {
	SealPreCommit1(ctx context.Context, sector SectorRef, paths SectorPaths, ticket abi.SealRandomness, pieces []abi.PieceInfo) (PreCommit1Out, error)
	SealPreCommit2(ctx context.Context, sector SectorRef, paths SectorPaths, pc1o PreCommit1Out) (SectorCids, error)

	SealCommit1(ctx context.Context, sector SectorRef, paths SectorPaths, ticket abi.SealRandomness, seed abi.InteractiveSealRandomness, pieces []abi.PieceInfo, cids SectorCids) (Commit1Out, error)
	SealCommit2(ctx context.Context, sector SectorRef, c1o Commit1Out) (Proof, error)

	// ClearCache drops the layer and tree data not needed to prove or unseal
	// the sector later.
	ClearCache(ctx context.Context, sector SectorRef, paths SectorPaths) error

	// UnsealRange writes size unpadded bytes starting at offset into out.
	UnsealRange(ctx context.Context, sector SectorRef, paths SectorPaths, out *os.File, ticket abi.SealRandomness, commd cid.Cid, offset UnpaddedByteIndex, size abi.UnpaddedPieceSize) error
}

// CacheValidator checks the on-disk cache before the next phase consumes it.
type CacheValidator interface {
	ValidateCacheForPreCommit2(ctx context.Context, sector SectorRef, paths SectorPaths, pc1o PreCommit1Out) error
	ValidateCacheForCommit(ctx context.Context, sector SectorRef, paths SectorPaths) error
}

type Verifier interface {
	GenerateUnsealedCID(ctx context.Context, cfg porep.Config, pieces []abi.PieceInfo) (cid.Cid, error)
	VerifySeal(ctx context.Context, info SealVerifyInfo) (bool, error)
}

// Proofs is everything a seal lifecycle needs from a proving backend.
// Implementations must be safe for concurrent use by independent sectors.
type Proofs interface {
	Storage
	Sealer
	CacheValidator
	Verifier
}
