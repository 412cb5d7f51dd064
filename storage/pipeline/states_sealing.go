package sealing

import (
	"context"
	"io"

	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/metrics"
	"github.com/filecoin-project/seal-stress/storage/pipeline/piece"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

type TaskType string

const (
	TTAddPiece       TaskType = "seal/v0/addpiece"
	TTPreCommit1     TaskType = "seal/v0/precommit/1"
	TTPreCommit2     TaskType = "seal/v0/precommit/2"
	TTValidatePC2    TaskType = "seal/v0/precommit/2/validate"
	TTValidateCommit TaskType = "seal/v0/commit/validate"
	TTCommit1        TaskType = "seal/v0/commit/1"
	TTCommit2        TaskType = "seal/v0/commit/2"
	TTFinalize       TaskType = "seal/v0/finalize"
	TTUnseal         TaskType = "seal/v0/unseal"
	TTVerify         TaskType = "seal/v0/verify"
	TTDone           TaskType = "seal/v0/done"
)

type handler struct {
	task TaskType
	run  func(p *Pipeline, ctx context.Context, sess *Session, pc *piece.Piece) (SectorState, error)
}

// planners maps every non-final state to the work that moves a session out of
// it. The transition table in sector_state.go decides whether the resulting
// state is allowed.
var planners = map[SectorState]handler{
	Init:                {TTAddPiece, (*Pipeline).handleAddPiece},
	PieceCommitted:      {TTPreCommit1, (*Pipeline).handlePreCommit1},
	PreCommit1:          {TTValidatePC2, (*Pipeline).handleValidatePreCommit2},
	PreCommit1Validated: {TTPreCommit2, (*Pipeline).handlePreCommit2},
	PreCommit2:          {TTValidateCommit, (*Pipeline).handleValidateCommit},
	PreCommit2Validated: {TTCommit1, (*Pipeline).handleCommit1},
	ProofSkipped:        {TTFinalize, (*Pipeline).handleClearCache},
	Commit1:             {TTFinalize, (*Pipeline).handleClearCache},
	CacheCleared:        {TTCommit2, (*Pipeline).handleCommit2},
	Commit2:             {TTUnseal, (*Pipeline).handleUnseal},
	Unsealed:            {TTVerify, (*Pipeline).handleVerify},
	Verified:            {TTDone, (*Pipeline).handleDone},
}

func (p *Pipeline) handleAddPiece(ctx context.Context, sess *Session, pc *piece.Piece) (SectorState, error) {
	size := pc.Size()

	pi, err := p.proofs.GeneratePieceCommitment(ctx, sess.Sector, pc.File, size)
	if err != nil {
		return "", xerrors.Errorf("generating piece commitment: %w", err)
	}

	if err := pc.Rewind(); err != nil {
		return "", xerrors.Errorf("rewinding piece file: %w", err)
	}

	added, err := p.proofs.AddPiece(ctx, sess.Sector, sess.Paths, nil, size, pc.File)
	if err != nil {
		return "", xerrors.Errorf("adding piece: %w", err)
	}

	if !added.PieceCID.Equals(pi.PieceCID) || added.Size != pi.Size {
		return "", xerrors.Errorf("piece commitment changed while staging: %s/%d != %s/%d", added.PieceCID, added.Size, pi.PieceCID, pi.Size)
	}

	sess.Pieces = []abi.PieceInfo{added}
	return PieceCommitted, nil
}

func (p *Pipeline) handlePreCommit1(ctx context.Context, sess *Session, _ *piece.Piece) (SectorState, error) {
	pc1o, err := p.proofs.SealPreCommit1(ctx, sess.Sector, sess.Paths, sess.Ticket, sess.Pieces)
	if err != nil {
		return "", xerrors.Errorf("seal pre commit(1) failed: %w", err)
	}

	sess.PreCommit1Out = pc1o
	return PreCommit1, nil
}

func (p *Pipeline) handleValidatePreCommit2(ctx context.Context, sess *Session, _ *piece.Piece) (SectorState, error) {
	if err := p.proofs.ValidateCacheForPreCommit2(ctx, sess.Sector, sess.Paths, sess.PreCommit1Out); err != nil {
		stats.Record(ctx, metrics.CacheValidationFailures.M(1))
		return "", xerrors.Errorf("validating cache for pre commit(2): %w", err)
	}

	return PreCommit1Validated, nil
}

func (p *Pipeline) handlePreCommit2(ctx context.Context, sess *Session, _ *piece.Piece) (SectorState, error) {
	cids, err := p.proofs.SealPreCommit2(ctx, sess.Sector, sess.Paths, sess.PreCommit1Out)
	if err != nil {
		return "", xerrors.Errorf("seal pre commit(2) failed: %w", err)
	}

	if !cids.Unsealed.Defined() || !cids.Sealed.Defined() {
		return "", xerrors.Errorf("seal pre commit(2) returned undefined commitments")
	}

	sess.Cids = cids
	return PreCommit2, nil
}

func (p *Pipeline) handleValidateCommit(ctx context.Context, sess *Session, _ *piece.Piece) (SectorState, error) {
	if err := p.proofs.ValidateCacheForCommit(ctx, sess.Sector, sess.Paths); err != nil {
		stats.Record(ctx, metrics.CacheValidationFailures.M(1))
		return "", xerrors.Errorf("validating cache for commit: %w", err)
	}

	return PreCommit2Validated, nil
}

func (p *Pipeline) handleCommit1(ctx context.Context, sess *Session, _ *piece.Piece) (SectorState, error) {
	if sess.SkipProof {
		return ProofSkipped, nil
	}

	c1o, err := p.proofs.SealCommit1(ctx, sess.Sector, sess.Paths, sess.Ticket, sess.Seed, sess.Pieces, sess.Cids)
	if err != nil {
		return "", xerrors.Errorf("computing seal proof failed(1): %w", err)
	}

	sess.Commit1Out = c1o
	return Commit1, nil
}

func (p *Pipeline) handleClearCache(ctx context.Context, sess *Session, _ *piece.Piece) (SectorState, error) {
	if err := p.proofs.ClearCache(ctx, sess.Sector, sess.Paths); err != nil {
		return "", xerrors.Errorf("clearing cache: %w", err)
	}

	return CacheCleared, nil
}

func (p *Pipeline) handleCommit2(ctx context.Context, sess *Session, _ *piece.Piece) (SectorState, error) {
	if sess.SkipProof {
		return Terminal, nil
	}

	proof, err := p.proofs.SealCommit2(ctx, sess.Sector, sess.Commit1Out)
	if err != nil {
		return "", xerrors.Errorf("computing seal proof failed(2): %w", err)
	}

	sess.Proof = proof
	return Commit2, nil
}

func (p *Pipeline) handleUnseal(ctx context.Context, sess *Session, _ *piece.Piece) (SectorState, error) {
	out, err := p.fs.ScratchFile(sess.Sector.ID, "unsealed-range-*")
	if err != nil {
		return "", xerrors.Errorf("creating unseal output: %w", err)
	}
	defer out.Close() // nolint

	if err := p.proofs.UnsealRange(ctx, sess.Sector, sess.Paths, out, sess.Ticket, sess.Cids.Unsealed, p.unsealOffset, p.unsealSize); err != nil {
		return "", xerrors.Errorf("unsealing range: %w", err)
	}

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return "", xerrors.Errorf("seeking unseal output: %w", err)
	}

	data, err := io.ReadAll(out)
	if err != nil {
		return "", xerrors.Errorf("reading unseal output: %w", err)
	}
	if len(data) != int(p.unsealSize) {
		return "", xerrors.Errorf("got %d bytes, expected %d: %w", len(data), p.unsealSize, ErrShortUnseal)
	}

	sess.UnsealedData = data
	return Unsealed, nil
}

func (p *Pipeline) handleVerify(ctx context.Context, sess *Session, _ *piece.Piece) (SectorState, error) {
	ok, err := p.proofs.VerifySeal(ctx, storiface.SealVerifyInfo{
		Sector:                sess.Sector,
		Randomness:            sess.Ticket,
		InteractiveRandomness: sess.Seed,
		Proof:                 sess.Proof,
		SealedCID:             sess.Cids.Sealed,
		UnsealedCID:           sess.Cids.Unsealed,
	})
	if err != nil {
		return "", xerrors.Errorf("verifying seal proof: %w", err)
	}

	sess.Verified = ok
	if !ok {
		return "", ErrProofInvalid
	}

	return Verified, nil
}

func (p *Pipeline) handleDone(context.Context, *Session, *piece.Piece) (SectorState, error) {
	return Terminal, nil
}
