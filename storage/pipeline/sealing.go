package sealing

import (
	"context"
	"os"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/metrics"
	"github.com/filecoin-project/seal-stress/storage/pipeline/piece"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

var log = logging.Logger("pipeline")

var (
	ErrInvalidTransition = xerrors.New("invalid sector state transition")
	ErrSessionUsed       = xerrors.New("session already sealed")
	ErrProofInvalid      = xerrors.New("seal proof failed verification")
	ErrShortUnseal       = xerrors.New("unsealed range has wrong length")
)

// SectorProvider allocates per-sector scratch space. The release function
// returned by AcquireSector removes everything the session wrote, including
// scratch files.
type SectorProvider interface {
	AcquireSector(ctx context.Context, id abi.SectorID, allocate storiface.SectorFileType) (storiface.SectorPaths, func(), error)
	ScratchFile(id abi.SectorID, pattern string) (*os.File, error)
}

// Notifee is called after every state change, including the move to
// FailedUnrecoverable.
type Notifee func(sector abi.SectorID, before, after SectorState)

type Options struct {
	// A zero UnsealSize means DefaultUnsealSize. The offset only falls back to
	// DefaultUnsealOffset when both are zero.
	UnsealOffset storiface.UnpaddedByteIndex
	UnsealSize   abi.UnpaddedPieceSize

	OnTransition Notifee
	Stats        *SectorStats
}

const (
	DefaultUnsealOffset storiface.UnpaddedByteIndex = 508
	DefaultUnsealSize   abi.UnpaddedPieceSize       = 508
)

// Pipeline drives sessions through the sealing lifecycle. It keeps no per
// sector state, so one Pipeline can seal many sectors concurrently.
type Pipeline struct {
	proofs storiface.Proofs
	fs     SectorProvider

	unsealOffset storiface.UnpaddedByteIndex
	unsealSize   abi.UnpaddedPieceSize

	notifee Notifee
	stats   *SectorStats
}

func New(proofs storiface.Proofs, fs SectorProvider, opts Options) (*Pipeline, error) {
	if opts.UnsealSize == 0 {
		if opts.UnsealOffset == 0 {
			opts.UnsealOffset = DefaultUnsealOffset
		}
		opts.UnsealSize = DefaultUnsealSize
	}
	if err := opts.UnsealOffset.Valid(); err != nil {
		return nil, xerrors.Errorf("unseal offset %d: %w", opts.UnsealOffset, err)
	}
	if opts.Stats == nil {
		opts.Stats = NewSectorStats()
	}

	return &Pipeline{
		proofs: proofs,
		fs:     fs,

		unsealOffset: opts.UnsealOffset,
		unsealSize:   opts.UnsealSize,

		notifee: opts.OnTransition,
		stats:   opts.Stats,
	}, nil
}

// UnsealRange returns the range every proven sector is unsealed over.
func (p *Pipeline) UnsealRange() (storiface.UnpaddedByteIndex, abi.UnpaddedPieceSize) {
	return p.unsealOffset, p.unsealSize
}

// Seal runs the full lifecycle for sess using pc as the only piece. pc is
// read from its current position. On success the returned Result owns the
// sector's scratch space; on failure the space is already released and the
// session is left in FailedUnrecoverable.
func (p *Pipeline) Seal(ctx context.Context, sess *Session, pc *piece.Piece) (res *Result, err error) {
	if sess.State != UndefinedSectorState {
		return nil, xerrors.Errorf("sector %d in state %s: %w", sess.Sector.ID.Number, sess.State, ErrSessionUsed)
	}
	if end := uint64(p.unsealOffset) + uint64(p.unsealSize); end > uint64(sess.Sector.Config.UnpaddedCapacity()) {
		return nil, xerrors.Errorf("unseal range ends at %d, past sector capacity %d", end, sess.Sector.Config.UnpaddedCapacity())
	}

	ctx, _ = tag.New(ctx,
		tag.Upsert(metrics.SectorSize, sess.Sector.Config.SectorSize.ShortString()),
		tag.Upsert(metrics.APIVersion, sess.Sector.Config.APIVersion.String()),
	)

	paths, release, err := p.fs.AcquireSector(ctx, sess.Sector.ID, storiface.FTAll)
	if err != nil {
		return nil, xerrors.Errorf("acquiring sector %d: %w", sess.Sector.ID.Number, err)
	}
	done := func() {
		release()
		p.stats.forgetSector(context.WithoutCancel(ctx), sess.Sector.ID)
	}
	// released on every path that does not hand out a Result, panics included
	defer func() {
		if res == nil {
			done()
		}
	}()

	sess.Paths = paths
	if err := p.transition(ctx, sess, Init); err != nil {
		return nil, err
	}

	for !sess.State.Final() {
		h, ok := planners[sess.State]
		if !ok {
			err = xerrors.Errorf("no handler for state %s: %w", sess.State, ErrInvalidTransition)
		} else {
			err = p.step(ctx, sess, pc, h)
		}

		if err != nil {
			failed := sess.State
			if terr := p.transition(ctx, sess, FailedUnrecoverable); terr != nil {
				log.Errorw("marking sector failed", "sector", sess.Sector.ID, "error", terr)
			}
			return nil, xerrors.Errorf("sector %d: %s: %w", sess.Sector.ID.Number, failed, err)
		}
	}

	return &Result{
		Sector:   sess.Sector.ID,
		Paths:    sess.Paths,
		Cids:     sess.Cids,
		Pieces:   sess.Pieces,
		Proof:    sess.Proof,
		History:  sess.History,
		Unsealed: sess.UnsealedData,
		Verified: sess.Verified,
		release:  done,
	}, nil
}

func (p *Pipeline) step(ctx context.Context, sess *Session, pc *piece.Piece, h handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tctx, span := trace.StartSpan(ctx, string(h.task))
	defer span.End()
	span.AddAttributes(trace.Int64Attribute("sector", int64(sess.Sector.ID.Number)))

	tctx, _ = tag.New(tctx, tag.Upsert(metrics.TaskType, string(h.task)))
	stop := metrics.Timer(tctx, metrics.SealPhaseDuration)

	next, err := h.run(p, tctx, sess, pc)

	took := stop()
	if err != nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
		return xerrors.Errorf("%s: %w", h.task, err)
	}

	log.Debugw("sector phase done", "sector", sess.Sector.ID, "task", h.task, "took", took)

	return p.transition(ctx, sess, next)
}

func (p *Pipeline) transition(ctx context.Context, sess *Session, next SectorState) error {
	from := sess.State

	switch {
	case from == UndefinedSectorState:
		if next != Init {
			return xerrors.Errorf("%s -> %s: %w", from, next, ErrInvalidTransition)
		}
	case !from.CanTransition(next):
		return xerrors.Errorf("%s -> %s: %w", from, next, ErrInvalidTransition)
	case sess.SkipProof && proofOnly(next):
		return xerrors.Errorf("%s -> %s with proof skipped: %w", from, next, ErrInvalidTransition)
	case !sess.SkipProof && next == ProofSkipped,
		!sess.SkipProof && from == CacheCleared && next == Terminal:
		return xerrors.Errorf("%s -> %s with proof requested: %w", from, next, ErrInvalidTransition)
	}

	sess.State = next
	sess.History = append(sess.History, StateChange{From: from, To: next, At: time.Now()})

	p.stats.updateSector(ctx, sess.Sector.ID, next)

	log.Debugw("sector state change", "sector", sess.Sector.ID, "from", from, "to", next)

	if p.notifee != nil {
		p.notifee(sess.Sector.ID, from, next)
	}

	return nil
}
