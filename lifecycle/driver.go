package lifecycle

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/sha256-simd"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/lib/stresslog"
	"github.com/filecoin-project/seal-stress/metrics"
	sealing "github.com/filecoin-project/seal-stress/storage/pipeline"
	"github.com/filecoin-project/seal-stress/storage/pipeline/piece"
	"github.com/filecoin-project/seal-stress/storage/sealer/basicfs"
	"github.com/filecoin-project/seal-stress/storage/sealer/fsutil"
	"github.com/filecoin-project/seal-stress/storage/sealer/porep"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

var log = logging.Logger("lifecycle")

const (
	DefaultMiner abi.ActorID = 1000

	// maxSectorDraws bounds how often a colliding sector number is redrawn.
	maxSectorDraws = 16
)

type Options struct {
	// SkipProof stops every lifecycle after the cache is cleared.
	SkipProof bool

	// Seed makes identifiers and piece data reproducible. Zero draws a fresh
	// random seed for every run.
	Seed int64

	Miner abi.ActorID

	// Out receives one progress line per phase of interest. Defaults to
	// os.Stdout.
	Out io.Writer

	Pipeline sealing.Options
}

// Driver runs single end-to-end seal lifecycles and checks their results. A
// Driver runs one lifecycle at a time; use one Driver per worker.
type Driver struct {
	proofs   storiface.Proofs
	fs       *basicfs.Provider
	pipeline *sealing.Pipeline

	opts Options
	runs uint64
}

func NewDriver(proofs storiface.Proofs, fs *basicfs.Provider, opts Options) (*Driver, error) {
	if opts.Miner == 0 {
		opts.Miner = DefaultMiner
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	p, err := sealing.New(proofs, fs, opts.Pipeline)
	if err != nil {
		return nil, xerrors.Errorf("creating pipeline: %w", err)
	}

	return &Driver{
		proofs:   proofs,
		fs:       fs,
		pipeline: p,
		opts:     opts,
	}, nil
}

// Run seals, unseals and verifies one freshly generated sector of size ssize
// under the given proof version. Broken post-conditions are returned as
// *AssertionError, panics as *PanicError.
func (d *Driver) Run(ctx context.Context, ssize abi.SectorSize, id porep.ID, version porep.APIVersion) (err error) {
	stresslog.SetupLogLevels()

	cfg, err := porep.NewConfig(ssize, id, version)
	if err != nil {
		return err
	}

	ctx, _ = tag.New(ctx,
		tag.Upsert(metrics.SectorSize, ssize.ShortString()),
		tag.Upsert(metrics.APIVersion, version.String()),
	)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}

		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		mctx, _ := tag.New(ctx,
			tag.Upsert(metrics.Outcome, outcome),
			tag.Upsert(metrics.FailureType, failureType(err)),
		)
		stats.Record(mctx, metrics.Lifecycles.M(1))
		if err == nil {
			stats.Record(ctx, metrics.LifecycleDuration.M(metrics.SinceInMilliseconds(start)))
		}
	}()

	return d.run(ctx, cfg)
}

func (d *Driver) run(ctx context.Context, cfg porep.Config) error {
	rng, err := d.runRand()
	if err != nil {
		return err
	}

	prover, err := storiface.NewProverID(rng)
	if err != nil {
		return xerrors.Errorf("deriving prover id: %w", err)
	}

	ticket := make(abi.SealRandomness, 32)
	_, _ = rng.Read(ticket)
	seed := make(abi.InteractiveSealRandomness, 32)
	_, _ = rng.Read(seed)

	if err := os.MkdirAll(d.fs.Root, 0755); err != nil {
		return xerrors.Errorf("creating storage root: %w", err)
	}

	pc, err := piece.Generate(d.fs.Root, cfg.SectorSize, rng)
	if err != nil {
		return xerrors.Errorf("generating piece: %w", err)
	}
	defer func() {
		if err := pc.Close(); err != nil {
			log.Warnw("removing piece file", "error", err)
		}
	}()

	var (
		sess *sealing.Session
		res  *sealing.Result
	)
	for draw := 0; ; draw++ {
		sess = &sealing.Session{
			Sector: storiface.SectorRef{
				ID: abi.SectorID{
					Miner:  d.opts.Miner,
					Number: abi.SectorNumber(rng.Int63()),
				},
				ProverID: prover,
				Config:   cfg,
			},
			Ticket:    ticket,
			Seed:      seed,
			SkipProof: d.opts.SkipProof,
		}

		res, err = d.pipeline.Seal(ctx, sess, pc)
		if errors.Is(err, basicfs.ErrSectorInUse) && draw < maxSectorDraws {
			log.Infow("sector number taken, drawing another", "sector", sess.Sector.ID)
			continue
		}
		break
	}
	if err != nil {
		return d.classify(sess, err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Warnw("releasing sector", "sector", res.Sector, "error", err)
		}
	}()

	d.printf("sealed sector %d (%s): comm_d %s comm_r %s\n", res.Sector.Number, cfg, res.CommD(), res.CommR())

	if err := d.check(ctx, sess, res, pc); err != nil {
		return err
	}

	if du, err := fsutil.FileSize(filepath.Dir(res.Paths.Cache)); err == nil {
		log.Infow("lifecycle done", "sector", res.Sector, "config", cfg.String(), "scratch", humanize.IBytes(uint64(du.OnDisk)))
	}

	if sess.SkipProof {
		d.printf("sector %d: proof skipped\n", res.Sector.Number)
	} else {
		d.printf("sector %d: unsealed %d bytes, proof verified\n", res.Sector.Number, len(res.Unsealed))
	}

	return nil
}

// check asserts the lifecycle post-conditions on a sealed sector.
func (d *Driver) check(ctx context.Context, sess *sealing.Session, res *sealing.Result, pc *piece.Piece) error {
	sector := res.Sector

	if !res.CommR().Defined() {
		return &AssertionError{Sector: sector, Check: CheckCommR, Detail: "comm_r undefined"}
	}

	commD, err := d.proofs.GenerateUnsealedCID(ctx, sess.Sector.Config, res.Pieces)
	if err != nil {
		return xerrors.Errorf("recomputing comm_d: %w", err)
	}
	if !commD.Equals(res.CommD()) {
		return &AssertionError{Sector: sector, Check: CheckCommD, Detail: fmt.Sprintf("sealed with %s, pieces give %s", res.CommD(), commD)}
	}

	if sess.SkipProof {
		return nil
	}

	if !res.Verified {
		return &AssertionError{Sector: sector, Check: CheckProof, Detail: "proof not verified"}
	}

	offset, size := d.pipeline.UnsealRange()
	want := pc.Raw[offset : uint64(offset)+uint64(size)]
	if !bytes.Equal(want, res.Unsealed) {
		return &AssertionError{Sector: sector, Check: CheckUnsealBytes, Detail: fmt.Sprintf("range [%d, %d) differs from piece data", offset, uint64(offset)+uint64(size))}
	}

	return nil
}

// classify turns pipeline errors that indicate a correctness problem into
// assertion failures. Everything else is returned as is.
func (d *Driver) classify(sess *sealing.Session, err error) error {
	switch {
	case errors.Is(err, sealing.ErrProofInvalid):
		return &AssertionError{Sector: sess.Sector.ID, Check: CheckProof, Detail: err.Error()}
	case errors.Is(err, sealing.ErrShortUnseal):
		return &AssertionError{Sector: sess.Sector.ID, Check: CheckUnsealBytes, Detail: err.Error()}
	default:
		return err
	}
}

func (d *Driver) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(d.opts.Out, format, args...)
}

// runRand returns the randomness source for the next run.
func (d *Driver) runRand() (*rand.Rand, error) {
	d.runs++

	if d.opts.Seed == 0 {
		var b [8]byte
		if _, err := crand.Read(b[:]); err != nil {
			return nil, xerrors.Errorf("seeding run: %w", err)
		}
		return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(b[:])))), nil
	}

	return rand.New(rand.NewSource(DeriveSeed(d.opts.Seed, d.runs))), nil
}

// DeriveSeed derives an independent, reproducible seed for the n-th consumer
// of a base seed.
func DeriveSeed(base int64, n uint64) int64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(base))
	binary.LittleEndian.PutUint64(buf[8:], n)

	h := sha256.Sum256(buf[:])
	s := int64(binary.LittleEndian.Uint64(h[:8]) &^ (1 << 63))
	if s == 0 {
		s = 1
	}
	return s
}
