package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/build"
	"github.com/filecoin-project/seal-stress/lib/hostinfo"
	"github.com/filecoin-project/seal-stress/lib/stresslog"
	sealing "github.com/filecoin-project/seal-stress/storage/pipeline"
	"github.com/filecoin-project/seal-stress/storage/sealer/basicfs"
	"github.com/filecoin-project/seal-stress/storage/sealer/fsutil"
	"github.com/filecoin-project/seal-stress/storage/sealer/porep"
	"github.com/filecoin-project/seal-stress/storage/sealer/proofpaths"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

// Epoch is one compatibility generation of the sealing protocol.
type Epoch struct {
	PoRepID    porep.ID
	APIVersion porep.APIVersion
}

func (e Epoch) String() string {
	return "v" + e.APIVersion.String()
}

// DefaultEpochs are run in order by every worker.
var DefaultEpochs = []Epoch{
	{PoRepID: porep.ArbitraryPoRepIDV1_1_0, APIVersion: porep.APIVersion1_1_0},
	{PoRepID: porep.ArbitraryPoRepIDV1_0_0, APIVersion: porep.APIVersion1_0_0},
}

type HarnessOptions struct {
	SectorSize abi.SectorSize
	Epochs     []Epoch

	// StorageRoot is the parent of the per-run scratch directory.
	StorageRoot string

	// PanicReportDir, when set, receives a report for every worker that
	// panicked.
	PanicReportDir string

	Driver Options
}

type RunResult struct {
	Epoch Epoch
	Took  time.Duration
	Err   error
}

type WorkerResult struct {
	Worker int
	Runs   []RunResult
	Err    error
}

// Harness fans lifecycles out over independent workers. Workers share the
// proving backend and the scratch provider, nothing else.
type Harness struct {
	proofs storiface.Proofs
	opts   HarnessOptions

	RunID uuid.UUID
	fs    *basicfs.Provider
	stats *sealing.SectorStats
}

func NewHarness(proofs storiface.Proofs, opts HarnessOptions) (*Harness, error) {
	if opts.SectorSize == 0 {
		opts.SectorSize = porep.DefaultSectorSize
	}
	if _, err := porep.Partitions(opts.SectorSize); err != nil {
		return nil, err
	}
	if len(opts.Epochs) == 0 {
		opts.Epochs = DefaultEpochs
	}
	if opts.StorageRoot == "" {
		opts.StorageRoot = os.TempDir()
	}
	if opts.Driver.Out == nil {
		opts.Driver.Out = os.Stdout
	}

	runID := uuid.New()
	stats := opts.Driver.Pipeline.Stats
	if stats == nil {
		stats = sealing.NewSectorStats()
		opts.Driver.Pipeline.Stats = stats
	}

	return &Harness{
		proofs: proofs,
		opts:   opts,
		RunID:  runID,
		fs:     &basicfs.Provider{Root: filepath.Join(opts.StorageRoot, "seal-stress-"+runID.String())},
		stats:  stats,
	}, nil
}

// Root is the scratch directory of this run. It is removed when Run returns.
func (h *Harness) Root() string {
	return h.fs.Root
}

// Run starts threads workers, each running every epoch once, in order. It
// waits for all of them and reports results in spawn order. The returned
// error aggregates every failed worker; one worker failing never stops the
// others.
func (h *Harness) Run(ctx context.Context, threads int) ([]WorkerResult, error) {
	if threads < 1 {
		return nil, xerrors.Errorf("thread count must be positive, got %d", threads)
	}

	stresslog.SetupLogLevels()

	if err := os.MkdirAll(h.fs.Root, 0755); err != nil {
		return nil, xerrors.Errorf("creating run directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(h.fs.Root); err != nil {
			log.Warnw("removing run directory", "dir", h.fs.Root, "error", err)
		}
	}()

	h.preflight(threads)

	log.Infow("starting workers", "run", h.RunID, "threads", threads, "sectorSize", h.opts.SectorSize.ShortString(), "epochs", len(h.opts.Epochs), "skipProof", h.opts.Driver.SkipProof)

	results := make([]WorkerResult, threads)

	// workers report failures through their result, never through the group
	var eg errgroup.Group
	for i := range threads {
		eg.Go(func() error {
			results[i] = h.worker(ctx, i)
			return nil
		})
	}
	_ = eg.Wait()

	var merr *multierror.Error
	for _, r := range results {
		h.report(h.opts.Driver.Out, r)
		if r.Err == nil {
			continue
		}

		merr = multierror.Append(merr, xerrors.Errorf("worker %d: %w", r.Worker, r.Err))

		var pe *PanicError
		if h.opts.PanicReportDir != "" && errors.As(r.Err, &pe) {
			if _, err := build.GeneratePanicReport(h.opts.PanicReportDir, fmt.Sprintf("worker%d", r.Worker), pe.Stack); err != nil {
				log.Errorw("writing panic report", "worker", r.Worker, "error", err)
			}
		}
	}

	return results, merr.ErrorOrNil()
}

func (h *Harness) worker(ctx context.Context, idx int) (res WorkerResult) {
	res.Worker = idx

	defer func() {
		if r := recover(); r != nil {
			res.Err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	opts := h.opts.Driver
	if opts.Seed != 0 {
		opts.Seed = DeriveSeed(opts.Seed, uint64(idx))
	}
	opts.Out = &prefixWriter{prefix: fmt.Sprintf("[worker %d] ", idx), w: h.opts.Driver.Out}

	d, err := NewDriver(h.proofs, h.fs, opts)
	if err != nil {
		res.Err = err
		return res
	}

	for _, epoch := range h.opts.Epochs {
		start := time.Now()
		err := d.Run(ctx, h.opts.SectorSize, epoch.PoRepID, epoch.APIVersion)
		res.Runs = append(res.Runs, RunResult{Epoch: epoch, Took: time.Since(start), Err: err})

		if err != nil {
			log.Errorw("lifecycle failed", "worker", idx, "epoch", epoch.String(), "error", err)
			res.Err = xerrors.Errorf("epoch %s: %w", epoch, err)
			return res
		}
	}

	return res
}

func (h *Harness) report(out io.Writer, r WorkerResult) {
	var took time.Duration
	for _, run := range r.Runs {
		took += run.Took
	}

	if r.Err != nil {
		_, _ = color.New(color.FgRed).Fprintf(out, "worker %d: FAILED after %d/%d runs (%s): %s\n", r.Worker, len(r.Runs), len(h.opts.Epochs), took.Truncate(time.Millisecond), r.Err)
		return
	}

	_, _ = color.New(color.FgGreen).Fprintf(out, "worker %d: ok, %d runs in %s\n", r.Worker, len(r.Runs), took.Truncate(time.Millisecond))
}

// preflight logs the host and warns when the run is unlikely to fit on it.
func (h *Harness) preflight(threads int) {
	info, err := hostinfo.Probe()
	if err != nil {
		log.Warnw("probing host", "error", err)
	} else {
		log.Infow("host", "hostname", info.Hostname, "os", info.OS, "arch", info.Arch, "cpus", info.CPUs,
			"memory", humanize.IBytes(info.MemPhysical), "available", humanize.IBytes(info.MemAvailable()))

		if threads > info.CPUs {
			log.Warnw("more workers than cpus, phases will be time-sliced", "threads", threads, "cpus", info.CPUs)
		}
	}

	peak, err := proofpaths.PeakScratch(h.opts.SectorSize)
	if err != nil {
		return
	}
	need := uint64(peak) * uint64(threads)

	st, err := fsutil.Statfs(h.fs.Root)
	if err != nil {
		log.Warnw("checking storage space", "error", err)
		return
	}
	if uint64(st.Available) < need {
		log.Warnw("storage may run out of space", "dir", h.fs.Root, "need", humanize.IBytes(need), "available", humanize.IBytes(uint64(st.Available)))
	}
}

// prefixWriter tags each write with a worker prefix. Drivers print whole
// lines, so writes are line aligned.
type prefixWriter struct {
	prefix string
	w      io.Writer
}

var outLk sync.Mutex

func (p *prefixWriter) Write(b []byte) (int, error) {
	outLk.Lock()
	defer outLk.Unlock()

	if _, err := io.WriteString(p.w, p.prefix); err != nil {
		return 0, err
	}
	return p.w.Write(b)
}
