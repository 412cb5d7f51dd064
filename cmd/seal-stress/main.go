package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/dustin/go-humanize"
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/build"
	"github.com/filecoin-project/seal-stress/lib/stresslog"
	"github.com/filecoin-project/seal-stress/lib/tracing"
	"github.com/filecoin-project/seal-stress/lifecycle"
	"github.com/filecoin-project/seal-stress/metrics"
	sealing "github.com/filecoin-project/seal-stress/storage/pipeline"
	"github.com/filecoin-project/seal-stress/storage/sealer/porep"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

var log = logging.Logger("seal-stress")

func main() {
	stresslog.SetupLogLevels()

	if err := newApp().Run(os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "seal-stress",
		Usage:   "Run concurrent sector seal lifecycles and check every result",
		Version: build.UserVersion(),
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "num-threads",
				Aliases: []string{"t"},
				Value:   1,
				Usage:   "number of concurrent workers, each running one lifecycle per proof version",
				EnvVars: []string{"SEAL_STRESS_NUM_THREADS"},
			},
			&cli.StringFlag{
				Name:    "sector-size",
				Value:   units.BytesSize(float64(porep.DefaultSectorSize)),
				Usage:   "size of the sealed sectors, i.e. 2KiB or 32KiB",
				EnvVars: []string{"SEAL_STRESS_SECTOR_SIZE"},
			},
			&cli.StringFlag{
				Name:    "storage-dir",
				Value:   "~/.seal-stress",
				Usage:   "directory holding the scratch space of every sector",
				EnvVars: []string{"SEAL_STRESS_STORAGE_DIR"},
			},
			&cli.BoolFlag{
				Name:    "skip-proof",
				Usage:   "stop every lifecycle after the cache is cleared, without proving",
				EnvVars: []string{"SEAL_STRESS_SKIP_PROOF"},
			},
			&cli.Int64Flag{
				Name:    "seed",
				Usage:   "seed for identifiers and piece data, 0 picks a random one per lifecycle",
				EnvVars: []string{"SEAL_STRESS_SEED"},
			},
			&cli.StringFlag{
				Name:    "miner",
				Value:   "t01000",
				Usage:   "miner id address owning the sealed sectors",
				EnvVars: []string{"SEAL_STRESS_MINER"},
			},
			&cli.Uint64Flag{
				Name:  "unseal-offset",
				Value: uint64(sealing.DefaultUnsealOffset),
				Usage: "unpadded offset of the range read back after commit, multiple of 127",
			},
			&cli.Uint64Flag{
				Name:  "unseal-size",
				Value: uint64(sealing.DefaultUnsealSize),
				Usage: "length of the range read back after commit",
			},
			&cli.StringFlag{
				Name:    "metrics-listen",
				Usage:   "serve prometheus metrics on this address, i.e. 127.0.0.1:9100",
				EnvVars: []string{"SEAL_STRESS_METRICS_LISTEN"},
			},
			&cli.StringFlag{
				Name:  "panic-reports",
				Usage: "write a report here for every worker that panics",
			},
		}, backendFlags...),
		Action: run,
	}
}

func run(cctx *cli.Context) error {
	threads := cctx.Int("num-threads")
	if threads < 1 {
		return xerrors.Errorf("--num-threads must be at least 1, got %d", threads)
	}

	sectorSizeInt, err := units.RAMInBytes(cctx.String("sector-size"))
	if err != nil {
		return xerrors.Errorf("parsing sector size: %w", err)
	}
	sectorSize := abi.SectorSize(sectorSizeInt)
	if _, err := porep.Partitions(sectorSize); err != nil {
		return err
	}

	maddr, err := address.NewFromString(cctx.String("miner"))
	if err != nil {
		return xerrors.Errorf("parsing miner address: %w", err)
	}
	mid, err := address.IDFromAddress(maddr)
	if err != nil {
		return xerrors.Errorf("miner must be an id address: %w", err)
	}

	sdir, err := homedir.Expand(cctx.String("storage-dir"))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(sdir, 0775); err != nil {
		return xerrors.Errorf("creating storage dir: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing := tracing.SetupJaegerTracing("seal-stress")
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warnw("flushing traces", "error", err)
		}
	}()

	if addr := cctx.String("metrics-listen"); addr != "" {
		bound, err := metrics.Serve(ctx, addr)
		if err != nil {
			return err
		}
		log.Infow("serving metrics", "addr", bound)
	}

	proofs, err := newProofs(ctx, cctx, sectorSize)
	if err != nil {
		return xerrors.Errorf("setting up proofs: %w", err)
	}

	out := cctx.App.Writer

	h, err := lifecycle.NewHarness(proofs, lifecycle.HarnessOptions{
		SectorSize:     sectorSize,
		StorageRoot:    sdir,
		PanicReportDir: cctx.String("panic-reports"),
		Driver: lifecycle.Options{
			SkipProof: cctx.Bool("skip-proof"),
			Seed:      cctx.Int64("seed"),
			Miner:     abi.ActorID(mid),
			Out:       out,
			Pipeline: sealing.Options{
				UnsealOffset: storiface.UnpaddedByteIndex(cctx.Uint64("unseal-offset")),
				UnsealSize:   abi.UnpaddedPieceSize(cctx.Uint64("unseal-size")),
			},
		},
	})
	if err != nil {
		return err
	}

	log.Infow("starting run", "run", h.RunID, "version", build.UserVersion(), "sectorSize", humanize.IBytes(uint64(sectorSize)),
		"unpadded", humanize.IBytes(uint64(abi.PaddedPieceSize(sectorSize).Unpadded())), "threads", threads, "storage", sdir)

	start := time.Now()
	results, err := h.Run(ctx, threads)
	elapsed := time.Since(start)

	rep := newReporter()
	for _, wr := range results {
		for _, r := range wr.Runs {
			rep.Add(r)
		}
	}
	rep.Print(elapsed, out)

	if err != nil {
		return xerrors.Errorf("run %s failed: %w", h.RunID, err)
	}
	return nil
}
