package cachecheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/storage/sealer/proofpaths"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

var log = logging.Logger("cachecheck")

var ErrCacheInvalid = xerrors.New("sector cache invalid")

type Error struct {
	Sector abi.SectorID
	File   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: sector %d: %s: %s", ErrCacheInvalid, e.Sector.Number, filepath.Base(e.File), e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrCacheInvalid
}

// PreCommit2 checks what phase 2 reads: the staged sector, every label layer
// and tree-d.
func PreCommit2(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths) error {
	ssize := sector.Config.SectorSize

	layers, err := proofpaths.SDRLayers(ssize)
	if err != nil {
		return err
	}

	toCheck := map[string]int64{
		paths.Unsealed: int64(ssize),
		filepath.Join(paths.Cache, proofpaths.TreeDFileName()): proofpaths.TreeSize(ssize),
	}
	for l := 1; l <= layers; l++ {
		toCheck[filepath.Join(paths.Cache, proofpaths.LayerFileName(l))] = int64(ssize)
	}

	return check(ctx, sector, toCheck)
}

// Commit checks what commit phase 1 reads on top of the phase 2 outputs.
func Commit(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths) error {
	ssize := sector.Config.SectorSize

	toCheck := map[string]int64{
		paths.Sealed: int64(ssize),
		filepath.Join(paths.Cache, proofpaths.PAuxFile):            64,
		filepath.Join(paths.Cache, proofpaths.TAuxFile):            0,
		filepath.Join(paths.Cache, proofpaths.TreeRLastFileName()): proofpaths.TreeSize(ssize),
		filepath.Join(paths.Cache, proofpaths.TreeCFileName()):     proofpaths.TreeSize(ssize),
	}

	return check(ctx, sector, toCheck)
}

// Finalized checks what must survive cache clearing to unseal or prove the
// sector later.
func Finalized(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths) error {
	ssize := sector.Config.SectorSize

	toCheck := map[string]int64{
		paths.Sealed: int64(ssize),
		filepath.Join(paths.Cache, proofpaths.PAuxFile):            64,
		filepath.Join(paths.Cache, proofpaths.TreeRLastFileName()): proofpaths.TreeSize(ssize),
	}

	return check(ctx, sector, toCheck)
}

// Replica only requires the sealed sector and the aux files, for cache
// layouts whose tree files are not plain binary trees.
func Replica(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths) error {
	toCheck := map[string]int64{
		paths.Sealed: int64(sector.Config.SectorSize),
		filepath.Join(paths.Cache, proofpaths.PAuxFile): 0,
		filepath.Join(paths.Cache, proofpaths.TAuxFile): 0,
	}

	return check(ctx, sector, toCheck)
}

// check stats every file; a zero size only requires the file to exist.
func check(ctx context.Context, sector storiface.SectorRef, toCheck map[string]int64) error {
	for p, sz := range toCheck {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p == "" {
			return &Error{Sector: sector.ID, File: "<unset>", Reason: "path not set"}
		}

		st, err := os.Stat(p)
		if err != nil {
			log.Warnw("sector cache file stat error", "sector", sector.ID, "file", p, "err", err)
			return &Error{Sector: sector.ID, File: p, Reason: err.Error()}
		}

		if sz != 0 && st.Size() != sz {
			log.Warnw("sector cache file is wrong size", "sector", sector.ID, "file", p, "size", st.Size(), "expectSize", sz)
			return &Error{Sector: sector.ID, File: p, Reason: fmt.Sprintf("wrong size (got %d, expect %d)", st.Size(), sz)}
		}
	}

	return nil
}
