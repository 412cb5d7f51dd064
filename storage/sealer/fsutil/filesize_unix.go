//go:build !windows

package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/xerrors"
)

// FileSize returns the space used by a file or a directory tree. Sealing
// scratch files are often sparse, so OnDisk counts allocated blocks rather
// than file lengths.
func FileSize(path string) (SizeInfo, error) {
	start := time.Now()

	var si SizeInfo
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return xerrors.New("FileInfo.Sys of wrong type")
		}

		// stat.Blocks is in 512B units regardless of the fs block size
		si.OnDisk += int64(stat.Blocks) * 512 // nolint: unconvert
		si.Logical += info.Size()
		return nil
	})

	if took := time.Since(start); took >= 3*time.Second {
		log.Warnw("very slow file size check", "took", took, "path", path)
	}

	if err != nil {
		if os.IsNotExist(err) {
			return SizeInfo{}, os.ErrNotExist
		}
		return SizeInfo{}, xerrors.Errorf("walking %s: %w", path, err)
	}

	return si, nil
}
