//go:build !windows

package fsutil

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

func Statfs(path string) (FsStat, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return FsStat{}, xerrors.Errorf("statfs %s: %w", path, err)
	}

	// force int64 to handle platform specific differences
	//nolint:unconvert
	return FsStat{
		Capacity:  int64(stat.Blocks) * int64(stat.Bsize),
		Available: int64(stat.Bavail) * int64(stat.Bsize),
	}, nil
}
