package fsutil

import (
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("fsutil")

type FsStat struct {
	Capacity  int64
	Available int64 // available to the current user
}

type SizeInfo struct {
	OnDisk  int64 // allocated blocks
	Logical int64 // sum of file sizes
}
