//go:build !linux

package hostinfo

import "golang.org/x/xerrors"

var errNoCgroups = xerrors.New("cgroups are only supported on linux")

func cgroupV1Mem() (memoryMax, memoryUsed, swapMax, swapUsed uint64, err error) {
	return 0, 0, 0, 0, errNoCgroups
}

func cgroupV2Mem() (memoryMax, memoryUsed, swapMax, swapUsed uint64, err error) {
	return 0, 0, 0, 0, errNoCgroups
}
