//go:build linux

package hostinfo

import (
	"bufio"
	"bytes"
	"math"
	"os"
	"path/filepath"

	"github.com/containerd/cgroups"
	cgroupv2 "github.com/containerd/cgroups/v2"
)

func cgroupV2MountPoint() (string, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := bytes.Fields(scanner.Bytes())
		if len(fields) >= 9 && bytes.Equal(fields[8], []byte("cgroup2")) {
			return string(fields[4]), nil
		}
	}
	return "", cgroups.ErrMountPointNotExist
}

func cgroupV1Mem() (memoryMax, memoryUsed, swapMax, swapUsed uint64, err error) {
	path := cgroups.NestedPath("")
	if os.Getpid() == 1 {
		path = cgroups.RootPath
	}

	c, err := cgroups.Load(cgroups.SingleSubsystem(cgroups.V1, cgroups.Memory), path)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	st, err := c.Stat(cgroups.IgnoreNotExist)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if st.Memory == nil {
		return 0, 0, 0, 0, nil
	}

	if st.Memory.Usage != nil {
		memoryMax = st.Memory.Usage.Limit
		// page cache does not count against sealing
		memoryUsed = st.Memory.Usage.Usage - st.Memory.InactiveFile - st.Memory.ActiveFile
	}
	if st.Memory.Swap != nil {
		swapMax = st.Memory.Swap.Limit
		swapUsed = st.Memory.Swap.Usage
	}
	return memoryMax, memoryUsed, swapMax, swapUsed, nil
}

// cgroupV2Mem walks from the process group up to the root and keeps the
// tightest limits found on the way.
func cgroupV2Mem() (memoryMax, memoryUsed, swapMax, swapUsed uint64, err error) {
	memoryMax = math.MaxUint64
	swapMax = math.MaxUint64

	path, err := cgroupv2.PidGroupPath(os.Getpid())
	if err != nil {
		return 0, 0, 0, 0, err
	}

	mp, err := cgroupV2MountPoint()
	if err != nil {
		return 0, 0, 0, 0, err
	}

	for ; path != "/"; path = filepath.Dir(path) {
		m, err := cgroupv2.LoadManager(mp, path)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		st, err := m.Stat()
		if err != nil {
			return 0, 0, 0, 0, err
		}
		if st.Memory == nil {
			continue
		}

		if st.Memory.UsageLimit != 0 && st.Memory.UsageLimit < memoryMax {
			log.Debugw("memory limited by cgroup", "cgroup", path, "limit", st.Memory.UsageLimit)
			memoryMax = st.Memory.UsageLimit
			memoryUsed = st.Memory.Usage - st.Memory.File
		}
		if st.Memory.SwapLimit != 0 && st.Memory.SwapLimit < swapMax {
			log.Debugw("swap limited by cgroup", "cgroup", path, "limit", st.Memory.SwapLimit)
			swapMax = st.Memory.SwapLimit
			swapUsed = st.Memory.SwapUsage
		}
	}

	return memoryMax, memoryUsed, swapMax, swapUsed, nil
}
