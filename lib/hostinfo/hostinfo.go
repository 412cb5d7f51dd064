package hostinfo

import (
	"runtime"

	"github.com/elastic/go-sysinfo"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("hostinfo")

type Info struct {
	Hostname string
	OS       string
	Arch     string
	CPUs     int

	MemPhysical uint64
	MemUsed     uint64
	MemSwap     uint64
	MemSwapUsed uint64
}

// MemAvailable is physical memory not in use, after cgroup limits.
func (i Info) MemAvailable() uint64 {
	if i.MemUsed > i.MemPhysical {
		return 0
	}
	return i.MemPhysical - i.MemUsed
}

// Probe describes the machine the process runs on. Memory figures honour
// cgroup limits when the process is confined by one.
func Probe() (Info, error) {
	h, err := sysinfo.Host()
	if err != nil {
		return Info{}, xerrors.Errorf("getting host info: %w", err)
	}

	hi := h.Info()
	out := Info{
		Hostname: hi.Hostname,
		Arch:     hi.Architecture,
		CPUs:     runtime.NumCPU(),
	}
	if hi.OS != nil {
		out.OS = hi.OS.Name + " " + hi.OS.Version
	}

	mem, err := h.Memory()
	if err != nil {
		return Info{}, xerrors.Errorf("getting memory info: %w", err)
	}
	out.MemPhysical = mem.Total
	// mem.Available is memory available without swapping
	out.MemUsed = mem.Total - mem.Available
	out.MemSwap = mem.VirtualTotal
	out.MemSwapUsed = mem.VirtualUsed

	for _, cg := range []func() (memMax, memUsed, swapMax, swapUsed uint64, err error){cgroupV1Mem, cgroupV2Mem} {
		cgMemMax, cgMemUsed, cgSwapMax, cgSwapUsed, err := cg()
		if err != nil {
			log.Debugw("no cgroup memory limits", "error", err)
			continue
		}
		if cgMemMax > 0 && cgMemMax < out.MemPhysical {
			out.MemPhysical = cgMemMax
			out.MemUsed = cgMemUsed
		}
		if cgSwapMax > 0 && cgSwapMax < out.MemSwap {
			out.MemSwap = cgSwapMax
			out.MemSwapUsed = cgSwapUsed
		}
	}

	return out, nil
}
