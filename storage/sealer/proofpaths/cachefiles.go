package proofpaths

import (
	"fmt"

	"github.com/filecoin-project/go-state-types/abi"
)

var dataFilePrefix = "sc-02-data-"

const (
	PAuxFile = "p_aux"
	TAuxFile = "t_aux"
)

func LayerFileName(layer int) string {
	return fmt.Sprintf("%slayer-%d.dat", dataFilePrefix, layer)
}

func TreeDFileName() string {
	return dataFilePrefix + "tree-d.dat"
}

func TreeCFileName() string {
	return dataFilePrefix + "tree-c.dat"
}

func TreeRLastFileName() string {
	return dataFilePrefix + "tree-r-last.dat"
}

// SDRLayers returns the number of labeling layers used to seal a sector.
func SDRLayers(ssize abi.SectorSize) (int, error) {
	switch ssize {
	case 2 << 10, 4 << 10, 16 << 10, 32 << 10:
		return 2, nil
	case 8<<20, 16<<20, 512<<20, 1<<30:
		return 2, nil
	case 32 << 30, 64 << 30:
		return 11, nil
	default:
		return 0, fmt.Errorf("unsupported sector size: %d", ssize)
	}
}

// TreeSize is the on-disk size of a binary tree file over a sector: every
// level, leaves included, down to the 32 byte root.
func TreeSize(ssize abi.SectorSize) int64 {
	return 2*int64(ssize) - 32
}

// PrunedFiles lists the cache files that are dropped once commit phase 1 is done.
func PrunedFiles(ssize abi.SectorSize) ([]string, error) {
	layers, err := SDRLayers(ssize)
	if err != nil {
		return nil, err
	}

	out := []string{TreeDFileName(), TreeCFileName()}
	for l := 1; l <= layers; l++ {
		out = append(out, LayerFileName(l))
	}
	return out, nil
}

// PeakScratch estimates the most disk space one sealing session holds at
// once: staged and sealed sectors, every layer, and the three trees.
func PeakScratch(ssize abi.SectorSize) (int64, error) {
	layers, err := SDRLayers(ssize)
	if err != nil {
		return 0, err
	}

	return int64(2+layers)*int64(ssize) + 3*TreeSize(ssize), nil
}
