package storiface

import (
	"fmt"

	"github.com/filecoin-project/go-state-types/abi"
)

// SectorFileType is a bitmask over the files a sealing session owns.
type SectorFileType int

const (
	FTUnsealed SectorFileType = 1 << iota
	FTSealed
	FTCache
)

var PathTypes = []SectorFileType{FTUnsealed, FTSealed, FTCache}

var FTAll = FTUnsealed | FTSealed | FTCache

var fileTypeNames = map[SectorFileType]string{
	FTUnsealed: "unsealed",
	FTSealed:   "sealed",
	FTCache:    "cache",
}

func (t SectorFileType) String() string {
	if n, ok := fileTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("<unknown %d>", t)
}

func (t SectorFileType) Has(single SectorFileType) bool {
	return t&single == single
}

// AllSet lists the single types in t, in PathTypes order.
func (t SectorFileType) AllSet() []SectorFileType {
	var out []SectorFileType
	for _, ft := range PathTypes {
		if t.Has(ft) {
			out = append(out, ft)
		}
	}
	return out
}

// SectorPaths are the scratch locations owned by one sealing session.
// Unsealed holds the staged (fr32 padded) sector data.
type SectorPaths struct {
	ID abi.SectorID

	Unsealed string
	Sealed   string
	Cache    string
}

func (sp *SectorPaths) field(ft SectorFileType) *string {
	switch ft {
	case FTUnsealed:
		return &sp.Unsealed
	case FTSealed:
		return &sp.Sealed
	case FTCache:
		return &sp.Cache
	}
	return nil
}

func SectorName(sid abi.SectorID) string {
	return fmt.Sprintf("s-t0%d-%d", sid.Miner, sid.Number)
}

// PathByType panics on anything but a single known type.
func PathByType(sps SectorPaths, ft SectorFileType) string {
	f := sps.field(ft)
	if f == nil {
		panic(fmt.Sprintf("requested unknown path type %s", ft))
	}
	return *f
}

func SetPathByType(sps *SectorPaths, ft SectorFileType, p string) {
	if f := sps.field(ft); f != nil {
		*f = p
	}
}
