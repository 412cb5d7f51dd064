package porep

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
)

// ID is the 32 byte PoRep protocol tag mixed into replica ids and proofs.
type ID [32]byte

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

type APIVersion int

const (
	APIVersion1_0_0 APIVersion = iota
	APIVersion1_1_0
)

func (v APIVersion) String() string {
	switch v {
	case APIVersion1_0_0:
		return "1.0.0"
	case APIVersion1_1_0:
		return "1.1.0"
	default:
		return fmt.Sprintf("APIVersion(%d)", int(v))
	}
}

var (
	ArbitraryPoRepIDV1_0_0 = fill(127)
	ArbitraryPoRepIDV1_1_0 = fill(128)
)

func fill(b byte) (id ID) {
	for i := range id {
		id[i] = b
	}
	return id
}

var ErrUnknownSectorSize = xerrors.New("unknown sector size")

// partitions is read-only after package init, lookups need no locking.
var partitions = map[abi.SectorSize]uint8{
	2 << 10:   1,
	4 << 10:   1,
	16 << 10:  1,
	32 << 10:  1,
	8 << 20:   1,
	16 << 20:  1,
	512 << 20: 1,
	1 << 30:   1,
	32 << 30:  10,
	64 << 30:  10,
}

// DefaultSectorSize is the smallest size the harness runs by default.
const DefaultSectorSize = abi.SectorSize(32 << 10)

// Partitions returns the number of proof partitions for a sector size.
func Partitions(ssize abi.SectorSize) (uint8, error) {
	p, ok := partitions[ssize]
	if !ok {
		return 0, xerrors.Errorf("%d: %w", ssize, ErrUnknownSectorSize)
	}
	return p, nil
}

// SectorSizes lists every size in the partition table, unordered.
func SectorSizes() []abi.SectorSize {
	out := make([]abi.SectorSize, 0, len(partitions))
	for ss := range partitions {
		out = append(out, ss)
	}
	return out
}

type Config struct {
	SectorSize abi.SectorSize
	Partitions uint8
	PoRepID    ID
	APIVersion APIVersion
}

func NewConfig(ssize abi.SectorSize, id ID, version APIVersion) (Config, error) {
	p, err := Partitions(ssize)
	if err != nil {
		return Config{}, err
	}
	if version != APIVersion1_0_0 && version != APIVersion1_1_0 {
		return Config{}, xerrors.Errorf("unsupported api version %s", version)
	}

	return Config{
		SectorSize: ssize,
		Partitions: p,
		PoRepID:    id,
		APIVersion: version,
	}, nil
}

// UnpaddedCapacity is the number of raw bytes that fit in a sector.
func (c Config) UnpaddedCapacity() abi.UnpaddedPieceSize {
	return abi.PaddedPieceSize(c.SectorSize).Unpadded()
}

func (c Config) String() string {
	return fmt.Sprintf("%s/v%s/%d partitions", c.SectorSize.ShortString(), c.APIVersion, c.Partitions)
}

// RegisteredSealProof maps the config onto the proof types known to the proving
// parameters. Sizes without published parameters have no mapping.
func (c Config) RegisteredSealProof() (abi.RegisteredSealProof, error) {
	type key struct {
		ss abi.SectorSize
		v  APIVersion
	}

	spt, ok := map[key]abi.RegisteredSealProof{
		{2 << 10, APIVersion1_0_0}:   abi.RegisteredSealProof_StackedDrg2KiBV1,
		{8 << 20, APIVersion1_0_0}:   abi.RegisteredSealProof_StackedDrg8MiBV1,
		{512 << 20, APIVersion1_0_0}: abi.RegisteredSealProof_StackedDrg512MiBV1,
		{32 << 30, APIVersion1_0_0}:  abi.RegisteredSealProof_StackedDrg32GiBV1,
		{64 << 30, APIVersion1_0_0}:  abi.RegisteredSealProof_StackedDrg64GiBV1,
		{2 << 10, APIVersion1_1_0}:   abi.RegisteredSealProof_StackedDrg2KiBV1_1,
		{8 << 20, APIVersion1_1_0}:   abi.RegisteredSealProof_StackedDrg8MiBV1_1,
		{512 << 20, APIVersion1_1_0}: abi.RegisteredSealProof_StackedDrg512MiBV1_1,
		{32 << 30, APIVersion1_1_0}:  abi.RegisteredSealProof_StackedDrg32GiBV1_1,
		{64 << 30, APIVersion1_1_0}:  abi.RegisteredSealProof_StackedDrg64GiBV1_1,
	}[key{c.SectorSize, c.APIVersion}]
	if !ok {
		return 0, xerrors.Errorf("no registered seal proof for %s", c)
	}
	return spt, nil
}
