package sealing

import (
	"time"

	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

type StateChange struct {
	From SectorState
	To   SectorState
	At   time.Time
}

// Session is the per-sector record a Pipeline drives from Init to a final
// state. The caller fills the identifying fields; everything below State is
// owned by the pipeline.
type Session struct {
	Sector    storiface.SectorRef
	Ticket    abi.SealRandomness
	Seed      abi.InteractiveSealRandomness
	SkipProof bool

	State   SectorState
	History []StateChange

	Paths         storiface.SectorPaths
	Pieces        []abi.PieceInfo
	PreCommit1Out storiface.PreCommit1Out
	Cids          storiface.SectorCids
	Commit1Out    storiface.Commit1Out
	Proof         storiface.Proof
	UnsealedData  []byte
	Verified      bool
}

// Result is a sealed sector that is still on disk. Close releases the replica
// and cache directories.
type Result struct {
	Sector  abi.SectorID
	Paths   storiface.SectorPaths
	Cids    storiface.SectorCids
	Pieces  []abi.PieceInfo
	Proof   storiface.Proof
	History []StateChange

	// Unsealed holds the range read back from the replica, nil when the
	// proof was skipped.
	Unsealed []byte
	Verified bool

	release func()
}

func (r *Result) CommR() cid.Cid {
	return r.Cids.Sealed
}

func (r *Result) CommD() cid.Cid {
	return r.Cids.Unsealed
}

func (r *Result) Close() error {
	if r.release != nil {
		r.release()
	}
	return nil
}

// Visited reports whether the session passed through st.
func (s *Session) Visited(st SectorState) bool {
	for _, c := range s.History {
		if c.To == st {
			return true
		}
	}
	return false
}
