package sealing

type SectorState string

var ExistSectorStateList = map[SectorState]struct{}{
	Init:                {},
	PieceCommitted:      {},
	PreCommit1:          {},
	PreCommit1Validated: {},
	PreCommit2:          {},
	PreCommit2Validated: {},
	ProofSkipped:        {},
	Commit1:             {},
	CacheCleared:        {},
	Commit2:             {},
	Unsealed:            {},
	Verified:            {},
	Terminal:            {},
	FailedUnrecoverable: {},
}

// update toStatState in stats.go when adding new states
const (
	UndefinedSectorState SectorState = ""

	// happy path
	Init                SectorState = "Init"                // identifiers, randomness and scratch space allocated
	PieceCommitted      SectorState = "PieceCommitted"      // piece commitment computed and piece written to the staged sector
	PreCommit1          SectorState = "PreCommit1"          // labeling layers and tree-d built
	PreCommit1Validated SectorState = "PreCommit1Validated" // cache checked before PreCommit2
	PreCommit2          SectorState = "PreCommit2"          // replica and comm_r produced
	PreCommit2Validated SectorState = "PreCommit2Validated" // cache checked before commit
	ProofSkipped        SectorState = "ProofSkipped"        // no proof requested for this sector
	Commit1             SectorState = "Commit1"             // vanilla proofs computed
	CacheCleared        SectorState = "CacheCleared"        // layers and intermediate trees pruned
	Commit2             SectorState = "Commit2"             // final proof produced
	Unsealed            SectorState = "Unsealed"            // range read back out of the replica
	Verified            SectorState = "Verified"            // proof checked against the public inputs
	Terminal            SectorState = "Terminal"

	// error modes
	FailedUnrecoverable SectorState = "FailedUnrecoverable"
)

/*

             Init
              |
              v
        PieceCommitted
              |
              v
         PreCommit1 --> PreCommit1Validated --> PreCommit2 --> PreCommit2Validated
                                                                 |            |
                                                       (skip)    v            v
                                                       ProofSkipped        Commit1
                                                                 |            |
                                                                 v            v
                                                                 CacheCleared <
                                                                 |     |
                                                       (skip)    v     v
                                                           Terminal   Commit2 --> Unsealed --> Verified --> Terminal

	Any state other than Terminal may move to FailedUnrecoverable.
*/
var transitions = map[SectorState][]SectorState{
	Init:                {PieceCommitted},
	PieceCommitted:      {PreCommit1},
	PreCommit1:          {PreCommit1Validated},
	PreCommit1Validated: {PreCommit2},
	PreCommit2:          {PreCommit2Validated},
	PreCommit2Validated: {ProofSkipped, Commit1},
	ProofSkipped:        {CacheCleared},
	Commit1:             {CacheCleared},
	CacheCleared:        {Terminal, Commit2},
	Commit2:             {Unsealed},
	Unsealed:            {Verified},
	Verified:            {Terminal},
}

// CanTransition reports whether the state machine allows moving from st to
// next. Branch choices that depend on the session are checked separately.
func (st SectorState) CanTransition(next SectorState) bool {
	if next == FailedUnrecoverable {
		return !st.Final()
	}

	for _, s := range transitions[st] {
		if s == next {
			return true
		}
	}
	return false
}

// Final reports whether no further transitions are possible.
func (st SectorState) Final() bool {
	return st == Terminal || st == FailedUnrecoverable
}

// proofOnly are the states a sector sealed without a proof must never visit.
func proofOnly(st SectorState) bool {
	switch st {
	case Commit1, Commit2, Unsealed, Verified:
		return true
	default:
		return false
	}
}
