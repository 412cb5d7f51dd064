package sealing

import (
	"context"
	"sync"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/metrics"
)

type statSectorState int

const (
	sstSealing statSectorState = iota
	sstProving
	sstDone
	sstFailed
	nsst
)

// SectorStats tracks how many sessions currently sit in each state. One
// instance is shared by every pipeline of a run.
type SectorStats struct {
	lk sync.Mutex

	bySector map[abi.SectorID]SectorState
	byState  map[SectorState]int64
	totals   [nsst]uint64
}

func NewSectorStats() *SectorStats {
	return &SectorStats{
		bySector: map[abi.SectorID]SectorState{},
		byState:  map[SectorState]int64{},
	}
}

func (ss *SectorStats) updateSector(ctx context.Context, id abi.SectorID, st SectorState) {
	ss.lk.Lock()
	defer ss.lk.Unlock()

	oldst, found := ss.bySector[id]
	if found {
		ss.totals[toStatState(oldst)]--
		ss.byState[oldst]--

		if ss.byState[oldst] <= 0 {
			delete(ss.byState, oldst)
		}

		mctx, _ := tag.New(ctx, tag.Upsert(metrics.SectorState, string(oldst)))
		stats.Record(mctx, metrics.SectorStates.M(ss.byState[oldst]))
	}

	ss.bySector[id] = st
	ss.totals[toStatState(st)]++
	ss.byState[st]++

	mctx, _ := tag.New(ctx, tag.Upsert(metrics.SectorState, string(st)))
	stats.Record(mctx, metrics.SectorStates.M(ss.byState[st]))

	log.Debugw("sector stats", "sealing", ss.totals[sstSealing], "proving", ss.totals[sstProving], "done", ss.totals[sstDone], "failed", ss.totals[sstFailed])
}

// forgetSector drops a sector whose session has been released. The sector
// number may be drawn again by a later session.
func (ss *SectorStats) forgetSector(ctx context.Context, id abi.SectorID) {
	ss.lk.Lock()
	defer ss.lk.Unlock()

	st, found := ss.bySector[id]
	if !found {
		return
	}

	delete(ss.bySector, id)
	ss.totals[toStatState(st)]--
	ss.byState[st]--
	if ss.byState[st] <= 0 {
		delete(ss.byState, st)
	}

	mctx, _ := tag.New(ctx, tag.Upsert(metrics.SectorState, string(st)))
	stats.Record(mctx, metrics.SectorStates.M(ss.byState[st]))
}

// ByState returns a snapshot of the number of tracked sectors per state.
func (ss *SectorStats) ByState() map[SectorState]int64 {
	ss.lk.Lock()
	defer ss.lk.Unlock()

	out := make(map[SectorState]int64, len(ss.byState))
	for st, n := range ss.byState {
		out[st] = n
	}
	return out
}

// CurSealing returns the number of sectors still being sealed or proven.
func (ss *SectorStats) CurSealing() uint64 {
	ss.lk.Lock()
	defer ss.lk.Unlock()

	return ss.totals[sstSealing] + ss.totals[sstProving]
}

func toStatState(st SectorState) statSectorState {
	switch st {
	case UndefinedSectorState, Init, PieceCommitted, PreCommit1, PreCommit1Validated, PreCommit2, PreCommit2Validated, ProofSkipped, CacheCleared:
		return sstSealing
	case Commit1, Commit2, Unsealed, Verified:
		return sstProving
	case Terminal:
		return sstDone
	}

	return sstFailed
}
