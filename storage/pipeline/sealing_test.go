package sealing

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-commp-utils/v2/zerocomm"
	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/storage/pipeline/lib/nullreader"
	"github.com/filecoin-project/seal-stress/storage/pipeline/piece"
	"github.com/filecoin-project/seal-stress/storage/sealer/basicfs"
	"github.com/filecoin-project/seal-stress/storage/sealer/cachecheck"
	"github.com/filecoin-project/seal-stress/storage/sealer/mock"
	"github.com/filecoin-project/seal-stress/storage/sealer/porep"
	"github.com/filecoin-project/seal-stress/storage/sealer/proofpaths"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

func init() {
	_ = logging.SetLogLevel("*", "INFO")
}

var errInjected = xerrors.New("injected failure")

// recorder wraps a Proofs backend, recording every call in order and
// optionally failing one of them.
type recorder struct {
	storiface.Proofs

	lk     sync.Mutex
	calls  []string
	failAt string
	after  map[string]func(paths storiface.SectorPaths)

	verifyResult *bool
}

func (r *recorder) call(name string) error {
	r.lk.Lock()
	defer r.lk.Unlock()

	r.calls = append(r.calls, name)
	if name == r.failAt {
		return errInjected
	}
	return nil
}

func (r *recorder) hook(name string, paths storiface.SectorPaths) {
	if f, ok := r.after[name]; ok {
		f(paths)
	}
}

func (r *recorder) GeneratePieceCommitment(ctx context.Context, sector storiface.SectorRef, f *os.File, size abi.UnpaddedPieceSize) (abi.PieceInfo, error) {
	if err := r.call("GeneratePieceCommitment"); err != nil {
		return abi.PieceInfo{}, err
	}
	return r.Proofs.GeneratePieceCommitment(ctx, sector, f, size)
}

func (r *recorder) AddPiece(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, existing []abi.UnpaddedPieceSize, size abi.UnpaddedPieceSize, f *os.File) (abi.PieceInfo, error) {
	if err := r.call("AddPiece"); err != nil {
		return abi.PieceInfo{}, err
	}
	return r.Proofs.AddPiece(ctx, sector, paths, existing, size, f)
}

func (r *recorder) SealPreCommit1(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, ticket abi.SealRandomness, pieces []abi.PieceInfo) (storiface.PreCommit1Out, error) {
	if err := r.call("SealPreCommit1"); err != nil {
		return nil, err
	}
	out, err := r.Proofs.SealPreCommit1(ctx, sector, paths, ticket, pieces)
	r.hook("SealPreCommit1", paths)
	return out, err
}

func (r *recorder) ValidateCacheForPreCommit2(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, pc1o storiface.PreCommit1Out) error {
	if err := r.call("ValidateCacheForPreCommit2"); err != nil {
		return err
	}
	return r.Proofs.ValidateCacheForPreCommit2(ctx, sector, paths, pc1o)
}

func (r *recorder) SealPreCommit2(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, pc1o storiface.PreCommit1Out) (storiface.SectorCids, error) {
	if err := r.call("SealPreCommit2"); err != nil {
		return storiface.SectorCids{}, err
	}
	out, err := r.Proofs.SealPreCommit2(ctx, sector, paths, pc1o)
	r.hook("SealPreCommit2", paths)
	return out, err
}

func (r *recorder) ValidateCacheForCommit(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths) error {
	if err := r.call("ValidateCacheForCommit"); err != nil {
		return err
	}
	return r.Proofs.ValidateCacheForCommit(ctx, sector, paths)
}

func (r *recorder) SealCommit1(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, ticket abi.SealRandomness, seed abi.InteractiveSealRandomness, pieces []abi.PieceInfo, cids storiface.SectorCids) (storiface.Commit1Out, error) {
	if err := r.call("SealCommit1"); err != nil {
		return nil, err
	}
	return r.Proofs.SealCommit1(ctx, sector, paths, ticket, seed, pieces, cids)
}

func (r *recorder) ClearCache(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths) error {
	if err := r.call("ClearCache"); err != nil {
		return err
	}
	return r.Proofs.ClearCache(ctx, sector, paths)
}

func (r *recorder) SealCommit2(ctx context.Context, sector storiface.SectorRef, c1o storiface.Commit1Out) (storiface.Proof, error) {
	if err := r.call("SealCommit2"); err != nil {
		return nil, err
	}
	return r.Proofs.SealCommit2(ctx, sector, c1o)
}

func (r *recorder) UnsealRange(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, out *os.File, ticket abi.SealRandomness, commd cid.Cid, offset storiface.UnpaddedByteIndex, size abi.UnpaddedPieceSize) error {
	if err := r.call("UnsealRange"); err != nil {
		return err
	}
	return r.Proofs.UnsealRange(ctx, sector, paths, out, ticket, commd, offset, size)
}

func (r *recorder) VerifySeal(ctx context.Context, info storiface.SealVerifyInfo) (bool, error) {
	if err := r.call("VerifySeal"); err != nil {
		return false, err
	}
	if r.verifyResult != nil {
		return *r.verifyResult, nil
	}
	return r.Proofs.VerifySeal(ctx, info)
}

func (r *recorder) Calls() []string {
	r.lk.Lock()
	defer r.lk.Unlock()
	return append([]string(nil), r.calls...)
}

var (
	fullCalls = []string{
		"GeneratePieceCommitment", "AddPiece",
		"SealPreCommit1", "ValidateCacheForPreCommit2", "SealPreCommit2", "ValidateCacheForCommit",
		"SealCommit1", "ClearCache", "SealCommit2", "UnsealRange", "VerifySeal",
	}
	fullStates = []SectorState{
		Init, PieceCommitted, PreCommit1, PreCommit1Validated, PreCommit2, PreCommit2Validated,
		Commit1, CacheCleared, Commit2, Unsealed, Verified, Terminal,
	}

	skipCalls = []string{
		"GeneratePieceCommitment", "AddPiece",
		"SealPreCommit1", "ValidateCacheForPreCommit2", "SealPreCommit2", "ValidateCacheForCommit",
		"ClearCache",
	}
	skipStates = []SectorState{
		Init, PieceCommitted, PreCommit1, PreCommit1Validated, PreCommit2, PreCommit2Validated,
		ProofSkipped, CacheCleared, Terminal,
	}
)

type harness struct {
	root string
	fs   *basicfs.Provider
	rec  *recorder
	p    *Pipeline

	stats *SectorStats
	seen  []SectorState
	lk    sync.Mutex
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		root:  t.TempDir(),
		rec:   &recorder{Proofs: mock.New()},
		stats: NewSectorStats(),
	}
	h.fs = &basicfs.Provider{Root: filepath.Join(h.root, "sectors")}

	p, err := New(h.rec, h.fs, Options{
		Stats: h.stats,
		OnTransition: func(sector abi.SectorID, before, after SectorState) {
			h.lk.Lock()
			h.seen = append(h.seen, after)
			h.lk.Unlock()
		},
	})
	require.NoError(t, err)
	h.p = p

	return h
}

func (h *harness) session(t *testing.T, num abi.SectorNumber, skip bool) *Session {
	cfg, err := porep.NewConfig(2<<10, porep.ArbitraryPoRepIDV1_1_0, porep.APIVersion1_1_0)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(int64(num)))

	prover, err := storiface.NewProverID(rng)
	require.NoError(t, err)

	ticket := make(abi.SealRandomness, 32)
	_, _ = rng.Read(ticket)
	seed := make(abi.InteractiveSealRandomness, 32)
	_, _ = rng.Read(seed)

	return &Session{
		Sector: storiface.SectorRef{
			ID:       abi.SectorID{Miner: 1000, Number: num},
			ProverID: prover,
			Config:   cfg,
		},
		Ticket:    ticket,
		Seed:      seed,
		SkipProof: skip,
	}
}

func (h *harness) piece(t *testing.T, num abi.SectorNumber) *piece.Piece {
	pc, err := piece.Generate(h.root, 2<<10, rand.New(rand.NewSource(100+int64(num))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func historyStates(sess *Session) []SectorState {
	var out []SectorState
	for _, c := range sess.History {
		out = append(out, c.To)
	}
	return out
}

func requireReleased(t *testing.T, h *harness, sess *Session) {
	require.False(t, h.fs.InUse(sess.Sector.ID))
	_, err := os.Stat(filepath.Dir(sess.Paths.Cache))
	require.True(t, os.IsNotExist(err), "session dir still present: %v", err)
}

func TestSealFullLifecycle(t *testing.T) {
	h := newHarness(t)
	sess := h.session(t, 1, false)
	pc := h.piece(t, 1)

	res, err := h.p.Seal(context.Background(), sess, pc)
	require.NoError(t, err)

	require.Equal(t, fullCalls, h.rec.Calls())
	require.Equal(t, fullStates, historyStates(sess))
	require.Equal(t, fullStates, h.seen)
	require.Equal(t, Terminal, sess.State)

	require.True(t, res.Verified)
	require.Equal(t, pc.Raw[508:1016], res.Unsealed)
	require.True(t, res.CommR().Defined())
	require.Equal(t, sess.Cids.Unsealed, res.CommD())
	require.Len(t, res.Pieces, 1)
	require.NotEmpty(t, res.Proof)

	commD, err := h.rec.GenerateUnsealedCID(context.Background(), sess.Sector.Config, res.Pieces)
	require.NoError(t, err)
	require.Equal(t, commD, res.CommD())

	// the replica outlives Seal
	require.True(t, h.fs.InUse(sess.Sector.ID))
	_, err = os.Stat(res.Paths.Sealed)
	require.NoError(t, err)
	require.Equal(t, map[SectorState]int64{Terminal: 1}, h.stats.ByState())

	require.NoError(t, res.Close())
	requireReleased(t, h, sess)
	require.Empty(t, h.stats.ByState())
}

func TestSealSkipProof(t *testing.T) {
	h := newHarness(t)
	sess := h.session(t, 2, true)

	res, err := h.p.Seal(context.Background(), sess, h.piece(t, 2))
	require.NoError(t, err)
	defer res.Close() // nolint

	require.Equal(t, skipCalls, h.rec.Calls())
	require.Equal(t, skipStates, historyStates(sess))
	require.False(t, sess.Visited(Commit1))
	require.True(t, sess.Visited(ProofSkipped))

	require.Nil(t, res.Unsealed)
	require.Nil(t, res.Proof)
	require.False(t, res.Verified)
	require.True(t, res.CommR().Defined())

	// cache pruned but the replica data survives
	_, err = os.Stat(filepath.Join(res.Paths.Cache, proofpaths.TreeDFileName()))
	require.True(t, os.IsNotExist(err))
	require.NoError(t, cachecheck.Finalized(context.Background(), sess.Sector, res.Paths))
}

func TestSealFaultInjection(t *testing.T) {
	for i, failAt := range fullCalls {
		t.Run(failAt, func(t *testing.T) {
			h := newHarness(t)
			h.rec.failAt = failAt

			sess := h.session(t, abi.SectorNumber(10+i), false)
			res, err := h.p.Seal(context.Background(), sess, h.piece(t, 3))
			require.Nil(t, res)
			require.ErrorIs(t, err, errInjected)

			require.Equal(t, fullCalls[:i+1], h.rec.Calls())
			require.Equal(t, FailedUnrecoverable, sess.State)
			require.Equal(t, fullStates[:len(sess.History)-1], historyStates(sess)[:len(sess.History)-1])

			requireReleased(t, h, sess)
			require.Empty(t, h.stats.ByState())
		})
	}
}

func TestCorruptCacheStopsPreCommit2(t *testing.T) {
	h := newHarness(t)
	h.rec.after = map[string]func(storiface.SectorPaths){
		"SealPreCommit1": func(paths storiface.SectorPaths) {
			require.NoError(t, os.Truncate(filepath.Join(paths.Cache, proofpaths.TreeDFileName()), 32))
		},
	}

	sess := h.session(t, 4, false)
	_, err := h.p.Seal(context.Background(), sess, h.piece(t, 4))
	require.ErrorIs(t, err, cachecheck.ErrCacheInvalid)
	require.Contains(t, err.Error(), string(PreCommit1))

	require.NotContains(t, h.rec.Calls(), "SealPreCommit2")
	require.Equal(t, FailedUnrecoverable, sess.State)
}

func TestCorruptReplicaStopsCommit(t *testing.T) {
	h := newHarness(t)
	h.rec.after = map[string]func(storiface.SectorPaths){
		"SealPreCommit2": func(paths storiface.SectorPaths) {
			require.NoError(t, os.Remove(filepath.Join(paths.Cache, proofpaths.TAuxFile)))
		},
	}

	sess := h.session(t, 5, false)
	_, err := h.p.Seal(context.Background(), sess, h.piece(t, 5))
	require.ErrorIs(t, err, cachecheck.ErrCacheInvalid)

	require.NotContains(t, h.rec.Calls(), "SealCommit1")
}

func TestSealRejectsBadProof(t *testing.T) {
	h := newHarness(t)
	no := false
	h.rec.verifyResult = &no

	sess := h.session(t, 6, false)
	_, err := h.p.Seal(context.Background(), sess, h.piece(t, 6))
	require.ErrorIs(t, err, ErrProofInvalid)
	require.False(t, sess.Verified)
	require.Equal(t, FailedUnrecoverable, sess.State)
	requireReleased(t, h, sess)
}

func TestSealCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sess := h.session(t, 7, false)
	_, err := h.p.Seal(ctx, sess, h.piece(t, 7))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, h.rec.Calls())
}

func TestSessionSingleUse(t *testing.T) {
	h := newHarness(t)
	sess := h.session(t, 8, true)

	res, err := h.p.Seal(context.Background(), sess, h.piece(t, 8))
	require.NoError(t, err)
	require.NoError(t, res.Close())

	_, err = h.p.Seal(context.Background(), sess, h.piece(t, 8))
	require.ErrorIs(t, err, ErrSessionUsed)
}

func TestSectorNumberHeld(t *testing.T) {
	h := newHarness(t)

	res, err := h.p.Seal(context.Background(), h.session(t, 9, true), h.piece(t, 9))
	require.NoError(t, err)

	_, err = h.p.Seal(context.Background(), h.session(t, 9, true), h.piece(t, 9))
	require.ErrorIs(t, err, basicfs.ErrSectorInUse)

	require.NoError(t, res.Close())

	res, err = h.p.Seal(context.Background(), h.session(t, 9, true), h.piece(t, 9))
	require.NoError(t, err)
	require.NoError(t, res.Close())
}

func TestZeroPiece(t *testing.T) {
	h := newHarness(t)
	sess := h.session(t, 20, false)

	pc, err := piece.Generate(h.root, 2<<10, nullreader.Reader{})
	require.NoError(t, err)
	defer pc.Close() // nolint

	res, err := h.p.Seal(context.Background(), sess, pc)
	require.NoError(t, err)
	defer res.Close() // nolint

	require.Equal(t, zerocomm.ZeroPieceCommitment(pc.Size()), res.Pieces[0].PieceCID)
	require.Equal(t, make([]byte, 508), res.Unsealed)
}

func TestConcurrentSessions(t *testing.T) {
	h := newHarness(t)

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	sessions := make([]*Session, n)
	pieces := make([]*piece.Piece, n)

	for i := 0; i < n; i++ {
		sessions[i] = h.session(t, abi.SectorNumber(30+i), false)
		pieces[i] = h.piece(t, abi.SectorNumber(30+i))
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			res, err := h.p.Seal(context.Background(), sessions[i], pieces[i])
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Close() // nolint

			if string(res.Unsealed) != string(pieces[i].Raw[508:1016]) {
				errs[i] = xerrors.Errorf("sector %d: unsealed data mismatch", i)
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Empty(t, h.stats.ByState())
}

func TestUnsealRangeOptions(t *testing.T) {
	h := newHarness(t)

	p, err := New(h.rec, h.fs, Options{UnsealOffset: 0, UnsealSize: 2032})
	require.NoError(t, err)

	pc := h.piece(t, 40)
	res, err := p.Seal(context.Background(), h.session(t, 40, false), pc)
	require.NoError(t, err)
	defer res.Close() // nolint
	require.Equal(t, pc.Raw, res.Unsealed)

	_, err = New(h.rec, h.fs, Options{UnsealOffset: 100, UnsealSize: 508})
	require.Error(t, err)

	p, err = New(h.rec, h.fs, Options{})
	require.NoError(t, err)
	off, size := p.UnsealRange()
	require.Equal(t, DefaultUnsealOffset, off)
	require.Equal(t, DefaultUnsealSize, size)

	// an explicit offset survives a defaulted size
	p, err = New(h.rec, h.fs, Options{UnsealOffset: 1016})
	require.NoError(t, err)
	off, size = p.UnsealRange()
	require.Equal(t, storiface.UnpaddedByteIndex(1016), off)
	require.Equal(t, DefaultUnsealSize, size)

	pc = h.piece(t, 42)
	res, err = p.Seal(context.Background(), h.session(t, 42, false), pc)
	require.NoError(t, err)
	defer res.Close() // nolint
	require.Equal(t, pc.Raw[1016:1016+508], res.Unsealed)

	p, err = New(h.rec, h.fs, Options{UnsealOffset: 1905, UnsealSize: 508})
	require.NoError(t, err)
	_, err = p.Seal(context.Background(), h.session(t, 41, false), h.piece(t, 41))
	require.Error(t, err)
	require.False(t, h.fs.InUse(abi.SectorID{Miner: 1000, Number: 41}))
}

func TestTransitions(t *testing.T) {
	h := newHarness(t)

	for _, tc := range []struct {
		from, to SectorState
		skip     bool
		ok       bool
	}{
		{from: UndefinedSectorState, to: Init, ok: true},
		{from: UndefinedSectorState, to: PieceCommitted},
		{from: Init, to: PieceCommitted, ok: true},
		{from: Init, to: PreCommit1},
		{from: PreCommit1, to: PreCommit2},
		{from: PreCommit1, to: PreCommit1Validated, ok: true},
		{from: PreCommit2, to: Commit1},
		{from: PreCommit2Validated, to: Commit1, ok: true},
		{from: PreCommit2Validated, to: Commit1, skip: true},
		{from: PreCommit2Validated, to: ProofSkipped},
		{from: PreCommit2Validated, to: ProofSkipped, skip: true, ok: true},
		{from: CacheCleared, to: Terminal},
		{from: CacheCleared, to: Terminal, skip: true, ok: true},
		{from: CacheCleared, to: Commit2, ok: true},
		{from: CacheCleared, to: Commit2, skip: true},
		{from: Commit2, to: Verified},
		{from: Verified, to: Terminal, ok: true},
		{from: Commit1, to: FailedUnrecoverable, ok: true},
		{from: Terminal, to: FailedUnrecoverable},
		{from: FailedUnrecoverable, to: Init},
	} {
		sess := &Session{
			Sector:    storiface.SectorRef{ID: abi.SectorID{Miner: 1000, Number: 99}},
			SkipProof: tc.skip,
			State:     tc.from,
		}

		err := h.p.transition(context.Background(), sess, tc.to)
		if tc.ok {
			require.NoError(t, err, "%s -> %s (skip %t)", tc.from, tc.to, tc.skip)
			require.Equal(t, tc.to, sess.State)
			require.Len(t, sess.History, 1)
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s (skip %t)", tc.from, tc.to, tc.skip)
			require.Equal(t, tc.from, sess.State)
			require.Empty(t, sess.History)
		}
	}

	// every listed state other than the final ones has a planner
	for st := range ExistSectorStateList {
		_, ok := planners[st]
		require.Equal(t, !st.Final(), ok, st)
	}
}
