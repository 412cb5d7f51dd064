package basicfs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	p := &Provider{Root: filepath.Join(t.TempDir(), "root")}
	id := abi.SectorID{Miner: 1000, Number: 7}

	paths, done, err := p.AcquireSector(ctx, id, storiface.FTAll)
	require.NoError(t, err)
	require.Equal(t, id, paths.ID)
	require.True(t, p.InUse(id))

	st, err := os.Stat(paths.Cache)
	require.NoError(t, err)
	require.True(t, st.IsDir())

	dir := filepath.Dir(paths.Sealed)
	require.Equal(t, dir, filepath.Dir(paths.Unsealed))
	require.Contains(t, filepath.Base(dir), storiface.SectorName(id))

	f, err := p.ScratchFile(id, "unseal-*")
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(f.Name()))
	require.NoError(t, f.Close())

	_, _, err = p.AcquireSector(ctx, id, storiface.FTAll)
	require.True(t, xerrors.Is(err, ErrSectorInUse))

	done()
	done()

	require.False(t, p.InUse(id))
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	_, err = p.ScratchFile(id, "x")
	require.Error(t, err)

	_, done, err = p.AcquireSector(ctx, id, storiface.FTSealed)
	require.NoError(t, err)
	done()
}

func TestAcquireCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Provider{Root: t.TempDir()}
	_, _, err := p.AcquireSector(ctx, abi.SectorID{Miner: 1, Number: 1}, storiface.FTAll)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentSessionsIsolated(t *testing.T) {
	ctx := context.Background()
	p := &Provider{Root: t.TempDir()}

	const n = 16
	var (
		wg    sync.WaitGroup
		lk    sync.Mutex
		seen  = map[string]struct{}{}
		dones []func()
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			paths, done, err := p.AcquireSector(ctx, abi.SectorID{Miner: 1000, Number: abi.SectorNumber(i)}, storiface.FTAll)
			if !assert.NoError(t, err) {
				return
			}

			lk.Lock()
			defer lk.Unlock()
			for _, ft := range storiface.PathTypes {
				pp := storiface.PathByType(paths, ft)
				_, dup := seen[pp]
				assert.False(t, dup, pp)
				seen[pp] = struct{}{}
			}
			dones = append(dones, done)
		}(i)
	}
	wg.Wait()

	require.Len(t, seen, n*len(storiface.PathTypes))
	for _, done := range dones {
		done()
	}

	ents, err := os.ReadDir(p.Root)
	require.NoError(t, err)
	require.Empty(t, ents)
}
