package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/seal-stress/build"
	"github.com/filecoin-project/seal-stress/storage/sealer/mock"
	"github.com/filecoin-project/seal-stress/storage/sealer/porep"
)

func newTestHarness(t *testing.T, f *faulty, opts HarnessOptions) (*Harness, *bytes.Buffer) {
	var out bytes.Buffer

	if f.Proofs == nil {
		f.Proofs = mock.New()
	}
	if opts.SectorSize == 0 {
		opts.SectorSize = 2 << 10
	}
	opts.StorageRoot = t.TempDir()
	opts.Driver.Out = &out

	h, err := NewHarness(f, opts)
	require.NoError(t, err)

	return h, &out
}

func TestHarnessIsolation(t *testing.T) {
	h, out := newTestHarness(t, &faulty{}, HarnessOptions{Driver: Options{Seed: 7}})

	results, err := h.Run(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, results, 4)

	for i, r := range results {
		require.Equal(t, i, r.Worker)
		require.NoError(t, r.Err)
		require.Len(t, r.Runs, len(DefaultEpochs))
		for j, run := range r.Runs {
			require.Equal(t, DefaultEpochs[j], run.Epoch)
			require.NoError(t, run.Err)
		}
	}

	// 2 verified lifecycles per worker, each line tagged with its worker
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, 8, strings.Count(out.String(), "proof verified"))
	for _, l := range lines {
		if strings.Contains(l, "proof verified") {
			require.True(t, strings.HasPrefix(l, "[worker "), l)
		}
	}

	// reported in spawn order
	last := -1
	for i := 0; i < 4; i++ {
		idx := strings.Index(out.String(), "worker "+string(rune('0'+i))+": ok")
		require.Greater(t, idx, last)
		last = idx
	}

	_, err = os.Stat(h.Root())
	require.True(t, os.IsNotExist(err))
	require.Empty(t, h.stats.ByState())
}

func TestHarnessFailureIsolated(t *testing.T) {
	h, out := newTestHarness(t, &faulty{rejectProofs: 1}, HarnessOptions{})

	results, err := h.Run(context.Background(), 3)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAssertion)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 1)

	var failed, ok int
	for _, r := range results {
		if r.Err != nil {
			failed++
			require.Len(t, r.Runs, 1)
			continue
		}
		ok++
		require.Len(t, r.Runs, 2)
	}
	require.Equal(t, 1, failed)
	require.Equal(t, 2, ok)
	require.Contains(t, out.String(), "FAILED")
}

func TestHarnessSkipProof(t *testing.T) {
	h, out := newTestHarness(t, &faulty{}, HarnessOptions{
		Epochs: DefaultEpochs[:1],
		Driver: Options{SkipProof: true},
	})

	results, err := h.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 2, strings.Count(out.String(), "proof skipped"))
	require.NotContains(t, out.String(), "proof verified")
}

func TestHarnessArgs(t *testing.T) {
	h, _ := newTestHarness(t, &faulty{}, HarnessOptions{})

	_, err := h.Run(context.Background(), 0)
	require.Error(t, err)
	_, err = h.Run(context.Background(), -2)
	require.Error(t, err)

	_, err = NewHarness(mock.New(), HarnessOptions{SectorSize: 3 << 10})
	require.ErrorIs(t, err, porep.ErrUnknownSectorSize)
}

func TestHarnessPanicReport(t *testing.T) {
	reports := t.TempDir()
	h, _ := newTestHarness(t, &faulty{panicPC1: true}, HarnessOptions{PanicReportDir: reports})

	results, err := h.Run(context.Background(), 2)
	require.Error(t, err)

	for _, r := range results {
		var pe *PanicError
		require.True(t, errors.As(r.Err, &pe))
	}

	ents, err := os.ReadDir(filepath.Join(reports, build.PanicReportingPath))
	require.NoError(t, err)
	require.Len(t, ents, 2)
}
