package main

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/lifecycle"
)

func TestReporter(t *testing.T) {
	r := newReporter()

	for i := 1; i <= 20; i++ {
		r.Add(lifecycle.RunResult{
			Epoch: lifecycle.DefaultEpochs[i%2],
			Took:  time.Duration(i) * 100 * time.Millisecond,
		})
	}
	r.Add(lifecycle.RunResult{
		Epoch: lifecycle.DefaultEpochs[0],
		Took:  50 * time.Millisecond,
		Err:   xerrors.Errorf("epoch v1.1.0: %w", &lifecycle.AssertionError{Sector: abi.SectorID{Number: 3}, Check: lifecycle.CheckProof}),
	})
	r.Add(lifecycle.RunResult{
		Epoch: lifecycle.DefaultEpochs[1],
		Took:  time.Second,
		Err:   xerrors.New("disk full"),
	})

	var buf bytes.Buffer
	r.Print(time.Minute, &buf)
	out := buf.String()

	require.Contains(t, out, "- Total lifecycles: 22\n")
	require.Contains(t, out, "- Lifecycles/min: 22.00\n")
	require.Contains(t, out, "    [v1.1.0]: 11\n")
	require.Contains(t, out, "    [v1.0.0]: 11\n")
	require.Contains(t, out, "    [assertion: proof]: 1\n")
	require.Contains(t, out, "    [disk full]: 1\n")

	// every lifecycle lands in exactly one bucket
	hist := out[strings.Index(out, "- Histogram:"):strings.Index(out, "- Epochs:")]
	var counted int
	for _, l := range strings.Split(strings.TrimSpace(hist), "\n")[1:] {
		fields := strings.Split(l, "|")
		require.Len(t, fields, 3, l)
		cnt, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		require.NoError(t, err, l)
		counted += cnt
	}
	require.Equal(t, 22, counted)
}

func TestReporterEmpty(t *testing.T) {
	var buf bytes.Buffer
	newReporter().Print(time.Second, &buf)
	require.Equal(t, "No lifecycles were run\n", buf.String())
}

func TestReporterSameLatency(t *testing.T) {
	r := newReporter()
	for i := 0; i < 3; i++ {
		r.Add(lifecycle.RunResult{Epoch: lifecycle.DefaultEpochs[0], Took: time.Second})
	}

	var buf bytes.Buffer
	r.Print(time.Second, &buf)
	require.Contains(t, buf.String(), "- Median latency: 1000ms\n")
	require.NotContains(t, buf.String(), "Failures")
}
