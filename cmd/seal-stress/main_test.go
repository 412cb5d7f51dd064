//go:build !ffi

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()

	out, err := runApp(t, "-t", "2", "--sector-size", "2KiB", "--storage-dir", dir, "--seed", "3")
	require.NoError(t, err, out)

	require.Contains(t, out, "worker 0: ok, 2 runs")
	require.Contains(t, out, "worker 1: ok, 2 runs")
	require.Equal(t, 4, strings.Count(out, "proof verified"))
	require.Contains(t, out, "- Total lifecycles: 4\n")

	// the run directory is gone, the storage dir stays
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, ents)
}

func TestRunSkipProof(t *testing.T) {
	out, err := runApp(t, "--sector-size", "2KiB", "--storage-dir", t.TempDir(), "--skip-proof", "--unseal-offset", "0")
	require.NoError(t, err, out)
	require.Equal(t, 2, strings.Count(out, "proof skipped"))
}

func TestRunBadArgs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")

	for _, args := range [][]string{
		{"-t", "0"},
		{"-t", "-3"},
		{"-t", "many"},
		{"--sector-size", "3KiB"},
		{"--sector-size", "lots"},
		{"--miner", "f3yaksmakk"},
		{"--miner", "t1abjxfbp274xpdqcpuaykwkfb43omjotacm2p3za"},
	} {
		_, err := runApp(t, append(args, "--storage-dir", dir)...)
		require.Error(t, err, args)
	}

	// nothing ran, nothing was created
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}
