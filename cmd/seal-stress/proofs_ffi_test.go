//go:build ffi

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"
)

func TestCheckProofTypes(t *testing.T) {
	require.NoError(t, checkProofTypes(2<<10))
	require.NoError(t, checkProofTypes(512<<20))

	// no published parameters for 32KiB
	require.Error(t, checkProofTypes(abi.SectorSize(32<<10)))
}

func TestRunRejectsUnprovableSize(t *testing.T) {
	dir := t.TempDir()

	// fails before the manifests are read or any parameter is fetched
	out, err := runApp(t, "--sector-size", "32KiB", "--storage-dir", dir,
		"--params-json", "/nonexistent/parameters.json", "--srs-json", "/nonexistent/srs-inclusion.json")
	require.Error(t, err, out)
	require.Contains(t, err.Error(), "not supported by the ffi backend")
}
