//go:build ffi

package main

import (
	"context"
	"os"

	paramfetch "github.com/filecoin-project/go-paramfetch"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/lifecycle"
	"github.com/filecoin-project/seal-stress/storage/sealer/ffiwrapper"
	"github.com/filecoin-project/seal-stress/storage/sealer/porep"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

var backendFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "params-json",
		Usage:    "proof parameter manifest (parameters.json)",
		EnvVars:  []string{"SEAL_STRESS_PARAMS_JSON"},
		Required: true,
	},
	&cli.StringFlag{
		Name:     "srs-json",
		Usage:    "SRS manifest (srs-inclusion.json)",
		EnvVars:  []string{"SEAL_STRESS_SRS_JSON"},
		Required: true,
	},
}

func newProofs(ctx context.Context, cctx *cli.Context, ssize abi.SectorSize) (storiface.Proofs, error) {
	if err := checkProofTypes(ssize); err != nil {
		return nil, err
	}

	paramBytes, err := readManifest(cctx.String("params-json"))
	if err != nil {
		return nil, err
	}
	srsBytes, err := readManifest(cctx.String("srs-json"))
	if err != nil {
		return nil, err
	}

	if err := paramfetch.GetParams(ctx, paramBytes, srsBytes, uint64(ssize)); err != nil {
		return nil, xerrors.Errorf("getting params: %w", err)
	}

	return ffiwrapper.New(), nil
}

// checkProofTypes makes sure every epoch of the run has published proof
// parameters for ssize.
func checkProofTypes(ssize abi.SectorSize) error {
	for _, e := range lifecycle.DefaultEpochs {
		cfg := porep.Config{SectorSize: ssize, PoRepID: e.PoRepID, APIVersion: e.APIVersion}
		if _, err := cfg.RegisteredSealProof(); err != nil {
			return xerrors.Errorf("sector size %s is not supported by the ffi backend: %w", ssize.ShortString(), err)
		}
	}
	return nil
}

func readManifest(p string) ([]byte, error) {
	p, err := homedir.Expand(p)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, xerrors.Errorf("reading %s: %w", p, err)
	}
	return b, nil
}
