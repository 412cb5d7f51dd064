//go:build !ffi

package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/storage/sealer/mock"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

var backendFlags []cli.Flag

func newProofs(_ context.Context, _ *cli.Context, _ abi.SectorSize) (storiface.Proofs, error) {
	log.Warn("using the mock proving backend, build with -tags ffi for real proofs")
	return mock.New(), nil
}
