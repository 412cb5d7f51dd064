package commr

import (
	"math/big"

	ff "github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/triplewz/poseidon"
	"golang.org/x/xerrors"
)

// arity 2 plus the domain tag element
var cons, consErr = poseidon.GenPoseidonConstants[*ff.Element](3)

// CommR hashes the column commitment and the replica tree root into comm_r.
// Inputs and output are little-endian field elements.
func CommR(commC, commRLast [32]byte) ([32]byte, error) {
	// reverse commC and commRLast so that endianness is correct
	reverse(&commC)
	reverse(&commRLast)

	inputA := new(big.Int).SetBytes(commC[:])
	inputB := new(big.Int).SetBytes(commRLast[:])

	if consErr != nil {
		return [32]byte{}, xerrors.Errorf("generating poseidon constants: %w", consErr)
	}

	h, err := poseidon.Hash([]*big.Int{inputA, inputB}, cons, poseidon.OptimizedStatic)
	if err != nil {
		return [32]byte{}, xerrors.Errorf("poseidon hash: %w", err)
	}
	out := new(ff.Element).SetBigInt(h).Bytes()

	reverse(&out)
	return out, nil
}

func reverse(b *[32]byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
