package storiface

import (
	"encoding/hex"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"golang.org/x/xerrors"
)

// ProverID is a canonical little-endian BLS12-381 scalar.
type ProverID [32]byte

func (p ProverID) String() string {
	return hex.EncodeToString(p[:])
}

// NewProverID draws a uniformly random field element from r.
func NewProverID(r io.Reader) (ProverID, error) {
	var wide [64]byte
	if _, err := io.ReadFull(r, wide[:]); err != nil {
		return ProverID{}, xerrors.Errorf("reading prover id entropy: %w", err)
	}

	var e fr.Element
	e.SetBytes(wide[:])

	return ProverIDFromElement(&e), nil
}

func ProverIDFromElement(e *fr.Element) ProverID {
	be := e.Bytes()

	var out ProverID
	for i := range be {
		out[i] = be[len(be)-1-i]
	}
	return out
}
