package lifecycle

import (
	"errors"
	"fmt"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/storage/sealer/cachecheck"
)

var ErrAssertion = xerrors.New("lifecycle assertion failed")

// Post-condition kinds.
const (
	CheckUnsealBytes = "unseal-bytes"
	CheckCommD       = "comm-d"
	CheckCommR       = "comm-r"
	CheckProof       = "proof"
)

// AssertionError is a broken post-condition of a completed lifecycle. It
// points at a correctness regression in the proving backend, never at an
// environmental problem.
type AssertionError struct {
	Sector abi.SectorID
	Check  string
	Detail string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: sector %d: %s: %s", ErrAssertion, e.Sector.Number, e.Check, e.Detail)
}

func (e *AssertionError) Unwrap() error {
	return ErrAssertion
}

// PanicError is a worker panic turned into a value.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("lifecycle panicked: %v", e.Value)
}

// failureType buckets an error for the lifecycle outcome metric.
func failureType(err error) string {
	var pe *PanicError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return "panic"
	case errors.Is(err, ErrAssertion):
		return "assertion"
	case errors.Is(err, cachecheck.ErrCacheInvalid):
		return "cache"
	default:
		return "error"
	}
}
