package nullreader

import (
	"io"

	"github.com/filecoin-project/go-state-types/abi"
)

// Reader is an endless source of zero bytes.
type Reader struct{}

func (Reader) Read(out []byte) (int, error) {
	clear(out)
	return len(out), nil
}

// New returns a reader of exactly size zero bytes.
func New(size abi.UnpaddedPieceSize) io.Reader {
	return io.LimitReader(Reader{}, int64(size))
}
