package fr32

import (
	"io"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
)

const maxUnpadBuf = 1 << 20

type unpadReader struct {
	src io.Reader

	left    uint64
	work    []byte
	outBuf  []byte
	pending []byte
}

// NewUnpadReader reads sz padded bytes from src and returns them unpadded.
func NewUnpadReader(src io.Reader, sz abi.PaddedPieceSize) (io.Reader, error) {
	if err := sz.Validate(); err != nil {
		return nil, xerrors.Errorf("bad piece size: %w", err)
	}

	bufSize := uint64(sz)
	if bufSize > maxUnpadBuf {
		bufSize = maxUnpadBuf
	}

	return &unpadReader{
		src:    src,
		left:   uint64(sz),
		work:   make([]byte, bufSize),
		outBuf: make([]byte, bufSize/128*127),
	}, nil
}

func (r *unpadReader) Read(out []byte) (int, error) {
	if len(r.pending) == 0 {
		if r.left == 0 {
			return 0, io.EOF
		}

		n := uint64(len(r.work))
		if r.left < n {
			n = r.left
		}

		if _, err := io.ReadFull(r.src, r.work[:n]); err != nil {
			return 0, xerrors.Errorf("reading padded data: %w", err)
		}
		r.left -= n

		r.pending = r.outBuf[:n/128*127]
		Unpad(r.work[:n], r.pending)
	}

	c := copy(out, r.pending)
	r.pending = r.pending[c:]
	return c, nil
}

type padWriter struct {
	dst io.Writer

	stash []byte
	work  []byte
}

// NewPadWriter pads everything written to it into dst. Writes must add up to a
// multiple of 127 bytes before Close.
func NewPadWriter(dst io.Writer) io.WriteCloser {
	return &padWriter{dst: dst}
}

func (w *padWriter) Write(p []byte) (int, error) {
	in := p
	if len(w.stash) > 0 {
		in = append(w.stash, p...)
	}

	chunks := len(in) / 127
	if chunks == 0 {
		w.stash = in
		return len(p), nil
	}

	if cap(w.work) < chunks*128 {
		w.work = make([]byte, chunks*128)
	}
	out := w.work[:chunks*128]
	Pad(in[:chunks*127], out)

	if _, err := w.dst.Write(out); err != nil {
		return 0, err
	}

	w.stash = append([]byte(nil), in[chunks*127:]...)
	return len(p), nil
}

func (w *padWriter) Close() error {
	if len(w.stash) > 0 {
		return xerrors.Errorf("still have %d unprocessed bytes", len(w.stash))
	}
	return nil
}
