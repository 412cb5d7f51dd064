package piece

import (
	"io"
	"os"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
)

// Piece is raw client data backed by a scratch file. Raw is a verbatim copy of
// the file contents.
type Piece struct {
	File *os.File
	Raw  []byte
}

func (p *Piece) Size() abi.UnpaddedPieceSize {
	return abi.UnpaddedPieceSize(len(p.Raw))
}

// Rewind positions the file back at the start of the piece.
func (p *Piece) Rewind() error {
	_, err := p.File.Seek(0, io.SeekStart)
	return err
}

// Close closes and removes the backing file.
func (p *Piece) Close() error {
	cerr := p.File.Close()
	if err := os.Remove(p.File.Name()); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("removing piece file: %w", err)
	}
	return cerr
}

// Generate fills the whole unpadded capacity of a sector with bytes read from
// rng and writes them to a new file in dir. The file is synced and rewound
// before it is returned; on any error nothing is left behind.
func Generate(dir string, ssize abi.SectorSize, rng io.Reader) (*Piece, error) {
	if err := abi.PaddedPieceSize(ssize).Validate(); err != nil {
		return nil, xerrors.Errorf("invalid sector size %d: %w", ssize, err)
	}

	raw := make([]byte, abi.PaddedPieceSize(ssize).Unpadded())
	if _, err := io.ReadFull(rng, raw); err != nil {
		return nil, xerrors.Errorf("reading piece data: %w", err)
	}

	f, err := os.CreateTemp(dir, "piece-*")
	if err != nil {
		return nil, xerrors.Errorf("creating piece file: %w", err)
	}

	p := &Piece{File: f, Raw: raw}
	if err := p.persist(); err != nil {
		_ = p.Close()
		return nil, err
	}

	return p, nil
}

func (p *Piece) persist() error {
	n, err := p.File.Write(p.Raw)
	if err != nil {
		return xerrors.Errorf("writing piece file: %w", err)
	}
	if n != len(p.Raw) {
		return xerrors.Errorf("short piece write: %d != %d", n, len(p.Raw))
	}
	if err := p.File.Sync(); err != nil {
		return xerrors.Errorf("syncing piece file: %w", err)
	}
	return p.Rewind()
}
