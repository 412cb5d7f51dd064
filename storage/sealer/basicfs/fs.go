package basicfs

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

var log = logging.Logger("basicfs")

var ErrSectorInUse = xerrors.New("sector already in use")

// Provider hands out scratch space for sealing sessions under Root. Each
// acquired sector gets its own directory which is removed on release; a
// sector id can only be held by one session at a time.
type Provider struct {
	Root string

	lk     sync.Mutex
	active map[abi.SectorID]string
}

func (b *Provider) AcquireSector(ctx context.Context, id abi.SectorID, allocate storiface.SectorFileType) (storiface.SectorPaths, func(), error) {
	if err := ctx.Err(); err != nil {
		return storiface.SectorPaths{}, nil, err
	}

	if err := os.MkdirAll(b.Root, 0755); err != nil {
		return storiface.SectorPaths{}, nil, xerrors.Errorf("creating storage root: %w", err)
	}

	b.lk.Lock()
	if b.active == nil {
		b.active = map[abi.SectorID]string{}
	}
	if _, found := b.active[id]; found {
		b.lk.Unlock()
		return storiface.SectorPaths{}, nil, xerrors.Errorf("%s: %w", storiface.SectorName(id), ErrSectorInUse)
	}
	b.active[id] = ""
	b.lk.Unlock()

	dir, err := os.MkdirTemp(b.Root, storiface.SectorName(id)+"-")
	if err != nil {
		b.forget(id)
		return storiface.SectorPaths{}, nil, xerrors.Errorf("creating sector scratch dir: %w", err)
	}

	b.lk.Lock()
	b.active[id] = dir
	b.lk.Unlock()

	var once sync.Once
	done := func() {
		once.Do(func() {
			if err := os.RemoveAll(dir); err != nil {
				log.Errorw("removing sector scratch dir", "sector", id, "dir", dir, "error", err)
			}
			b.forget(id)
		})
	}

	out := storiface.SectorPaths{
		ID: id,
	}

	for _, fileType := range allocate.AllSet() {
		p := filepath.Join(dir, fileType.String())
		if fileType == storiface.FTCache {
			if err := os.Mkdir(p, 0755); err != nil {
				done()
				return storiface.SectorPaths{}, nil, xerrors.Errorf("creating cache dir: %w", err)
			}
		}

		storiface.SetPathByType(&out, fileType, p)
	}

	return out, done, nil
}

// ScratchFile creates an empty file in the session directory of an acquired
// sector. It goes away with the rest of the session.
func (b *Provider) ScratchFile(id abi.SectorID, pattern string) (*os.File, error) {
	b.lk.Lock()
	dir, ok := b.active[id]
	b.lk.Unlock()

	if !ok || dir == "" {
		return nil, xerrors.Errorf("sector %s not acquired", storiface.SectorName(id))
	}

	return os.CreateTemp(dir, pattern)
}

// InUse reports whether id is currently held by a session.
func (b *Provider) InUse(id abi.SectorID) bool {
	b.lk.Lock()
	defer b.lk.Unlock()

	_, ok := b.active[id]
	return ok
}

func (b *Provider) forget(id abi.SectorID) {
	b.lk.Lock()
	delete(b.active, id)
	b.lk.Unlock()
}
