package shm

import (
	"fmt"
	"os"
	"time"

	"github.com/hupe1980/structstore/internal/conv"
	"github.com/hupe1980/structstore/internal/mmap"
)

// Info describes a segment without attaching to it.
type Info struct {
	Path        string
	Size        int // region bytes
	CreatorPID  int
	Cleanup     Cleanup
	Usage       int
	Ready       bool
	Invalidated bool
	CreatedAt   time.Time
}

// Inspect reads the header of the named segment. It does not change the
// usage count.
func Inspect(dir, name string) (Info, error) {
	path, err := Path(dir, name)
	if err != nil {
		return Info{}, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	if fi.Size() < HeaderSize {
		return Info{}, fmt.Errorf("%w: file of %d bytes", ErrCorrupt, fi.Size())
	}
	size, err := conv.Int(fi.Size())
	if err != nil {
		return Info{}, err
	}

	m, err := mmap.MapFile(f, HeaderSize, 0)
	if err != nil {
		return Info{}, err
	}
	defer m.Close()

	h := headerAt(m.Bytes())
	if err := h.validate(fi.Size()); err != nil {
		return Info{}, err
	}
	return Info{
		Path:        path,
		Size:        size - HeaderSize,
		CreatorPID:  int(h.creator),
		Cleanup:     Cleanup(h.cleanup),
		Usage:       int(h.usage.Load()),
		Ready:       h.ready.Load() != 0,
		Invalidated: h.invalidated.Load() != 0,
		CreatedAt:   time.Unix(0, h.createdAt),
	}, nil
}
