// Package diskio implements the file-ops capability the buffer manager
// consumes: byte-addressed read/write/truncate/size/close against a
// named path. The capability is backed by afero.Fs so the same buffer
// manager code runs unmodified against a real POSIX filesystem, an
// in-memory virtual filesystem (used by the test suite), or any other
// afero backend a deployment cares to plug in.
package diskio

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

const osOpenFlags = os.O_CREATE | os.O_RDWR

// Handle is one open file. All methods are blocking; callers serialize
// access to a Handle themselves (the buffer manager does so through
// Scheduler).
type Handle interface {
	ReadAt(buf []byte, offset int64) (int, error)
	WriteAt(buf []byte, offset int64) (int, error)
	Truncate(size int64) error
	Size() (int64, error)
	Close() error
}

// FileOps is the abstract capability behind the buffer manager's frame
// table: open a path, get back a blocking byte-addressed Handle.
type FileOps interface {
	Open(path string) (Handle, error)
}

// AferoFileOps is the only FileOps implementation: it opens paths
// against an arbitrary afero.Fs, so swapping the backing store (real
// disk vs in-memory vs anything else afero wraps) never touches the
// buffer manager.
type AferoFileOps struct {
	fs afero.Fs
}

// NewAferoFileOps builds a FileOps backed by fs. Use afero.NewOsFs()
// for a real POSIX filesystem or afero.NewMemMapFs() for an in-memory
// one.
func NewAferoFileOps(fs afero.Fs) *AferoFileOps {
	return &AferoFileOps{fs: fs}
}

func (a *AferoFileOps) Open(path string) (Handle, error) {
	f, err := a.fs.OpenFile(path, osOpenFlags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskio: opening %q: %w", path, err)
	}
	return &aferoHandle{f: f}, nil
}

type aferoHandle struct {
	f afero.File
}

func (h *aferoHandle) ReadAt(buf []byte, offset int64) (int, error) {
	n, err := h.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, err
	}
	return n, nil
}

func (h *aferoHandle) WriteAt(buf []byte, offset int64) (int, error) {
	return h.f.WriteAt(buf, offset)
}

func (h *aferoHandle) Truncate(size int64) error {
	return h.f.Truncate(size)
}

func (h *aferoHandle) Size() (int64, error) {
	info, err := h.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (h *aferoHandle) Close() error {
	return h.f.Close()
}
