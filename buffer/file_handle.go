package buffer

import (
	"io"
	"sync/atomic"
)

// FileHandle is a reference-counted handle to one open file. Opening
// the same path twice returns two FileHandles aliasing one shared
// fileState; the file-state outlives any individual handle and is
// closed only when the last handle drops.
type FileHandle struct {
	m      *Manager
	fs     *fileState
	closed atomic.Bool
}

// FileID returns this handle's file-id, stable for the handle's
// lifetime and dense across a fresh Manager.
func (h *FileHandle) FileID() int { return h.fs.fileID }

// FixPage is the central operation: locate or admit the frame for
// page-index, evicting if necessary, and return a pinned, latched
// PageHandle.
func (h *FileHandle) FixPage(index int64, exclusive bool) (*PageHandle, error) {
	if h.closed.Load() {
		usageError("fix_page(%d) on a closed file handle (file %d)", index, h.fs.fileID)
	}
	return h.m.fixPage(h.fs, index, exclusive)
}

// TryFixPage is the non-blocking counterpart to FixPage, meant for an
// operator-facing introspection command that would rather report "the
// pool is full" than sit blocked: instead of waiting for a frame to
// become evictable or for a concurrent loader of the same page to
// finish, it returns ErrBufferExhausted immediately.
func (h *FileHandle) TryFixPage(index int64, exclusive bool) (*PageHandle, error) {
	if h.closed.Load() {
		usageError("try_fix_page(%d) on a closed file handle (file %d)", index, h.fs.fileID)
	}
	return h.m.tryFixPage(h.fs, index, exclusive)
}

// Truncate resizes the underlying file. Frames resident beyond the new
// end-of-file are dropped, dirty or not; flushing before shrinking is
// the caller's responsibility. Extends are zero-filled by the
// file-ops layer on the next read.
func (h *FileHandle) Truncate(newSizeBytes int64) error {
	if h.closed.Load() {
		usageError("truncate(%d) on a closed file handle (file %d)", newSizeBytes, h.fs.fileID)
	}
	return h.m.truncateFile(h.fs, newSizeBytes)
}

// Flush writes back dirty frames belonging to this file only.
func (h *FileHandle) Flush() error {
	if h.closed.Load() {
		usageError("flush() on a closed file handle (file %d)", h.fs.fileID)
	}
	return h.m.flushFile(h.fs)
}

// Close releases this handle's reference to the shared file-state.
// When the last outstanding handle is closed, the file-state's
// resident frames are flushed and evicted and the underlying file-ops
// handle is closed. Close is idempotent. Go has no destructors, so
// Close is this handle's explicit counterpart to an implicit
// release-on-destruction.
func (h *FileHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.m.releaseFile(h.fs)
}

var _ io.Closer = (*FileHandle)(nil)
