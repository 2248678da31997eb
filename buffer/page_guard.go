package buffer

import "sync/atomic"

// PageHandle is a scoped, ref-counted pin on one frame. On
// construction it has already acquired the pin and the frame's latch
// in the requested mode; the underlying byte slice stays at a stable
// address, and the frame cannot be evicted, until Release is called. A
// PageHandle must be released exactly once — it is meant to be used
// the way an RAII guard would be in a language with destructors, just
// with an explicit Release instead of one.
type PageHandle struct {
	m         *Manager
	f         *frame
	exclusive bool
	released  atomic.Bool
}

// Data returns the page's bytes: a slice of exactly the configured
// page size, valid for as long as the handle is held.
func (p *PageHandle) Data() []byte {
	if p.released.Load() {
		usageError("data() called on a released page handle")
	}
	return p.f.data
}

// MarkDirty sets the frame's dirty bit. It requires the handle to have
// been fixed in exclusive mode; calling it on a shared-mode handle is
// a usage error.
func (p *PageHandle) MarkDirty() {
	if p.released.Load() {
		usageError("mark_dirty() called on a released page handle")
	}
	if !p.exclusive {
		usageError("mark_dirty() called on a shared-mode handle for page %+v", p.f.pageID)
	}
	p.f.dirty = true
}

// Release releases the frame's latch and then decrements its pin
// count, requeueing the frame into the replacement policy if the pin
// count reaches zero. Releasing an already-released handle is a usage
// error.
func (p *PageHandle) Release() {
	if !p.released.CompareAndSwap(false, true) {
		usageError("page handle for page %+v released more than once", p.f.pageID)
	}
	p.m.releasePage(p.f, p.exclusive)
}
