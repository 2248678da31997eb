// Package buffer implements the paged file-system buffer manager: the
// frame table, the two-queue FIFO+LRU replacement policy, per-page
// reader/writer latches, dirty write-back, and the file-handle and
// page-id lifecycle across restarts. It mediates between
// random-access clients and a storage/diskio.FileOps backend that may
// be a real filesystem, an in-memory one, or anything else afero can
// wrap.
package buffer

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jobala/pagecache/storage/diskio"
)

// FrameSnapshot is a point-in-time, read-only view of one resident
// frame, used by introspection and tests.
type FrameSnapshot struct {
	FrameID  int
	PageID   PageID
	PinCount int
	Dirty    bool
	Resident bool
}

// Stats holds simple operating counters, purely observational: it does
// not gate or alter any buffer-manager behavior.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Writes    int64
}

// Manager is the top-level coordinator: the frame table, admission,
// eviction, flush, and file lifecycle. All public methods are safe
// for concurrent use.
type Manager struct {
	cfg     Config
	fileOps diskio.FileOps
	logger  Logger

	mu    sync.Mutex
	avail *sync.Cond

	frames   []*frame
	freeList []int
	table    map[PageID]*frame
	rep      *replacer

	registry *fileRegistry

	stats Stats
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger installs a structured logger; the default discards
// everything (buffer.NewNopLogger).
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New builds a Manager with page_capacity resident frames of
// page_size_bits size, backed by fileOps.
func New(fileOps diskio.FileOps, cfg Config, opts ...Option) *Manager {
	assertf(cfg.PageCapacity > 0, "page capacity must be positive, got %d", cfg.PageCapacity)
	assertf(cfg.PageSizeBits > 0, "page size bits must be positive, got %d", cfg.PageSizeBits)

	frames := make([]*frame, cfg.PageCapacity)
	free := make([]int, cfg.PageCapacity)
	for i := range frames {
		frames[i] = newFrame(i, cfg.PageSize())
		free[i] = i
	}

	m := &Manager{
		cfg:      cfg,
		fileOps:  fileOps,
		logger:   NewNopLogger(),
		frames:   frames,
		freeList: free,
		table:    make(map[PageID]*frame),
		rep:      newReplacer(),
		registry: newFileRegistry(),
	}
	m.avail = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpenFile returns a file handle for path. If the path is already
// open, the returned handle aliases the same file-state and its
// reference count is incremented. The file-id is assigned on first
// open and is the smallest free non-negative integer.
func (m *Manager) OpenFile(path string) (*FileHandle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("buffer: resolving path %q: %w", path, err)
	}

	m.mu.Lock()
	if fs, ok := m.registry.byPath[abs]; ok {
		fs.refCount++
		m.mu.Unlock()
		return &FileHandle{m: m, fs: fs}, nil
	}
	m.mu.Unlock()

	// Open and size the file without the directory mutex held: this is
	// blocking I/O and would otherwise serialize every unrelated fix
	// behind it.
	handle, err := m.fileOps.Open(abs)
	if err != nil {
		return nil, &IOError{Op: "open", PageID: PageID{FileID: -1}, Err: err}
	}

	sched := diskio.NewScheduler(handle)
	size, err := sched.Size()
	if err != nil {
		_ = sched.Close()
		return nil, &IOError{Op: "size", PageID: PageID{FileID: -1}, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Someone else may have opened the same path while we were doing
	// I/O outside the lock; if so, use their fileState and discard ours.
	if fs, ok := m.registry.byPath[abs]; ok {
		fs.refCount++
		_ = sched.Close()
		return &FileHandle{m: m, fs: fs}, nil
	}

	id := m.registry.allocID()
	fs := &fileState{
		path:          abs,
		fileID:        id,
		size:          size,
		sched:         sched,
		refCount:      1,
		residentPages: make(map[int64]struct{}),
	}
	m.registry.byPath[abs] = fs
	m.registry.byID[id] = fs

	m.logger.Infow("opened file", "path", abs, "file_id", id)
	return &FileHandle{m: m, fs: fs}, nil
}

// Flush writes back all dirty resident frames across all open files
// and returns once every write has completed.
func (m *Manager) Flush() error {
	m.mu.Lock()
	type dirtyPage struct {
		fr  *frame
		pid PageID
	}
	pending := make([]dirtyPage, 0)
	for pid, fr := range m.table {
		// dirty is written under the frame latch (MarkDirty, flushOne);
		// take it here too so this snapshot never observes a torn write.
		// state is written under the directory mutex (loadInto), which is
		// already held here. flushOne re-checks dirty under the latch before
		// writing, so a stale positive here just costs a wasted no-op.
		fr.mu.RLock()
		resident := fr.state == stateResident && fr.dirty
		fr.mu.RUnlock()
		if resident {
			pending = append(pending, dirtyPage{fr, pid})
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, d := range pending {
		if err := m.flushOne(d.fr, d.pid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetFrames returns a snapshot of every resident frame, for
// introspection and tests.
func (m *Manager) GetFrames() []FrameSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := make([]FrameSnapshot, 0, len(m.table))
	for pid, fr := range m.table {
		fr.mu.RLock()
		dirty := fr.dirty
		resident := fr.state == stateResident
		fr.mu.RUnlock()
		snaps = append(snaps, FrameSnapshot{
			FrameID:  fr.id,
			PageID:   pid,
			PinCount: fr.pinCount,
			Dirty:    dirty,
			Resident: resident,
		})
	}
	return snaps
}

// GetFIFOList returns the FIFO list's page-ids from head (next to be
// evicted) to tail.
func (m *Manager) GetFIFOList() []PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rep.fifoPageIDs()
}

// GetLRUList returns the LRU list's page-ids from head (least recently
// used) to tail (most recently used).
func (m *Manager) GetLRUList() []PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rep.lruPageIDs()
}

// Stats returns a snapshot of the operating counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// fixPage runs the full fix-page protocol: the directory phase
// (find-or-admit, under the directory mutex), the I/O phase (a cache
// miss's read, without the directory mutex), and returns a pinned,
// latched PageHandle.
func (m *Manager) fixPage(fs *fileState, index int64, exclusive bool) (*PageHandle, error) {
	return m.doFixPage(fs, index, exclusive, true)
}

// tryFixPage is the non-blocking counterpart to fixPage: instead of
// waiting for a frame to become evictable or for a concurrent loader
// to finish, it returns ErrBufferExhausted immediately.
func (m *Manager) tryFixPage(fs *fileState, index int64, exclusive bool) (*PageHandle, error) {
	return m.doFixPage(fs, index, exclusive, false)
}

func (m *Manager) doFixPage(fs *fileState, index int64, exclusive, blocking bool) (*PageHandle, error) {
	pid := PageID{FileID: fs.fileID, Index: index}

	fr, isLoader, err := m.acquireFrame(pid, blocking)
	if err != nil {
		return nil, err
	}

	if isLoader {
		if err := m.loadInto(fr, fs, pid, exclusive); err != nil {
			return nil, err
		}
	} else {
		// Bookkeeping under the directory mutex first, then the frame
		// latch, matching the mandated order. fr is pinned by
		// acquireFrame so it cannot be evicted out from under us between
		// the two.
		m.mu.Lock()
		m.stats.Hits++
		m.mu.Unlock()

		if exclusive {
			fr.mu.Lock()
		} else {
			fr.mu.RLock()
		}
	}

	return &PageHandle{m: m, f: fr, exclusive: exclusive}, nil
}

// acquireFrame runs the directory phase and, when eviction is
// required, the victim's write-back, taking the victim's frame latch
// while the directory mutex is still held — sound only because the
// victim has already been removed from the frame table and so is
// invisible to everyone else. It returns the frame to use and whether
// the caller must still perform the I/O phase (isLoader) because the
// frame did not already hold a resident page. When blocking is false,
// a wait that would otherwise block on a concurrent loader or on
// frame availability instead returns ErrBufferExhausted.
func (m *Manager) acquireFrame(pid PageID, blocking bool) (fr *frame, isLoader bool, err error) {
	m.mu.Lock()
	for {
		if existing, ok := m.table[pid]; ok {
			if existing.state == stateLoading {
				if !blocking {
					m.mu.Unlock()
					return nil, false, ErrBufferExhausted
				}
				// Someone else is loading this exact page; wait for
				// them to finish rather than issuing a second read.
				m.avail.Wait()
				continue
			}
			existing.pin()
			existing.accessCount++
			m.rep.remove(existing)
			m.mu.Unlock()
			return existing, false, nil
		}

		if len(m.freeList) > 0 {
			id := m.freeList[len(m.freeList)-1]
			m.freeList = m.freeList[:len(m.freeList)-1]
			fr := m.frames[id]
			fr.reset(pid)
			fr.pin()
			fr.accessCount = 1
			m.table[pid] = fr
			m.mu.Unlock()
			return fr, true, nil
		}

		victim := m.rep.victim()
		if victim == nil {
			if !blocking {
				m.mu.Unlock()
				return nil, false, ErrBufferExhausted
			}
			// All frames pinned: wait for a release or an admission.
			m.avail.Wait()
			continue
		}

		fr, err := m.evictAndReserve(victim, pid)
		if err != nil {
			m.mu.Unlock()
			return nil, false, err
		}
		m.mu.Unlock()
		return fr, true, nil
	}
}

// evictAndReserve implements victim acquisition with safe I/O: remove
// the victim from the table and its list under the directory mutex,
// latch it exclusively (sound only because it just
// became invisible to every other fixer), drop the directory mutex for
// the write-back, then reserve the frame under the new page-id. Called
// with the directory mutex held; returns with it still held.
func (m *Manager) evictAndReserve(victim *frame, pid PageID) (*frame, error) {
	delete(m.table, victim.pageID)
	if vfs, ok := m.registry.byID[victim.pageID.FileID]; ok {
		vfs.mu.Lock()
		delete(vfs.residentPages, victim.pageID.Index)
		vfs.mu.Unlock()
	}

	victim.mu.Lock()
	victimPageID := victim.pageID
	victimDirty := victim.dirty
	m.mu.Unlock()

	var writeErr error
	if victimDirty {
		writeErr = m.writeBack(victimPageID.FileID, victimPageID.Index, victim.data)
	}

	m.mu.Lock()
	if writeErr != nil {
		// Open question resolved: propagate the I/O error
		// to the fixer and leave the victim's dirty state intact,
		// re-inserted at the FIFO tail rather than losing the write.
		victim.mu.Unlock()
		m.table[victimPageID] = victim
		if vfs, ok := m.registry.byID[victimPageID.FileID]; ok {
			vfs.mu.Lock()
			vfs.residentPages[victimPageID.Index] = struct{}{}
			vfs.mu.Unlock()
		}
		victim.accessCount = 1
		m.rep.pushFIFOTail(victim)
		m.avail.Broadcast()
		return nil, &IOError{Op: "write-back", PageID: victimPageID, Err: writeErr}
	}

	victim.dirty = false
	victim.mu.Unlock()
	m.stats.Evictions++

	victim.reset(pid)
	victim.pin()
	victim.accessCount = 1
	m.table[pid] = victim
	return victim, nil
}

// loadInto runs the I/O phase for a newly reserved frame: read the
// page, or leave it zero-filled if the index is beyond the current
// end-of-file (reading past the end of a file is not an error), then
// transition the frame to resident and acquire its latch in the
// requested mode.
func (m *Manager) loadInto(fr *frame, fs *fileState, pid PageID, exclusive bool) error {
	data, err := m.readPage(fs, pid.Index)
	if err != nil {
		m.mu.Lock()
		delete(m.table, pid)
		m.freeList = append(m.freeList, fr.id)
		m.avail.Broadcast()
		m.mu.Unlock()
		return &IOError{Op: "read", PageID: pid, Err: err}
	}
	copy(fr.data, data)

	// Bookkeeping under the directory mutex first, then the frame latch,
	// matching the mandated order. fr is pinned by acquireFrame and
	// still marked stateLoading, so no one else can touch it until this
	// latch is taken.
	m.mu.Lock()
	fr.state = stateResident
	fs.mu.Lock()
	fs.residentPages[pid.Index] = struct{}{}
	fs.mu.Unlock()
	m.stats.Misses++
	m.avail.Broadcast()
	m.mu.Unlock()

	if exclusive {
		fr.mu.Lock()
	} else {
		fr.mu.RLock()
	}
	return nil
}

// readPage reads one page from fs, zero-filling anything beyond the
// file's current size.
func (m *Manager) readPage(fs *fileState, index int64) ([]byte, error) {
	pageSize := int64(m.cfg.PageSize())
	offset := index * pageSize

	fs.mu.Lock()
	size := fs.size
	fs.mu.Unlock()

	buf := make([]byte, pageSize)
	if offset >= size {
		return buf, nil
	}

	if _, err := fs.sched.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeBack persists one page's bytes to fileID's underlying file,
// extending the file first if the page lies beyond its current size.
func (m *Manager) writeBack(fileID int, index int64, data []byte) error {
	m.mu.Lock()
	fs, ok := m.registry.byID[fileID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("buffer: write-back: file %d is not open", fileID)
	}

	pageSize := int64(m.cfg.PageSize())
	offset := index * pageSize

	fs.mu.Lock()
	if end := offset + pageSize; end > fs.size {
		if err := fs.sched.Truncate(end); err != nil {
			fs.mu.Unlock()
			return err
		}
		fs.size = end
	}
	fs.mu.Unlock()

	if _, err := fs.sched.WriteAt(data, offset); err != nil {
		return err
	}

	m.mu.Lock()
	m.stats.Writes++
	m.mu.Unlock()
	return nil
}

// flushOne writes back fr's contents if it is still dirty and still
// resident under pid, then clears the dirty bit. Held exclusively for
// its whole duration, so it naturally serializes against any page
// handle currently latching the same frame.
func (m *Manager) flushOne(fr *frame, pid PageID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if fr.pageID != pid || fr.state != stateResident || !fr.dirty {
		return nil
	}

	if err := m.writeBack(pid.FileID, pid.Index, fr.data); err != nil {
		m.logger.Errorw("write-back failed", "page", pid, "error", err)
		return &IOError{Op: "flush", PageID: pid, Err: err}
	}
	fr.dirty = false
	m.logger.Debugw("flushed page", "page", pid)
	return nil
}

// flushFile writes back the dirty resident frames belonging to fs
// only.
func (m *Manager) flushFile(fs *fileState) error {
	fs.mu.Lock()
	indices := make([]int64, 0, len(fs.residentPages))
	for idx := range fs.residentPages {
		indices = append(indices, idx)
	}
	fs.mu.Unlock()

	var firstErr error
	for _, idx := range indices {
		pid := PageID{FileID: fs.fileID, Index: idx}
		m.mu.Lock()
		fr, ok := m.table[pid]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := m.flushOne(fr, pid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// truncateFile resizes fs's underlying file and drops every resident
// frame beyond the new end-of-file, dirty or not. A pinned frame
// beyond the new size is a caller error: flushing before shrinking is
// the caller's responsibility, and a live page handle into
// truncated-away data would be unsafe to keep resident.
func (m *Manager) truncateFile(fs *fileState, newSize int64) error {
	pageSize := int64(m.cfg.PageSize())
	newPageCount := (newSize + pageSize - 1) / pageSize

	m.mu.Lock()
	fs.mu.Lock()
	for index := range fs.residentPages {
		if index < newPageCount {
			continue
		}
		pid := PageID{FileID: fs.fileID, Index: index}
		fr, ok := m.table[pid]
		if !ok {
			continue
		}
		assertf(fr.pinCount == 0, "cannot truncate file %d: page %d is still pinned", fs.fileID, index)
		m.rep.remove(fr)
		delete(m.table, pid)
		delete(fs.residentPages, index)
		m.freeList = append(m.freeList, fr.id)
	}
	fs.size = newSize
	fs.mu.Unlock()
	m.avail.Broadcast()
	m.mu.Unlock()

	return fs.sched.Truncate(newSize)
}

// releasePage releases fr's latch, decrements its pin count, and
// requeues it into the replacement policy if the pin count reaches
// zero.
func (m *Manager) releasePage(fr *frame, exclusive bool) {
	if exclusive {
		fr.mu.Unlock()
	} else {
		fr.mu.RUnlock()
	}

	m.mu.Lock()
	fr.unpin()
	assertf(fr.pinCount >= 0, "pin count went negative for page %+v", fr.pageID)
	if fr.pinCount == 0 {
		m.rep.requeue(fr)
		m.avail.Broadcast()
	}
	m.mu.Unlock()
}

// releaseFile drops fs's reference count; when it reaches zero the
// file-state is flushed, its resident frames evicted, and the
// underlying file-ops handle closed, and its file-id is returned to
// the registry's free list.
func (m *Manager) releaseFile(fs *fileState) error {
	m.mu.Lock()
	fs.refCount--
	remaining := fs.refCount
	m.mu.Unlock()

	if remaining > 0 {
		return nil
	}

	if err := m.flushFile(fs); err != nil {
		return err
	}

	m.mu.Lock()
	fs.mu.Lock()
	for idx := range fs.residentPages {
		pid := PageID{FileID: fs.fileID, Index: idx}
		if fr, ok := m.table[pid]; ok {
			assertf(fr.pinCount == 0, "closing file %d with page %d still pinned", fs.fileID, idx)
			m.rep.remove(fr)
			delete(m.table, pid)
			m.freeList = append(m.freeList, fr.id)
		}
	}
	fs.mu.Unlock()

	delete(m.registry.byPath, fs.path)
	delete(m.registry.byID, fs.fileID)
	m.registry.releaseID(fs.fileID)
	m.avail.Broadcast()
	m.mu.Unlock()

	if err := fs.sched.Close(); err != nil {
		return fmt.Errorf("buffer: closing file %d: %w", fs.fileID, err)
	}
	m.logger.Infow("closed file", "path", fs.path, "file_id", fs.fileID)
	return nil
}
