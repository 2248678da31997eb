package buffer

import (
	"sync"

	"github.com/jobala/pagecache/storage/diskio"
)

// fileState is per-file bookkeeping: path, file-id, current size, the
// scheduler serializing I/O against the underlying file-ops handle, a
// reference count of outstanding file handles, and the set of this
// file's page-ids currently resident (for fast flush and close). Size
// and the resident-page set are protected by mu, the file-state
// mutex; everything else here is only ever touched under the
// Manager's directory mutex.
type fileState struct {
	mu            sync.Mutex
	path          string
	fileID        int
	size          int64
	sched         *diskio.Scheduler
	refCount      int
	residentPages map[int64]struct{}
}

// fileRegistry maps path -> file-state and file-id -> file-state,
// handing out dense file-ids from a free-list plus a monotonic
// counter: the first opens of a fresh Manager get ids 0, 1, 2, ...
// and a closed file's id is recycled by the next open.
type fileRegistry struct {
	byPath map[string]*fileState
	byID   map[int]*fileState
	free   []int
	next   int
}

func newFileRegistry() *fileRegistry {
	return &fileRegistry{
		byPath: make(map[string]*fileState),
		byID:   make(map[int]*fileState),
	}
}

func (r *fileRegistry) allocID() int {
	if n := len(r.free); n > 0 {
		best := 0
		for i := 1; i < n; i++ {
			if r.free[i] < r.free[best] {
				best = i
			}
		}
		id := r.free[best]
		r.free[best] = r.free[n-1]
		r.free = r.free[:n-1]
		return id
	}
	id := r.next
	r.next++
	return id
}

func (r *fileRegistry) releaseID(id int) {
	r.free = append(r.free, id)
}
