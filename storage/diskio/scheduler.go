package diskio

import "fmt"

// req is one pending I/O operation against a Scheduler's file.
type req struct {
	kind   reqKind
	offset int64
	data   []byte
	size   int64
	respCh chan resp
}

type reqKind int

const (
	kindRead reqKind = iota
	kindWrite
	kindTruncate
	kindSize
)

type resp struct {
	n    int
	size int64
	err  error
}

// Scheduler serializes all I/O against one open Handle through a
// single worker goroutine reachable over a request channel. Its public
// methods are synchronous (send request, block for the response), so
// callers see plain blocking calls; internally, requests queue behind
// a channel the way petro's disk_scheduler queues page requests. This
// indirection is what lets a future backend (e.g. one that must hop to
// a network call per page) replace Handle without the buffer manager's
// locking protocol changing: the worker goroutine is the natural place
// to add batching, retries, or async fan-out later.
type Scheduler struct {
	handle Handle
	reqCh  chan req
	done   chan struct{}
}

// NewScheduler starts a worker goroutine serializing access to handle.
func NewScheduler(handle Handle) *Scheduler {
	s := &Scheduler{
		handle: handle,
		reqCh:  make(chan req, 64),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	for r := range s.reqCh {
		switch r.kind {
		case kindRead:
			n, err := s.handle.ReadAt(r.data, r.offset)
			r.respCh <- resp{n: n, err: err}
		case kindWrite:
			n, err := s.handle.WriteAt(r.data, r.offset)
			r.respCh <- resp{n: n, err: err}
		case kindTruncate:
			err := s.handle.Truncate(r.size)
			r.respCh <- resp{err: err}
		case kindSize:
			size, err := s.handle.Size()
			r.respCh <- resp{size: size, err: err}
		}
	}
	close(s.done)
}

// ReadAt blocks until the read against the underlying handle completes.
func (s *Scheduler) ReadAt(buf []byte, offset int64) (int, error) {
	respCh := make(chan resp, 1)
	s.reqCh <- req{kind: kindRead, offset: offset, data: buf, respCh: respCh}
	r := <-respCh
	return r.n, r.err
}

// WriteAt blocks until the write against the underlying handle completes.
func (s *Scheduler) WriteAt(buf []byte, offset int64) (int, error) {
	respCh := make(chan resp, 1)
	s.reqCh <- req{kind: kindWrite, offset: offset, data: buf, respCh: respCh}
	r := <-respCh
	return r.n, r.err
}

// Truncate blocks until the resize against the underlying handle completes.
func (s *Scheduler) Truncate(size int64) error {
	respCh := make(chan resp, 1)
	s.reqCh <- req{kind: kindTruncate, size: size, respCh: respCh}
	r := <-respCh
	return r.err
}

// Size blocks until the underlying handle reports its current size.
func (s *Scheduler) Size() (int64, error) {
	respCh := make(chan resp, 1)
	s.reqCh <- req{kind: kindSize, respCh: respCh}
	r := <-respCh
	return r.size, r.err
}

// Close stops the worker goroutine and closes the underlying handle.
// Close must not be called concurrently with in-flight requests.
func (s *Scheduler) Close() error {
	close(s.reqCh)
	<-s.done
	if err := s.handle.Close(); err != nil {
		return fmt.Errorf("diskio: closing handle: %w", err)
	}
	return nil
}
