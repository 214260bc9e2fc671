package fs

import (
	"sync"

	"riscvkern/internal/defs"
)

// Socket is the in-memory byte-queue socket spec.md §1 and §3 describe
// ("sockets are in-memory byte queues only" — no real networking).
// FD numbers ≥50 are reserved for sockets by the FD table (spec.md §3).
type Socket struct {
	mu   sync.Mutex
	data []byte
}

func NewSocket() *Socket { return &Socket{} }

func (s *Socket) Readable() bool { return true }
func (s *Socket) Writable() bool { return true }
func (s *Socket) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.data))
}
func (s *Socket) Reopen() defs.Err_t { return 0 }
func (s *Socket) Close() defs.Err_t  { return 0 }

func (s *Socket) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(buf, s.data)
	s.data = s.data[n:]
	return n, 0
}

func (s *Socket) WriteAt(buf []byte, off int64) (int, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, buf...)
	return len(buf), 0
}
