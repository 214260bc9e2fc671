package fs

import (
	"sync"

	"riscvkern/internal/defs"
	"riscvkern/internal/limits"
)

// PipeCapacity is the simplification spec.md §3 and §9 name as a known
// bug: writes that would exceed this size evict the oldest bytes instead
// of blocking the writer like a real pipe. Preserved deliberately — do
// not silently fix it.
const PipeCapacity = 4096

// pipeBuf is the shared ring buffer backing one pipe, referenced by
// separate reader and writer wrappers (spec.md §3). Grounded on
// biscuit's Circbuf_t (biscuit/src/circbuf/circbuf.go): a fixed backing
// array plus monotonically increasing head/tail counters indexed modulo
// the capacity, rather than this kernel's earlier slice-append-and-trim
// stand-in. Unlike Circbuf_t — which refuses a write once Full() and
// leaves it to the caller to retry — a full pipe here evicts its oldest
// unread bytes to make room, matching spec.md's documented
// non-blocking-writer simplification.
type pipeBuf struct {
	mu     sync.Mutex
	data   [PipeCapacity]byte
	head   int // next index to write, counts monotonically
	tail   int // next index to read, counts monotonically
	closed int // Close calls not matched by a Reopen; the slot is given back at 2
}

func (cb *pipeBuf) used() int { return cb.head - cb.tail }

// NewPipe creates a connected (readEnd, writeEnd) pair, refusing to do
// so once limits.Syslimit.Pipes is exhausted (biscuit/src/limits.go's
// Pipes ceiling, adapted to this kernel's in-memory pipes).
func NewPipe() (*PipeReader, *PipeWriter, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, nil, defs.EAGAIN
	}
	pb := &pipeBuf{closed: 0}
	return &PipeReader{buf: pb}, &PipeWriter{buf: pb}, 0
}

// release gives back one unit of the pipe ceiling once both ends of a
// pipe have been closed.
func (cb *pipeBuf) release() {
	cb.mu.Lock()
	cb.closed++
	c := cb.closed
	cb.mu.Unlock()
	if c == 2 {
		limits.Syslimit.Pipes.Give()
	}
}

// PipeReader is the read end of a pipe.
type PipeReader struct{ buf *pipeBuf }

func (p *PipeReader) Readable() bool { return true }
func (p *PipeReader) Writable() bool { return false }
func (p *PipeReader) Size() int64 {
	p.buf.mu.Lock()
	defer p.buf.mu.Unlock()
	return int64(p.buf.used())
}
func (p *PipeReader) Reopen() defs.Err_t {
	p.buf.mu.Lock()
	p.buf.closed--
	p.buf.mu.Unlock()
	return 0
}
func (p *PipeReader) Close() defs.Err_t  { p.buf.release(); return 0 }

// ReadAt drains up to len(buf) bytes from the front of the ring buffer.
// Pipes have no notion of an absolute offset, so off is ignored beyond
// being present to satisfy FileOps — reads always consume from the
// current tail, matching the source's stream semantics.
func (p *PipeReader) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	cb := p.buf
	cb.mu.Lock()
	defer cb.mu.Unlock()
	n := len(buf)
	if avail := cb.used(); n > avail {
		n = avail
	}
	for i := 0; i < n; i++ {
		buf[i] = cb.data[(cb.tail+i)%PipeCapacity]
	}
	cb.tail += n
	return n, 0
}

func (p *PipeReader) WriteAt(buf []byte, off int64) (int, defs.Err_t) {
	return 0, defs.NotRWFile
}

// PipeWriter is the write end of a pipe.
type PipeWriter struct{ buf *pipeBuf }

func (p *PipeWriter) Readable() bool { return false }
func (p *PipeWriter) Writable() bool { return true }
func (p *PipeWriter) Size() int64 {
	p.buf.mu.Lock()
	defer p.buf.mu.Unlock()
	return int64(p.buf.used())
}
func (p *PipeWriter) Reopen() defs.Err_t {
	p.buf.mu.Lock()
	p.buf.closed--
	p.buf.mu.Unlock()
	return 0
}
func (p *PipeWriter) Close() defs.Err_t  { p.buf.release(); return 0 }

func (p *PipeWriter) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	return 0, defs.NotRWFile
}

// WriteAt copies buf into the ring buffer starting at head. If buf alone
// is longer than PipeCapacity, only its last PipeCapacity bytes are kept.
// Otherwise, if there isn't room for all of buf, the tail is advanced to
// evict just enough of the oldest unread bytes — the documented
// data-losing simplification from spec.md §3/§9, not a
// block-the-writer implementation.
func (p *PipeWriter) WriteAt(buf []byte, off int64) (int, defs.Err_t) {
	cb := p.buf
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if len(buf) > PipeCapacity {
		buf = buf[len(buf)-PipeCapacity:]
	}
	if room := PipeCapacity - cb.used(); room < len(buf) {
		cb.tail += len(buf) - room
	}
	for i, b := range buf {
		cb.data[(cb.head+i)%PipeCapacity] = b
	}
	cb.head += len(buf)
	return len(buf), 0
}
