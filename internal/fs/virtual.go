package fs

import (
	"fmt"
	"sync"
	"time"

	"riscvkern/internal/defs"
)

// Console is implemented by whatever backs stdin/stdout (the SBI console
// in a real boot, an in-memory byte buffer in tests).
type Console interface {
	ReadByte() (byte, bool)
	WriteByte(b byte)
}

// Stdin wraps a Console for FD 0: readable only (spec.md §8 invariant).
type Stdin struct{ c Console }

func NewStdin(c Console) *Stdin { return &Stdin{c: c} }

func (s *Stdin) Readable() bool { return true }
func (s *Stdin) Writable() bool { return false }
func (s *Stdin) Size() int64    { return 0 }
func (s *Stdin) Reopen() defs.Err_t { return 0 }
func (s *Stdin) Close() defs.Err_t  { return 0 }
func (s *Stdin) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	n := 0
	for n < len(buf) {
		b, ok := s.c.ReadByte()
		if !ok {
			break
		}
		buf[n] = b
		n++
	}
	return n, 0
}
func (s *Stdin) WriteAt(buf []byte, off int64) (int, defs.Err_t) { return 0, defs.NotRWFile }

// Stdout/Stderr wrap a Console for FD 1/2: writeable only.
type Stdout struct{ c Console }

func NewStdout(c Console) *Stdout { return &Stdout{c: c} }

func (s *Stdout) Readable() bool { return false }
func (s *Stdout) Writable() bool { return true }
func (s *Stdout) Size() int64    { return 0 }
func (s *Stdout) Reopen() defs.Err_t { return 0 }
func (s *Stdout) Close() defs.Err_t  { return 0 }
func (s *Stdout) ReadAt(buf []byte, off int64) (int, defs.Err_t) { return 0, defs.NotRWFile }
func (s *Stdout) WriteAt(buf []byte, off int64) (int, defs.Err_t) {
	for _, b := range buf {
		s.c.WriteByte(b)
	}
	return len(buf), 0
}

type Stderr struct{ *Stdout }

func NewStderr(c Console) *Stderr { return &Stderr{Stdout: NewStdout(c)} }

// DevZero implements /dev/zero (spec.md §4.5 #56/57, §8 boundary:
// "reads fill the buffer with zero bytes").
type DevZero struct{}

func (DevZero) Readable() bool { return true }
func (DevZero) Writable() bool { return true }
func (DevZero) Size() int64    { return 0 }
func (DevZero) Reopen() defs.Err_t { return 0 }
func (DevZero) Close() defs.Err_t  { return 0 }
func (DevZero) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), 0
}
func (DevZero) WriteAt(buf []byte, off int64) (int, defs.Err_t) { return len(buf), 0 }

// DevNull implements /dev/null.
type DevNull struct{}

func (DevNull) Readable() bool { return true }
func (DevNull) Writable() bool { return true }
func (DevNull) Size() int64    { return 0 }
func (DevNull) Reopen() defs.Err_t { return 0 }
func (DevNull) Close() defs.Err_t  { return 0 }
func (DevNull) ReadAt(buf []byte, off int64) (int, defs.Err_t) { return 0, 0 }
func (DevNull) WriteAt(buf []byte, off int64) (int, defs.Err_t) { return len(buf), 0 }

// DevRTC implements /dev/rtc: each read formats the time returned by now
// as an RFC 3339 UTC timestamp.
type DevRTC struct {
	mu   sync.Mutex
	now  func() time.Time
}

func NewDevRTC(now func() time.Time) *DevRTC { return &DevRTC{now: now} }

func (d *DevRTC) Readable() bool { return true }
func (d *DevRTC) Writable() bool { return false }
func (d *DevRTC) Size() int64    { return 0 }
func (d *DevRTC) Reopen() defs.Err_t { return 0 }
func (d *DevRTC) Close() defs.Err_t  { return 0 }
func (d *DevRTC) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	body := []byte(d.now().UTC().Format(time.RFC3339))
	n := copy(buf, body)
	return n, 0
}
func (d *DevRTC) WriteAt(buf []byte, off int64) (int, defs.Err_t) { return 0, defs.NotRWFile }

// staticFile backs the read-only procfs-style stubs: /proc/mounts,
// /proc/meminfo, /etc/adjtime.
type staticFile struct {
	content func() []byte
}

func (s *staticFile) Readable() bool { return true }
func (s *staticFile) Writable() bool { return false }
func (s *staticFile) Size() int64    { return int64(len(s.content())) }
func (s *staticFile) Reopen() defs.Err_t { return 0 }
func (s *staticFile) Close() defs.Err_t  { return 0 }
func (s *staticFile) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	c := s.content()
	if off >= int64(len(c)) {
		return 0, 0
	}
	n := copy(buf, c[off:])
	return n, 0
}
func (s *staticFile) WriteAt(buf []byte, off int64) (int, defs.Err_t) { return 0, defs.NotRWFile }

// NewProcMounts returns the fixed /proc/mounts stub content.
func NewProcMounts() FileOps {
	return &staticFile{content: func() []byte {
		return []byte("rootfs / fat32 rw 0 0\n")
	}}
}

// MeminfoSource supplies the live numbers /proc/meminfo reports.
type MeminfoSource interface {
	FreePages() int
	TotalPages() int
}

// NewProcMeminfo returns a /proc/meminfo stub backed by the live frame
// allocator, in the style of Linux's MemTotal/MemFree fields.
func NewProcMeminfo(src MeminfoSource) FileOps {
	return &staticFile{content: func() []byte {
		kb := func(pages int) int { return pages * 4 }
		return []byte(fmt.Sprintf("MemTotal:  %8d kB\nMemFree:   %8d kB\n",
			kb(src.TotalPages()), kb(src.FreePages())))
	}}
}

// NewEtcAdjtime returns the fixed /etc/adjtime stub content.
func NewEtcAdjtime() FileOps {
	return &staticFile{content: func() []byte {
		return []byte("0.0 0 0.0\n0\nUTC\n")
	}}
}

// ProfileSource supplies the live pprof-encoded snapshot /proc/profile
// reports, implemented by internal/syscall.Kernel over internal/diag.
type ProfileSource interface {
	Snapshot() ([]byte, error)
}

// NewProcProfile returns a /proc/profile stub backed by a live pprof
// snapshot of per-process CPU accounting (spec.md §9's virtual-file list
// plus this kernel's own diagnostic addition).
func NewProcProfile(src ProfileSource) FileOps {
	return &staticFile{content: func() []byte {
		b, err := src.Snapshot()
		if err != nil {
			return nil
		}
		return b
	}}
}
