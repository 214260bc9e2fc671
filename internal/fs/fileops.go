// Package fs implements the in-memory file tree, FD-table-facing file
// operations, pipes, and socket buffers described in spec.md §3, §4.7,
// and §9 ("Polymorphic file behavior"). It mirrors biscuit's tagged
// fdops.Fdops_i abstraction (biscuit/src/fd, biscuit/src/fdops) but
// narrows the capability set to the five operations spec.md §9 actually
// names: readable, writable, read_at, write_at, size.
package fs

import "riscvkern/internal/defs"

// FileOps is the capability set every concrete file kind — regular file,
// directory, stdin/out/err, /dev/zero, /dev/null, /dev/rtc, procfs
// stubs, pipe ends, and sockets — implements (spec.md §3, §9).
// Downcasting to a concrete type is needed only for directory
// enumeration (entry_next) and mmap-from-file, both handled by narrower
// interfaces below rather than type assertions on FileOps itself.
type FileOps interface {
	Readable() bool
	Writable() bool
	ReadAt(buf []byte, off int64) (int, defs.Err_t)
	WriteAt(buf []byte, off int64) (int, defs.Err_t)
	Size() int64
	Reopen() defs.Err_t
	Close() defs.Err_t
}

// DirOps is implemented by file kinds that can be enumerated via
// getdents (spec.md §4.5 #61).
type DirOps interface {
	FileOps
	Entries() []DirEntry
}

// BackingBuffer is implemented by file kinds whose contents can be
// mapped directly into a process's address space (spec.md §4.5 #215,
// mmap with a backing file fd).
type BackingBuffer interface {
	FileOps
	Bytes() []byte
}

// DirEntry is one packed record as enumerated by getdents (spec.md §4.5
// #61): {ino(8), off(8), reclen(2), type(1), name(n), pad to 8}.
type DirEntry struct {
	Ino   uint64
	Type  uint8
	Name  string
}

// Directory entry type constants, matching the Linux d_type values the
// source kernel copies into getdents records.
const (
	DtUnknown = 0
	DtDir     = 4
	DtReg     = 8
)
