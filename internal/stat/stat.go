// Package stat formats the struct-stat-style byte buffer returned by
// fstat/fstatat/newfstatat (spec.md §4.5 #80/#79/#262). Grounded on
// biscuit's stat package (biscuit/src/stat/stat.go), which packs the same
// fields with util.Writen rather than encoding/binary.
package stat

import (
	"riscvkern/internal/defs"
	"riscvkern/internal/fs"
	"riscvkern/internal/util"
)

// Mode bits, matching the subset of S_IFREG/S_IFDIR/S_IFCHR the source
// kernel's file kinds need.
const (
	IFREG  = 0o100000
	IFDIR  = 0o040000
	IFCHR  = 0o020000
	IFIFO  = 0o010000
	IFSOCK = 0o140000
)

// Stat_t holds the fields fstat reports: ino, mode, nlink, size, blksize,
// blocks. Bytes packs them in that order into a compact 48-byte record,
// which does not follow the Linux RISC-V 64-bit struct stat layout.
type Stat_t struct {
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	Size    int64
	Blksize int32
	Blocks  int64
}

// ModeFor derives the st_mode value for an open file's FileOps, using a
// type switch against the capability interfaces spec.md §9 defines
// rather than a stored enum tag, mirroring how the source kernel picks
// behavior off a Fdops_i value.
func ModeFor(ops fs.FileOps) uint32 {
	switch v := ops.(type) {
	case fs.DirOps:
		_ = v
		return IFDIR | 0o755
	default:
		return IFREG | 0o644
	}
}

// Bytes packs st into the fixed-layout buffer copied to userspace by
// fstat/fstatat (spec.md §4.5 #80).
func (st *Stat_t) Bytes() []byte {
	buf := make([]byte, 48)
	off := 0
	put := func(sz int, v int) {
		util.Writen(buf, sz, off, v)
		off += sz
	}
	put(8, int(st.Ino))
	put(4, int(st.Mode))
	put(4, int(st.Nlink))
	put(8, int(st.Size))
	put(4, int(st.Blksize))
	put(8, int(st.Blocks))
	return buf
}

// FromFile builds a Stat_t for an open file descriptor's FileOps.
func FromFile(ino uint64, ops fs.FileOps) (*Stat_t, defs.Err_t) {
	size := ops.Size()
	return &Stat_t{
		Ino:     ino,
		Mode:    ModeFor(ops),
		Nlink:   1,
		Size:    size,
		Blksize: int32(defs.PageSize),
		Blocks:  (size + 511) / 512,
	}, 0
}
