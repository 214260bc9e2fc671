// Package accnt accumulates per-process CPU accounting, used by times(2)
// and getrusage-style syscalls (spec.md §4.5 #101/113/153/169). Adapted
// from biscuit's accnt package (biscuit/src/accnt/accnt.go).
package accnt

import (
	"sync"
	"sync/atomic"

	"riscvkern/internal/util"
)

// Accnt_t accumulates per-process runtime in nanoseconds. The embedded
// mutex lets callers take a consistent snapshot when exporting usage.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int64) { atomic.AddInt64(&a.Userns, delta) }

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int64) { atomic.AddInt64(&a.Sysns, delta) }

// Add merges another accounting record into this one, used when a
// process's times roll up into its parent's on wait4 (spec.md §4.5).
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.Unlock()
}

// ToRusage formats the accounting data as a struct rusage's user/sys
// timeval pair for copying to userspace.
func (a *Accnt_t) ToRusage() []byte {
	a.Lock()
	defer a.Unlock()
	ret := make([]byte, 4*8)
	totv := func(nano int64) (int, int) {
		return int(nano / 1e9), int((nano % 1e9) / 1000)
	}
	off := 0
	s, us := totv(a.Userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	s, us = totv(a.Sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	return ret
}
