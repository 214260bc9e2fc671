package proc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"riscvkern/internal/defs"
)

// Registry is a bucketed pid->Process table with lock-free lookups,
// adapted from biscuit's hashtable.Hashtable_t: each bucket is a singly
// linked chain (newest entry first) whose head pointer is read and written with
// atomic.Load/StorePointer, so Lookup needs no lock at all and only
// Register/Remove take the bucket's mutex. The original was a generic
// interface{}-keyed table serving several subsystems at once (biscuit's
// vnode cache, its futex table); this kernel only ever needs one
// pid-keyed instance, so it is narrowed to *Process values and dropped
// the now-unused key-type switch (the key is always a Pid_t).
type Registry struct {
	buckets []bucket
}

type bucket struct {
	sync.Mutex
	first unsafe.Pointer // *entry, read/written via atomic
}

type entry struct {
	pid  defs.Pid_t
	proc *Process
	next unsafe.Pointer // *entry
}

// NewRegistry allocates a table with n buckets; n should be on the order
// of the expected number of live processes to keep chains short.
func NewRegistry(n int) *Registry {
	if n < 1 {
		n = 1
	}
	return &Registry{buckets: make([]bucket, n)}
}

func (r *Registry) bucketFor(pid defs.Pid_t) *bucket {
	h := uint32(pid) * 2654435761
	return &r.buckets[h%uint32(len(r.buckets))]
}

func loadEntry(p *unsafe.Pointer) *entry {
	return (*entry)(atomic.LoadPointer(p))
}

func storeEntry(p *unsafe.Pointer, e *entry) {
	atomic.StorePointer(p, unsafe.Pointer(e))
}

// Lookup returns the process registered under pid, if any. It never
// blocks on a bucket's mutex: concurrent Register/Remove calls on other
// pids never hold up a Lookup.
func (r *Registry) Lookup(pid defs.Pid_t) (*Process, bool) {
	b := r.bucketFor(pid)
	for e := loadEntry(&b.first); e != nil; e = loadEntry(&e.next) {
		if e.pid == pid {
			return e.proc, true
		}
	}
	return nil, false
}

// Register adds p under its Pid, replacing any prior entry for that pid.
func (r *Registry) Register(p *Process) {
	b := r.bucketFor(p.Pid)
	b.Lock()
	defer b.Unlock()

	for e := loadEntry(&b.first); e != nil; e = loadEntry(&e.next) {
		if e.pid == p.Pid {
			e.proc = p
			return
		}
	}
	n := &entry{pid: p.Pid, proc: p, next: b.first}
	storeEntry(&b.first, n)
}

// Remove deletes pid's entry, if present.
func (r *Registry) Remove(pid defs.Pid_t) {
	b := r.bucketFor(pid)
	b.Lock()
	defer b.Unlock()

	var prev *entry
	for e := loadEntry(&b.first); e != nil; e = loadEntry(&e.next) {
		if e.pid == pid {
			next := loadEntry(&e.next)
			if prev == nil {
				storeEntry(&b.first, next)
			} else {
				storeEntry(&prev.next, next)
			}
			return
		}
		prev = e
	}
}

// Each calls f with every registered process, for diagnostics snapshots
// that need to walk the whole table (e.g. /proc/profile). f must not
// call back into Register/Remove/Lookup on this registry.
func (r *Registry) Each(f func(pid defs.Pid_t, p *Process)) {
	for i := range r.buckets {
		b := &r.buckets[i]
		b.Lock()
		for e := loadEntry(&b.first); e != nil; e = loadEntry(&e.next) {
			f(e.pid, e.proc)
		}
		b.Unlock()
	}
}

// Len counts the live entries across all buckets; for diagnostics only.
func (r *Registry) Len() int {
	n := 0
	for i := range r.buckets {
		b := &r.buckets[i]
		b.Lock()
		for e := loadEntry(&b.first); e != nil; e = loadEntry(&e.next) {
			n++
		}
		b.Unlock()
	}
	return n
}
