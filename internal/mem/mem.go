// Package mem implements the physical frame allocator described in
// spec.md §4.1: a bitmap over a fixed DRAM range, with single-frame and
// contiguous-multi-frame allocation. It follows the structuring of
// biscuit's mem package (a package-level singleton guarded by a mutex) but
// drops biscuit's refcounting scheme, which this kernel's simpler
// non-COW address spaces (spec.md §3) do not need.
package mem

import (
	"sync"

	"riscvkern/internal/defs"
)

// PPN is a 44-bit physical page number (spec.md §3).
type PPN uint64

// VPN is a 27-bit virtual page number (spec.md §3).
type VPN uint64

// PhysAddr and VirtAddr are page-shifted PPNs/VPNs plus a 12-bit offset.
type PhysAddr uint64
type VirtAddr uint64

func (p PhysAddr) PPN() PPN { return PPN(p >> defs.PageShift) }
func (v VirtAddr) VPN() VPN { return VPN(v >> defs.PageShift) }

func (p PPN) Addr() PhysAddr { return PhysAddr(p) << defs.PageShift }
func (v VPN) Addr() VirtAddr { return VirtAddr(v) << defs.PageShift }

// Page is the byte contents of one physical frame, addressable by the
// direct map once Dmap has located it.
type Page [defs.PageSize]byte

// FrameAllocator is a bitmap allocator over [firstFree, ceiling). The
// invariant it maintains (spec.md §3, §8): a frame is marked free iff no
// live MemMap holds it — callers, not this type, are responsible for that
// invariant by always routing frees through vm.MemMap.Release.
type FrameAllocator struct {
	mu        sync.Mutex
	used      []bool
	firstFree PPN
	ceiling   PPN
	backing   [][]byte // per-frame storage, index matches used[]
}

// NewFrameAllocator creates an allocator covering the half-open PPN range
// [firstFree, ceiling), matching the "array of booleans indexed from the
// first free frame after kernel image end through a fixed DRAM ceiling"
// description in spec.md §3.
func NewFrameAllocator(firstFree, ceiling PPN) *FrameAllocator {
	n := int(ceiling - firstFree)
	if n < 0 {
		panic("mem: ceiling below firstFree")
	}
	fa := &FrameAllocator{
		used:      make([]bool, n),
		firstFree: firstFree,
		ceiling:   ceiling,
		backing:   make([][]byte, n),
	}
	return fa
}

func (fa *FrameAllocator) idx(ppn PPN) int { return int(ppn - fa.firstFree) }

// Alloc performs a linear scan for the first clear bit, marks it used,
// zeroes the frame, and returns it (spec.md §4.1). It fails only with
// defs.NoEnoughPage; it never blocks.
func (fa *FrameAllocator) Alloc() (PPN, defs.Err_t) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	for i, u := range fa.used {
		if !u {
			fa.used[i] = true
			fa.backing[i] = make([]byte, defs.PageSize) // zeroed by make
			return fa.firstFree + PPN(i), 0
		}
	}
	return 0, defs.NoEnoughPage
}

// AllocContig scans from the high end of the range downward for n
// consecutive clear bits, marks them used, zeroes them, and returns the
// PPN of the first frame in the run. Descending-from-top search leaves low
// addresses available for singletons — page-table interior nodes and
// heap grow-by-one allocations — reducing fragmentation (spec.md §4.1).
func (fa *FrameAllocator) AllocContig(n int) (PPN, defs.Err_t) {
	if n <= 0 {
		panic("mem: AllocContig n<=0")
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	total := len(fa.used)
	run := 0
	for i := total - 1; i >= 0; i-- {
		if !fa.used[i] {
			run++
			if run == n {
				start := i
				for j := start; j < start+n; j++ {
					fa.used[j] = true
					fa.backing[j] = make([]byte, defs.PageSize)
				}
				return fa.firstFree + PPN(start), 0
			}
		} else {
			run = 0
		}
	}
	return 0, defs.NoEnoughPage
}

// Free clears n bits starting at ppn, releasing the frames back to the
// pool (spec.md §4.1).
func (fa *FrameAllocator) Free(ppn PPN, n int) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	start := fa.idx(ppn)
	for i := start; i < start+n; i++ {
		if i < 0 || i >= len(fa.used) {
			panic("mem: Free out of range")
		}
		if !fa.used[i] {
			panic("mem: double free")
		}
		fa.used[i] = false
		fa.backing[i] = nil
	}
}

// Dmap returns the direct-mapped backing storage for ppn, standing in for
// the identity-mapped access a real kernel gets through its direct map
// (spec.md §4.2 superpage identity map). Callers must not retain slices
// across a Free of the same frame.
func (fa *FrameAllocator) Dmap(ppn PPN) []byte {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	i := fa.idx(ppn)
	if i < 0 || i >= len(fa.used) || !fa.used[i] {
		panic("mem: Dmap of unallocated frame")
	}
	return fa.backing[i]
}

// Used reports whether ppn is currently allocated; exported for the
// invariant tests in spec.md §8.
func (fa *FrameAllocator) Used(ppn PPN) bool {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	i := fa.idx(ppn)
	if i < 0 || i >= len(fa.used) {
		return false
	}
	return fa.used[i]
}

// FreeCount returns the number of unallocated frames, used by /proc/meminfo.
func (fa *FrameAllocator) FreeCount() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	c := 0
	for _, u := range fa.used {
		if !u {
			c++
		}
	}
	return c
}

// TotalPages returns the size of the allocator's whole [firstFree,
// ceiling) range, used alongside FreePages by /proc/meminfo.
func (fa *FrameAllocator) TotalPages() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return len(fa.used)
}

// FreePages satisfies fs.MeminfoSource; it is FreeCount under the name
// /proc/meminfo's consumer expects.
func (fa *FrameAllocator) FreePages() int { return fa.FreeCount() }
