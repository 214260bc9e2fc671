package vm

import (
	"riscvkern/internal/defs"
	"riscvkern/internal/mem"
)

// Heap models the per-process brk-style heap described in spec.md §3: it
// is zero-length until the first brk call, after which it is a contiguous
// [start, pointer, end) range with end extended one page at a time. It
// also owns a single reserved "temp page" used by the signal trampoline
// to save the interrupted context (spec.md §3, §4.6).
type Heap struct {
	as     *AddressSpace
	frames *mem.FrameAllocator

	start   mem.VirtAddr
	pointer mem.VirtAddr
	end     mem.VirtAddr

	tempPage     mem.VirtAddr
	tempPageUsed bool
}

// NewHeap creates a zero-length heap starting at start; pages are added
// only once brk is first called (spec.md §3).
func NewHeap(as *AddressSpace, frames *mem.FrameAllocator, start mem.VirtAddr) *Heap {
	return &Heap{as: as, frames: frames, start: start, pointer: start, end: start}
}

// Start, Pointer, End report the heap's current bounds.
func (h *Heap) Start() mem.VirtAddr   { return h.start }
func (h *Heap) Pointer() mem.VirtAddr { return h.pointer }
func (h *Heap) End() mem.VirtAddr     { return h.end }

// Brk implements the sys_brk contract in spec.md §4.5 and the boundary
// behaviors in spec.md §8:
//   - brk(0) returns the current top without mutation.
//   - a request that, rounded down to its page, lies more than one page
//     beyond the current end is clamped to the current top — spec.md §9
//     flags this as a deviation from Linux (which accepts any higher
//     address) and says to preserve it, not fix it. brk(end+PAGE_SIZE+1)
//     is still served.
//   - otherwise the heap is extended one page at a time up to the
//     requested address, rounded up to a page boundary.
func (h *Heap) Brk(reqAddr mem.VirtAddr) (mem.VirtAddr, defs.Err_t) {
	if reqAddr == 0 {
		return h.pointer, 0
	}
	if reqAddr <= h.pointer {
		if reqAddr < h.start {
			return h.pointer, defs.EINVAL
		}
		h.pointer = reqAddr
		return h.pointer, 0
	}
	// Clamp: Linux would accept any higher address; this kernel's source
	// clamps a request whose page lies more than one page beyond the
	// current end back to the current top (spec.md §9 — preserved as a
	// documented quirk).
	if reqAddr&^mem.VirtAddr(defs.PageSize-1) > h.end+mem.VirtAddr(defs.PageSize) {
		return h.pointer, 0
	}
	for h.end < reqAddr {
		ppn, err := h.frames.Alloc()
		if err != 0 {
			return h.pointer, err
		}
		flags := uint64(defs.PteV | defs.PteR | defs.PteW | defs.PteU)
		if err := h.as.MapRange(ppn.Addr(), h.end, defs.PageSize, flags); err != 0 {
			h.frames.Free(ppn, 1)
			return h.pointer, err
		}
		h.end += mem.VirtAddr(defs.PageSize)
	}
	h.pointer = reqAddr
	return h.pointer, 0
}

// CloneFor builds a Heap describing the same [start, pointer, end) range
// already copied into nas by AddressSpace.Clone, for use by fork (spec.md
// §4.3).
func (h *Heap) CloneFor(nas *AddressSpace) *Heap {
	return &Heap{as: nas, frames: h.frames, start: h.start, pointer: h.pointer,
		end: h.end, tempPage: h.tempPage, tempPageUsed: h.tempPageUsed}
}

// ReserveTempPage extends the heap by one extra page beyond end, reserved
// for the signal trampoline's SignalUserContext (spec.md §3, §4.6). It
// must be called once, after the heap's start address is known (i.e.
// after exec has placed the highest loaded segment).
func (h *Heap) ReserveTempPage() defs.Err_t {
	ppn, err := h.frames.Alloc()
	if err != 0 {
		return err
	}
	h.tempPage = h.end
	flags := uint64(defs.PteV | defs.PteR | defs.PteW | defs.PteU)
	if err := h.as.MapRange(ppn.Addr(), h.tempPage, defs.PageSize, flags); err != 0 {
		h.frames.Free(ppn, 1)
		return err
	}
	h.end += mem.VirtAddr(defs.PageSize)
	h.pointer = h.end
	return 0
}

// TempPage returns the virtual address of the reserved signal-context
// page. internal/signal's Return clears it after each sigreturn.
func (h *Heap) TempPage() mem.VirtAddr { return h.tempPage }
