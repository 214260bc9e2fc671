package vm

import (
	"riscvkern/internal/defs"
	"riscvkern/internal/mem"
)

// MemMap is the unit of ownership over RAM (spec.md §3): a contiguous run
// of page_count physical frames mapped at a contiguous run of virtual
// pages with the given permission flags. Destroying a MemMap must free
// exactly page_count physical frames starting at ppn_start — that
// invariant is enforced here by routing every free through Release.
type MemMap struct {
	PhysStart mem.PPN
	VirtStart mem.VPN
	PageCount int
	Flags     uint64
}

// Release returns every frame owned by this MemMap to frames. It is the
// only path that may free a MemMap's frames, preserving spec.md §3's
// invariant that a frame is free iff no live MemMap holds it.
func (m *MemMap) Release(frames *mem.FrameAllocator) {
	if m.PageCount <= 0 {
		return
	}
	frames.Free(m.PhysStart, m.PageCount)
	m.PageCount = 0
}

// AddressSpace is the root of a process's Sv39 page table plus the set of
// MemMaps it owns (spec.md §3). Every reachable leaf PPN appears in
// exactly one MemMap of the owning address space; interior-level frames
// allocated while inserting a mapping are themselves recorded as MemMaps
// with flags = V only.
type AddressSpace struct {
	frames *mem.FrameAllocator
	Root   mem.PPN
	Maps   []*MemMap
}

// NewAddressSpace allocates a fresh Sv39 root page table.
func NewAddressSpace(frames *mem.FrameAllocator) (*AddressSpace, defs.Err_t) {
	root, err := frames.Alloc()
	if err != 0 {
		return nil, err
	}
	as := &AddressSpace{frames: frames, Root: root}
	as.Maps = append(as.Maps, &MemMap{PhysStart: root, PageCount: 1, Flags: defs.PteV})
	return as, 0
}

// walk descends the three Sv39 levels toward vpn, allocating interior
// tables on demand when alloc is true. It returns the leaf PTE's address
// (table, index) or ok=false if a missing interior table could not be
// allocated.
func (as *AddressSpace) walk(vpn mem.VPN, alloc bool) (table *pageTable, idx int, ok bool) {
	cur := as.Root
	for level := 2; level >= 1; level-- {
		pt := newPageTableAt(as.frames, cur)
		i := vpnIndex(vpn, level)
		e := pt.entry(i)
		if !e.Valid() {
			if !alloc {
				return nil, 0, false
			}
			next, err := as.frames.Alloc()
			if err != 0 {
				return nil, 0, false
			}
			as.Maps = append(as.Maps, &MemMap{PhysStart: next, PageCount: 1, Flags: defs.PteV})
			pt.setEntry(i, MkPTE(next, defs.PteV))
			cur = next
			continue
		}
		if e.IsLeaf() {
			// A superpage sits where an interior table was expected; the
			// caller (Translate) handles that case itself, so walk only
			// ever reaches here for the kernel identity map which never
			// calls MapRange/Unmap — treat as "no interior table".
			return nil, 0, false
		}
		cur = e.PPN()
	}
	pt := newPageTableAt(as.frames, cur)
	return pt, vpnIndex(vpn, 0), true
}

// MapRange maps each page in [va, va+size) to the corresponding page in
// [pa, pa+size), allocating interior levels on demand (spec.md §4.2).
// Every interior allocation is recorded as a MemMap owned by this address
// space, with flags = V only, matching the invariant in spec.md §3.
func (as *AddressSpace) MapRange(pa mem.PhysAddr, va mem.VirtAddr, size int, flags uint64) defs.Err_t {
	if size <= 0 {
		return 0
	}
	pages := (size + defs.PageSize - 1) / defs.PageSize
	for i := 0; i < pages; i++ {
		vpn := (va + mem.VirtAddr(i*defs.PageSize)).VPN()
		ppn := (pa + mem.PhysAddr(i*defs.PageSize)).PPN()
		pt, idx, ok := as.walk(vpn, true)
		if !ok {
			return defs.NoEnoughPage
		}
		pt.setEntry(idx, MkPTE(ppn, flags|defs.PteV))
	}
	pageCount := pages
	base := (va).VPN()
	phys := (pa).PPN()
	as.Maps = append(as.Maps, &MemMap{PhysStart: phys, VirtStart: base, PageCount: pageCount, Flags: flags})
	return 0
}

// MapMem is the common case of MapRange where pa=ppn, va=vpn directly
// (spec.md §4.2).
func (as *AddressSpace) MapMem(m *MemMap) defs.Err_t {
	return as.MapRange(m.PhysStart.Addr(), m.VirtStart.Addr(), m.PageCount*defs.PageSize, m.Flags)
}

// Unmap walks to the leaf for va and clears it. Interior tables are not
// compacted — an accepted per-address-space leak, since the whole tree is
// freed at process exit (spec.md §4.2).
func (as *AddressSpace) Unmap(va mem.VirtAddr) {
	pt, idx, ok := as.walk(va.VPN(), false)
	if !ok {
		return
	}
	pt.setEntry(idx, 0)
}

// Translate walks the three Sv39 levels for va. If an intermediate level
// holds a leaf PTE, it is treated as a superpage (2MiB at level 1, 1GiB at
// level 2) and the physical address is computed using the appropriate
// offset bits — this superpage support backs the kernel identity map, not
// user mappings (spec.md §4.2).
func (as *AddressSpace) Translate(va mem.VirtAddr) (mem.PhysAddr, defs.Err_t) {
	cur := as.Root
	vpn := va.VPN()
	off := uint64(va) & defs.PageOffset
	for level := 2; level >= 0; level-- {
		pt := newPageTableAt(as.frames, cur)
		i := vpnIndex(vpn, level)
		e := pt.entry(i)
		if !e.Valid() {
			return 0, defs.NoMatchedAddr
		}
		if e.IsLeaf() {
			// superpage bits below `level` come straight from va.
			supBits := uint(defs.VpnBits * level)
			mask := (uint64(1) << supBits) - 1
			base := uint64(e.PPN()) &^ mask
			low := uint64(vpn) & mask
			ppn := mem.PPN(base | low)
			return mem.PhysAddr(uint64(ppn)<<defs.PageShift | off), 0
		}
		cur = e.PPN()
	}
	return 0, defs.NoMatchedAddr
}

// Activate writes the root into satp with mode=Sv39. In this hosted build
// there is no real satp CSR, so Activate simply records the value it
// would write. Nothing else in this build calls Activate or reads the
// recorded value.
func (as *AddressSpace) Activate() {
	currentSatp = uint64(defs.SatpSv39)<<60 | uint64(as.Root)
}

var currentSatp uint64

// CurrentSatp reports the last value "written" by Activate.
func CurrentSatp() uint64 { return currentSatp }

// Clone makes a full copy of as: every leaf MemMap gets freshly allocated
// frames with the same contents remapped at the same virtual addresses;
// interior page-table MemMaps (flags == V only) are not copied and are
// instead rebuilt lazily by MapRange as each leaf is remapped. This
// kernel has no copy-on-write (spec.md §3's Non-goals), so fork always
// pays this full-copy cost, matching spec.md §4.3's "duplicate the
// address space" wording literally.
func (as *AddressSpace) Clone(frames *mem.FrameAllocator) (*AddressSpace, defs.Err_t) {
	nas, err := NewAddressSpace(frames)
	if err != 0 {
		return nil, err
	}
	for _, m := range as.Maps {
		if m.Flags == defs.PteV {
			continue // interior table node; MapRange below rebuilds as needed
		}
		ppn, aerr := frames.AllocContig(m.PageCount)
		if aerr != 0 {
			nas.Teardown()
			return nil, aerr
		}
		for i := 0; i < m.PageCount; i++ {
			src := frames.Dmap(m.PhysStart + mem.PPN(i))
			dst := frames.Dmap(ppn + mem.PPN(i))
			copy(dst, src)
		}
		if err := nas.MapRange(ppn.Addr(), m.VirtStart.Addr(), m.PageCount*defs.PageSize, m.Flags); err != 0 {
			frames.Free(ppn, m.PageCount)
			nas.Teardown()
			return nil, err
		}
	}
	return nas, 0
}

// Teardown releases every frame owned by this address space — the MemMap
// set plus the page-table interior nodes held within it — back to frames
// (spec.md §5: "dropping a process drops all its MemMaps which free all
// its frames").
func (as *AddressSpace) Teardown() {
	for _, m := range as.Maps {
		m.Release(as.frames)
	}
	as.Maps = nil
}
