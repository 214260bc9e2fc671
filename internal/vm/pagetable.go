// Package vm implements the Sv39 three-level page table, the MemMap
// ownership record, and per-process address spaces (spec.md §4.2, §3),
// grounded on biscuit's vm.Vm_t / pmap walking code (biscuit/src/vm/as.go)
// but narrowed from x86-64's 4-level non-PAE paging to RISC-V's Sv39
// 3-level scheme.
package vm

import (
	"riscvkern/internal/defs"
	"riscvkern/internal/mem"
)

// PTE is a single 64-bit Sv39 page-table entry: low 8 bits are flags
// V,R,W,X,U,G,A,D; bits 10..53 hold the PPN (spec.md §3). A PTE is a leaf
// iff any of R/W/X is set; otherwise it points to the next level.
type PTE uint64

const pteFlagMask = 0xff
const ptePpnShift = 10

func MkPTE(ppn mem.PPN, flags uint64) PTE {
	return PTE(uint64(ppn)<<ptePpnShift | (flags & pteFlagMask))
}

func (p PTE) PPN() mem.PPN    { return mem.PPN(uint64(p) >> ptePpnShift) }
func (p PTE) Flags() uint64   { return uint64(p) & pteFlagMask }
func (p PTE) Valid() bool     { return uint64(p)&defs.PteV != 0 }
func (p PTE) IsLeaf() bool    { return uint64(p)&(defs.PteR|defs.PteW|defs.PteX) != 0 }
func (p PTE) Readable() bool  { return uint64(p)&defs.PteR != 0 }
func (p PTE) Writable() bool  { return uint64(p)&defs.PteW != 0 }
func (p PTE) Executable() bool { return uint64(p)&defs.PteX != 0 }

// pageTable is the in-process view of one level of a three-level Sv39
// radix tree: 512 eight-byte entries backed by a physical frame.
type pageTable struct {
	frames *mem.FrameAllocator
	ppn    mem.PPN
}

func newPageTableAt(frames *mem.FrameAllocator, ppn mem.PPN) *pageTable {
	return &pageTable{frames: frames, ppn: ppn}
}

func (pt *pageTable) entry(idx int) PTE {
	pg := pt.frames.Dmap(pt.ppn)
	off := idx * 8
	return PTE(uint64(pg[off]) | uint64(pg[off+1])<<8 | uint64(pg[off+2])<<16 |
		uint64(pg[off+3])<<24 | uint64(pg[off+4])<<32 | uint64(pg[off+5])<<40 |
		uint64(pg[off+6])<<48 | uint64(pg[off+7])<<56)
}

func (pt *pageTable) setEntry(idx int, e PTE) {
	pg := pt.frames.Dmap(pt.ppn)
	off := idx * 8
	v := uint64(e)
	for i := 0; i < 8; i++ {
		pg[off+i] = byte(v >> (8 * i))
	}
}

// vpnIndex returns the 9-bit index into level `level` (2=root, 1=middle,
// 0=leaf) of the three-level Sv39 walk for vpn.
func vpnIndex(vpn mem.VPN, level int) int {
	return int((uint64(vpn) >> (defs.VpnBits * uint(level))) & defs.VpnMask)
}
