// Package elf loads RISC-V 64-bit ELF executables into a process address
// space for execve (spec.md §4.5 #221, §6). Grounded on biscuit's use of
// the standard library's debug/elf to parse and validate ELF headers
// (biscuit/src/kernel/chentry.go), generalized from that program's
// single-field entry-point patch into a full PT_LOAD/PT_INTERP loader,
// and extended with the RISC-V relocation types spec.md §6 names since
// chentry.go never needed to relocate anything.
package elf

import (
	"bytes"
	"debug/elf"

	"riscvkern/internal/defs"
	"riscvkern/internal/mem"
	"riscvkern/internal/vm"
)

// Relocation type constants for RISC-V 64, named in spec.md §6.
const (
	RISCV_RELATIVE = 3
	RISCV_64       = 2
)

// Loaded describes the outcome of loading an executable: its entry point,
// the highest virtual address any segment touched (the heap's start
// address, spec.md §6), and whether a PT_INTERP dynamic linker path was
// requested.
type Loaded struct {
	Entry      uint64
	HeapStart  mem.VirtAddr
	Interp     string
	IsPIE      bool

	// Phdr, Phent, and Phnum feed the AT_PHDR/AT_PHENT/AT_PHNUM auxv
	// entries spec.md §6 names. Phdr comes from the PT_PHDR segment when
	// the image carries one; otherwise it falls back to base+e_phoff,
	// the same computation the Linux kernel's binfmt_elf loader uses.
	Phdr  uint64
	Phent uint64
	Phnum uint64
}

// checkHeader validates the ELF file is a little-endian RISC-V 64
// executable or PIE, mirroring chkELF's validate-or-fail-loudly shape but
// returning an Err_t instead of calling log.Fatal, since a malformed user
// binary must not bring down the kernel (spec.md §4.5 #221's "a 'corrupt
// binary' exit code, never a panic").
func checkHeader(eh *elf.FileHeader) defs.Err_t {
	if eh.Class != elf.ELFCLASS64 {
		return defs.EINVAL
	}
	if eh.Data != elf.ELFDATA2LSB {
		return defs.EINVAL
	}
	if eh.Machine != elf.EM_RISCV {
		return defs.EINVAL
	}
	if eh.Type != elf.ET_EXEC && eh.Type != elf.ET_DYN {
		return defs.EINVAL
	}
	return 0
}

// Load maps every PT_LOAD segment of the ELF image in data into as,
// allocating and copying backing frames from frames, and returns the
// entry point and load-time metadata. ET_DYN images (PIE) are based at
// defs.PieBase (spec.md §6); ET_EXEC images use their header-specified
// addresses directly.
func Load(data []byte, as *vm.AddressSpace, frames *mem.FrameAllocator) (*Loaded, defs.Err_t) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, defs.EINVAL
	}
	if err := checkHeader(&ef.FileHeader); err != 0 {
		return nil, err
	}

	isPIE := ef.Type == elf.ET_DYN
	var base uint64
	if isPIE {
		base = defs.PieBase
	}

	var maxVA mem.VirtAddr
	var interp string
	var phdrVA uint64

	for _, prog := range ef.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			if end, e := loadSegment(prog, data, as, frames, base); e != 0 {
				return nil, e
			} else if end > maxVA {
				maxVA = end
			}
		case elf.PT_INTERP:
			raw := make([]byte, prog.Filesz)
			if _, rerr := prog.Open().Read(raw); rerr != nil {
				return nil, defs.EINVAL
			}
			interp = string(bytes.TrimRight(raw, "\x00"))
		case elf.PT_PHDR:
			phdrVA = prog.Vaddr + base
		}
	}
	if phdrVA == 0 {
		phdrVA = base + phoffOf(data)
	}

	return &Loaded{
		Entry:     ef.Entry + base,
		HeapStart: mem.VirtAddr(util_roundup(uint64(maxVA))),
		Interp:    interp,
		IsPIE:     isPIE,
		Phdr:      phdrVA,
		Phent:     uint64(phentsizeOf(data)),
		Phnum:     uint64(len(ef.Progs)),
	}, 0
}

// phoffOf and phentsizeOf read e_phoff/e_phentsize directly from the
// ELF-64 header, since debug/elf's exported FileHeader drops them after
// parsing.
func phoffOf(data []byte) uint64 {
	if len(data) < 64 {
		return 0
	}
	return uint64(data[32]) | uint64(data[33])<<8 | uint64(data[34])<<16 | uint64(data[35])<<24 |
		uint64(data[36])<<32 | uint64(data[37])<<40 | uint64(data[38])<<48 | uint64(data[39])<<56
}

func phentsizeOf(data []byte) uint16 {
	if len(data) < 56 {
		return 0
	}
	return uint16(data[54]) | uint16(data[55])<<8
}

func util_roundup(v uint64) uint64 {
	const mask = defs.PageSize - 1
	return (v + mask) &^ uint64(mask)
}

// loadSegment maps one PT_LOAD program header, zero-filling the tail
// between Filesz and Memsz (.bss), and returns the highest virtual
// address it touched.
func loadSegment(prog *elf.Prog, data []byte, as *vm.AddressSpace, frames *mem.FrameAllocator, base uint64) (mem.VirtAddr, defs.Err_t) {
	va := mem.VirtAddr(prog.Vaddr + base)
	memsz := prog.Memsz
	pageStart := mem.VirtAddr(uint64(va) &^ uint64(defs.PageSize-1))
	pageEnd := util_roundup(uint64(va) + memsz)
	pages := int((pageEnd - uint64(pageStart)) / defs.PageSize)
	if pages <= 0 {
		return mem.VirtAddr(pageEnd), 0
	}

	ppn, aerr := frames.AllocContig(pages)
	if aerr != 0 {
		return 0, aerr
	}

	flags := uint64(defs.PteV | defs.PteU)
	if prog.Flags&elf.PF_R != 0 {
		flags |= defs.PteR
	}
	if prog.Flags&elf.PF_W != 0 {
		flags |= defs.PteW
	}
	if prog.Flags&elf.PF_X != 0 {
		flags |= defs.PteX
	}

	if err := as.MapRange(ppn.Addr(), pageStart, pages*defs.PageSize, flags); err != 0 {
		frames.Free(ppn, pages)
		return 0, err
	}

	fileData := data[prog.Off : prog.Off+prog.Filesz]
	copyToFrames(frames, ppn, int(uint64(va)-uint64(pageStart)), fileData)

	return mem.VirtAddr(pageEnd), 0
}

// copyToFrames copies src into the contiguous frame run starting at ppn,
// beginning startOff bytes into the first frame, spanning as many frames
// as needed via FrameAllocator.Dmap.
func copyToFrames(frames *mem.FrameAllocator, ppn mem.PPN, startOff int, src []byte) {
	frame := 0
	off := startOff
	for len(src) > 0 {
		buf := frames.Dmap(ppn + mem.PPN(frame))
		n := copy(buf[off:], src)
		src = src[n:]
		off = 0
		frame++
	}
}

// Relocate applies R_RISCV_RELATIVE records to a PIE image already mapped
// at base, as a dynamic linker stand-in would for a statically-linked PIE
// with no external symbols to resolve. An R_RISCV_64 record, or any other
// type, makes it fail with EINVAL, since it has no symbol table lookup.
// The ELF loader does not call it.
func Relocate(relaDyn []byte, base uint64, frames *mem.FrameAllocator, ppn mem.PPN, segStart mem.VirtAddr) defs.Err_t {
	const relaEntSize = 24 // r_offset(8) r_info(8) r_addend(8)
	for off := 0; off+relaEntSize <= len(relaDyn); off += relaEntSize {
		rOffset := leUint64(relaDyn[off:])
		rInfo := leUint64(relaDyn[off+8:])
		rAddend := leUint64(relaDyn[off+16:])
		rType := rInfo & 0xffffffff
		switch rType {
		case RISCV_RELATIVE:
			value := base + rAddend
			pageOff := int(mem.VirtAddr(rOffset) - segStart)
			copyToFrames(frames, ppn, pageOff, leBytes(value))
		case RISCV_64:
			// Needs a symbol table lookup this loader does not implement
			// (spec.md §6 Non-goals: "dynamic linking against shared
			// objects").
			return defs.EINVAL
		default:
			return defs.EINVAL
		}
	}
	return 0
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
