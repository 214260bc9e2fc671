package vm

import (
	"riscvkern/internal/defs"
	"riscvkern/internal/mem"
)

// Stack models the per-process user stack described in spec.md §3: it
// grows downward from UserStackTop, is initially populated with
// UserStackPages pages, and grows lazily one page at a time when a store
// fault lands within [top-MaxStackPages*PAGE, bottom).
type Stack struct {
	as     *AddressSpace
	frames *mem.FrameAllocator
	bottom mem.VirtAddr // lowest mapped address so far (shrinks as stack grows)
	top    mem.VirtAddr // fixed high address
}

// NewStack allocates the initial UserStackPages-page population and maps
// it at the top of user address space.
func NewStack(as *AddressSpace, frames *mem.FrameAllocator) (*Stack, defs.Err_t) {
	top := mem.VirtAddr(defs.UserStackTop)
	bottom := top - mem.VirtAddr(defs.UserStackPages*defs.PageSize)
	ppn, err := frames.AllocContig(defs.UserStackPages)
	if err != 0 {
		return nil, err
	}
	flags := uint64(defs.PteV | defs.PteR | defs.PteW | defs.PteU)
	if err := as.MapRange(ppn.Addr(), bottom, defs.UserStackPages*defs.PageSize, flags); err != 0 {
		frames.Free(ppn, defs.UserStackPages)
		return nil, err
	}
	return &Stack{as: as, frames: frames, bottom: bottom, top: top}, 0
}

// Top returns the fixed high virtual address the stack grows down from.
func (s *Stack) Top() mem.VirtAddr { return s.top }

// Bottom returns the lowest address mapped so far.
func (s *Stack) Bottom() mem.VirtAddr { return s.bottom }

// InGrowthRegion reports whether a faulting store address lies within
// [top-MaxStackPages*PAGE, bottom) — the region spec.md §4.5 says should
// trigger lazy stack growth rather than killing the task.
func (s *Stack) InGrowthRegion(va mem.VirtAddr) bool {
	floor := s.top - mem.VirtAddr(defs.MaxStackPages*defs.PageSize)
	return va >= floor && va < s.bottom
}

// CloneFor builds a Stack describing the same [bottom, top) range already
// copied into nas by AddressSpace.Clone, for use by fork (spec.md §4.3).
func (s *Stack) CloneFor(nas *AddressSpace) *Stack {
	return &Stack{as: nas, frames: s.frames, bottom: s.bottom, top: s.top}
}

// AuxEntry is one (key, value) pair of the auxiliary vector spec.md §6
// lists (AT_PLATFORM, AT_EXECFN, AT_PHNUM, ...).
type AuxEntry struct {
	Key, Val uint64
}

// writeBytes copies data to va, crossing page boundaries via Translate
// and the frame allocator's direct map, the same page-walking copy
// internal/syscall's readUser/writeUser use for ordinary syscall buffers.
func (s *Stack) writeBytes(va mem.VirtAddr, data []byte) defs.Err_t {
	pos := 0
	for pos < len(data) {
		pa, err := s.as.Translate(va)
		if err != 0 {
			return err
		}
		off := int(uint64(pa) & defs.PageOffset)
		frame := s.frames.Dmap(pa.PPN())
		n := len(data) - pos
		if room := defs.PageSize - off; n > room {
			n = room
		}
		copy(frame[off:off+n], data[pos:pos+n])
		pos += n
		va += mem.VirtAddr(n)
	}
	return 0
}

// WriteInitialLayout lays out argv, an empty environment (spec.md §6:
// "Environment: none"), and the auxiliary vector on the already-mapped
// top of the stack, following the standard ELF/Linux initial-stack
// convention a stock crt0 expects: from the top down, AT_RANDOM's 16
// bytes, the platform, execfn and argv strings, then the auxv array, the
// envp NULL terminator, the argv pointer array
// (NULL-terminated), and argc — all below the 16-byte-aligned stack
// pointer WriteInitialLayout returns. AT_RANDOM's bytes are a fixed
// pattern rather than real entropy: spec.md scopes out everything but
// the pointer slot's existence, and this kernel has no entropy source.
func (s *Stack) WriteInitialLayout(argv []string, platform, execfn string, elfAux []AuxEntry) (uint64, defs.Err_t) {
	sp := uint64(s.top)

	push := func(data []byte) (uint64, defs.Err_t) {
		sp -= uint64(len(data))
		if err := s.writeBytes(mem.VirtAddr(sp), data); err != 0 {
			return 0, err
		}
		return sp, 0
	}
	pushStr := func(str string) (uint64, defs.Err_t) {
		return push(append([]byte(str), 0))
	}
	pushU64 := func(v uint64) defs.Err_t {
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
		_, err := push(b[:])
		return err
	}

	randomVA, err := push(make([]byte, 16)) // fixed zero pattern, see doc comment
	if err != 0 {
		return 0, err
	}
	platformVA, err := pushStr(platform)
	if err != 0 {
		return 0, err
	}
	execfnVA, err := pushStr(execfn)
	if err != 0 {
		return 0, err
	}
	argvVAs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		va, err := pushStr(argv[i])
		if err != 0 {
			return 0, err
		}
		argvVAs[i] = va
	}

	auxv := append([]AuxEntry{
		{defs.AtPagesz, defs.PageSize},
		{defs.AtUid, 1}, {defs.AtEuid, 1}, {defs.AtGid, 1}, {defs.AtEgid, 1},
		{defs.AtSecure, 0},
		{defs.AtRandom, randomVA},
		{defs.AtPlatform, platformVA},
		{defs.AtExecfn, execfnVA},
	}, elfAux...)
	auxv = append(auxv, AuxEntry{defs.AtNull, 0})

	// Every remaining push is exactly one 8-byte word (auxv pairs, the
	// envp/argv NULL terminators, the argv pointers, and argc itself), so
	// the final sp is sp16-wordCount*8 for whatever 16-byte-aligned sp16
	// we start from. Settle the word count and, if it is odd, absorb one
	// padding word here so argc's own address comes out 16-byte aligned
	// once all of it is written — aligning after argc is already placed
	// would move the pointer away from the value it has to address.
	// Mirrors _examples/original_source/kernel/src/task/stack.rs, which
	// resolves padding before committing the fixed-size tail.
	wordCount := len(auxv)*2 + 1 + 1 + len(argv) + 1
	sp &^= 15
	if wordCount%2 != 0 {
		if err := pushU64(0); err != 0 { // padding word, never read
			return 0, err
		}
	}

	for i := len(auxv) - 1; i >= 0; i-- {
		if err := pushU64(auxv[i].Val); err != 0 {
			return 0, err
		}
		if err := pushU64(auxv[i].Key); err != 0 {
			return 0, err
		}
	}

	if err := pushU64(0); err != 0 { // envp NULL terminator; no env vars (spec.md §6)
		return 0, err
	}
	if err := pushU64(0); err != 0 { // argv NULL terminator
		return 0, err
	}
	for i := len(argv) - 1; i >= 0; i-- {
		if err := pushU64(argvVAs[i]); err != 0 {
			return 0, err
		}
	}
	if err := pushU64(uint64(len(argv))); err != 0 { // argc
		return 0, err
	}

	return sp, 0
}

// Grow maps one additional page immediately below the current bottom.
func (s *Stack) Grow() defs.Err_t {
	newBottom := s.bottom - mem.VirtAddr(defs.PageSize)
	ppn, err := s.frames.Alloc()
	if err != 0 {
		return err
	}
	flags := uint64(defs.PteV | defs.PteR | defs.PteW | defs.PteU)
	if err := s.as.MapRange(ppn.Addr(), newBottom, defs.PageSize, flags); err != 0 {
		s.frames.Free(ppn, 1)
		return err
	}
	s.bottom = newBottom
	return 0
}
