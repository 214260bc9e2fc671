package syscall

import (
	"encoding/binary"
	"strings"
	"testing"

	"riscvkern/internal/defs"
	"riscvkern/internal/fatfs"
	"riscvkern/internal/fd"
	"riscvkern/internal/fs"
	"riscvkern/internal/mem"
	"riscvkern/internal/proc"
	"riscvkern/internal/sched"
	"riscvkern/internal/ustr"
)

// scratchVA is an arbitrary user address every test process maps one RW
// page at, standing in for whatever buffer a real userspace binary would
// pass a syscall.
const scratchVA = 0x5000

func newTestKernel(t *testing.T) (*Kernel, *proc.Process, *proc.Task) {
	t.Helper()
	frames := mem.NewFrameAllocator(0, 16384)
	fat := fatfs.NewMemory()
	tree, err := fs.Mount(fat)
	if err != nil {
		t.Fatal(err)
	}
	sc := sched.New()
	k := NewKernel(frames, tree, sc, func() int64 { return 0 })

	pid := proc.NewPid()
	p, task, perr := proc.New(pid, nil, frames, fs.DevNull{}, fs.DevNull{}, fs.DevNull{}, tree.Root())
	if perr != 0 {
		t.Fatalf("proc.New: %v", perr)
	}
	k.Register(p)
	sc.Enqueue(task)

	ppn, aerr := frames.Alloc()
	if aerr != 0 {
		t.Fatal(aerr)
	}
	flags := uint64(defs.PteV | defs.PteR | defs.PteW | defs.PteU)
	if merr := p.AS.MapRange(ppn.Addr(), mem.VirtAddr(scratchVA), defs.PageSize, flags); merr != 0 {
		t.Fatal(merr)
	}
	return k, p, task
}

// setCall loads a7 and a0..a6 the way a real ecall trap would before
// Dispatch runs.
func setCall(task *proc.Task, num uint64, args ...uint64) {
	task.Context.Gpr[16] = num
	for i, a := range args {
		task.Context.Gpr[9+i] = a
	}
}

func writeUserString(t *testing.T, k *Kernel, p *proc.Process, va uint64, s string) {
	t.Helper()
	if err := k.writeUser(p.AS, va, append([]byte(s), 0)); err != 0 {
		t.Fatalf("writeUserString: %v", err)
	}
}

func TestGetcwdReturnsRoot(t *testing.T) {
	k, p, task := newTestKernel(t)
	setCall(task, SysGetcwd, scratchVA)
	ret := k.Dispatch(task)
	if ret != scratchVA {
		t.Fatalf("expected a0 to echo buffer va, got %#x", ret)
	}
	got, err := k.readUserString(p.AS, scratchVA, 64)
	if err != 0 {
		t.Fatal(err)
	}
	if got != "/" {
		t.Fatalf("expected cwd %q, got %q", "/", got)
	}
}

func TestDupAndDup3(t *testing.T) {
	k, _, task := newTestKernel(t)

	setCall(task, SysDup, 1)
	ret := k.Dispatch(task)
	if ret != 3 {
		t.Fatalf("expected lowest free slot 3, got %d", ret)
	}

	setCall(task, SysDup3, 1, 9)
	ret = k.Dispatch(task)
	if ret != 9 {
		t.Fatalf("expected fd 9 installed, got %d", ret)
	}
}

func TestFcntlDupfdCloexec(t *testing.T) {
	k, _, task := newTestKernel(t)
	setCall(task, SysFcntl, 1, fcntlDupfdCloexec)
	ret := k.Dispatch(task)
	if ret != 3 {
		t.Fatalf("expected new fd 3, got %d", ret)
	}
}

func TestMkdiratThenUnlinkat(t *testing.T) {
	k, p, task := newTestKernel(t)
	writeUserString(t, k, p, scratchVA, "sub")

	setCall(task, SysMkdirat, uint64(int64(FdCwd)), scratchVA)
	if ret := k.Dispatch(task); ret != 0 {
		t.Fatalf("mkdirat failed, a0=%#x", ret)
	}
	if _, err := k.Tree.Resolve(p.Cwd, ustr.Ustr("sub"), false); err != 0 {
		t.Fatalf("expected sub to exist: %v", err)
	}

	setCall(task, SysUnlinkat, uint64(int64(FdCwd)), scratchVA)
	if ret := k.Dispatch(task); ret != 0 {
		t.Fatalf("unlinkat failed, a0=%#x", ret)
	}
	if _, err := k.Tree.Resolve(p.Cwd, ustr.Ustr("sub"), false); err != defs.FileNotFound {
		t.Fatalf("expected sub removed, got err=%v", err)
	}
}

func TestOpenatVirtualDevNull(t *testing.T) {
	k, p, task := newTestKernel(t)
	writeUserString(t, k, p, scratchVA, "/dev/null")
	setCall(task, SysOpenat, uint64(int64(FdCwd)), scratchVA, 0)
	ret := k.Dispatch(task)
	if int64(ret) < 3 {
		t.Fatalf("expected a fresh fd >= 3, got %d", ret)
	}
}

func TestOpenatProcProfileReadsGzippedSnapshot(t *testing.T) {
	k, p, task := newTestKernel(t)
	p.Accnt.Utadd(123)
	writeUserString(t, k, p, scratchVA, "/proc/profile")
	setCall(task, SysOpenat, uint64(int64(FdCwd)), scratchVA, 0)
	fdn := k.Dispatch(task)
	if int64(fdn) < 3 {
		t.Fatalf("expected a fresh fd >= 3, got %d", fdn)
	}

	readVA := uint64(scratchVA + 0x800)
	setCall(task, SysRead, fdn, readVA, 4096)
	n := k.Dispatch(task)
	if n == 0 {
		t.Fatalf("expected a non-empty pprof snapshot")
	}
	body, err := k.readUser(p.AS, readVA, int(n))
	if err != 0 {
		t.Fatal(err)
	}
	if body[0] != 0x1f || body[1] != 0x8b {
		t.Fatalf("expected gzip magic prefix, got %x", body[:2])
	}
}

func TestOpenatProcMeminfoReportsFrameCounts(t *testing.T) {
	k, p, task := newTestKernel(t)
	writeUserString(t, k, p, scratchVA, "/proc/meminfo")
	setCall(task, SysOpenat, uint64(int64(FdCwd)), scratchVA, 0)
	fdn := k.Dispatch(task)

	readVA := uint64(scratchVA + 0x800)
	setCall(task, SysRead, fdn, readVA, 256)
	n := k.Dispatch(task)
	if n == 0 {
		t.Fatalf("expected non-empty /proc/meminfo content")
	}
	body, err := k.readUserString(p.AS, readVA, int(n))
	if err != 0 {
		t.Fatal(err)
	}
	if !strings.Contains(body, "MemTotal:") || !strings.Contains(body, "MemFree:") {
		t.Fatalf("expected MemTotal/MemFree fields, got %q", body)
	}
}

func TestPipe2WriteThenRead(t *testing.T) {
	k, p, task := newTestKernel(t)
	setCall(task, SysPipe2, scratchVA, 0)
	if ret := k.Dispatch(task); ret != 0 {
		t.Fatalf("pipe2 failed, a0=%#x", ret)
	}
	slots, err := k.readUser(p.AS, scratchVA, 8)
	if err != 0 {
		t.Fatal(err)
	}
	rfd := int(binary.LittleEndian.Uint32(slots[0:4]))
	wfd := int(binary.LittleEndian.Uint32(slots[4:8]))

	payloadVA := uint64(scratchVA + 0x100)
	writeUserString(t, k, p, payloadVA, "hello")
	setCall(task, SysWrite, uint64(wfd), payloadVA, 5)
	if ret := k.Dispatch(task); ret != 5 {
		t.Fatalf("expected write of 5 bytes, got %d", ret)
	}

	readVA := uint64(scratchVA + 0x200)
	setCall(task, SysRead, uint64(rfd), readVA, 8)
	if ret := k.Dispatch(task); ret != 5 {
		t.Fatalf("expected read of 5 bytes, got %d", ret)
	}
	got, err := k.readUserString(p.AS, readVA, 8)
	if err != 0 {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestGetdentsOnEmptyRootReturnsZero(t *testing.T) {
	k, p, task := newTestKernel(t)
	ops, err := k.Tree.Open(p.Cwd)
	if err != 0 {
		t.Fatal(err)
	}
	fdn := p.Fds.Install(&fd.FD{Ops: ops}, false)
	setCall(task, SysGetdents, uint64(fdn), scratchVA, 4096)
	ret := k.Dispatch(task)
	if ret != 0 {
		t.Fatalf("expected 0 bytes written for empty root, got %d", ret)
	}
}

func TestBrkGrowsAndClamps(t *testing.T) {
	k, p, task := newTestKernel(t)
	start := p.Heap.Pointer()

	setCall(task, SysBrk, 0)
	if ret := k.Dispatch(task); ret != uint64(start) {
		t.Fatalf("brk(0) should report current top %#x, got %#x", start, ret)
	}

	req := uint64(start) + defs.PageSize
	setCall(task, SysBrk, req)
	ret := k.Dispatch(task)
	if ret != req {
		t.Fatalf("expected heap extended to %#x, got %#x", req, ret)
	}

	// A request far beyond end+PAGE_SIZE is clamped back to the current
	// top (spec.md's documented brk deviation, preserved verbatim).
	farReq := req + 64*defs.PageSize
	setCall(task, SysBrk, farReq)
	if ret := k.Dispatch(task); ret != req {
		t.Fatalf("expected far brk request clamped to %#x, got %#x", req, ret)
	}
}

func TestMmapAnonymous(t *testing.T) {
	k, p, task := newTestKernel(t)
	const prot = 0x3 // PROT_READ|PROT_WRITE
	setCall(task, SysMmap, 0, defs.PageSize, prot, 0, uint64(int64(-1)))
	va := k.Dispatch(task)
	if va != uint64(defs.MmapHintBase) {
		t.Fatalf("expected mmap to land at hint base %#x, got %#x", uint64(defs.MmapHintBase), va)
	}
	if _, err := p.AS.Translate(mem.VirtAddr(va)); err != 0 {
		t.Fatalf("expected mapped region to translate: %v", err)
	}
}

func TestCloneVforkForksChildProcess(t *testing.T) {
	k, p, task := newTestKernel(t)
	setCall(task, SysClone, uint64(CloneVFORK|CloneVM|CloneSIGCHLD), 0)
	childPid := k.Dispatch(task)
	if childPid == 0 {
		t.Fatalf("expected a nonzero child pid")
	}
	child, ok := k.Lookup(defs.Pid_t(childPid))
	if !ok {
		t.Fatalf("expected child process registered under pid %d", childPid)
	}
	if child.Parent != p {
		t.Fatalf("expected child's parent to be the forking process")
	}
	if !k.Sched.InVforkWait(p.Pid) {
		t.Fatalf("expected parent marked vfork-waiting")
	}
}

func TestCloneThreadSharesAddressSpace(t *testing.T) {
	k, p, task := newTestKernel(t)
	const newSP = 0x3f000000
	setCall(task, SysClone, 0, newSP)
	newTid := k.Dispatch(task)
	if newTid == 0 {
		t.Fatalf("expected nonzero new tid")
	}
	if len(p.Tasks) != 2 {
		t.Fatalf("expected 2 tasks after clone, got %d", len(p.Tasks))
	}
	sib := p.Tasks[1]
	if sib.Proc != p {
		t.Fatalf("expected sibling task to share the same process")
	}
	if sib.Context.Gpr[1] != newSP {
		t.Fatalf("expected sibling sp = %#x, got %#x", uint64(newSP), sib.Context.Gpr[1])
	}
}

// buildMinimalELF hand-assembles a tiny little-endian RISC-V64 ELF with a
// single PT_LOAD segment, matching internal/elf's own test fixture shape.
func buildMinimalELF(t *testing.T, vaddr uint64, payload []byte) []byte {
	t.Helper()
	const ehsize = 64
	const phentsize = 56
	phoff := uint64(ehsize)
	dataOff := phoff + phentsize

	buf := make([]byte, int(dataOff)+len(payload))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)   // e_type = ET_EXEC
	le.PutUint16(buf[18:], 243) // e_machine = EM_RISCV
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], vaddr)
	le.PutUint64(buf[32:], phoff)
	le.PutUint64(buf[40:], 0)
	le.PutUint16(buf[52:], ehsize)
	le.PutUint16(buf[54:], phentsize)
	le.PutUint16(buf[56:], 1)

	ph := buf[phoff:]
	le.PutUint32(ph[0:], 1) // PT_LOAD
	le.PutUint32(ph[4:], 7) // RWX
	le.PutUint64(ph[8:], dataOff)
	le.PutUint64(ph[16:], vaddr)
	le.PutUint64(ph[24:], vaddr)
	le.PutUint64(ph[32:], uint64(len(payload)))
	le.PutUint64(ph[40:], uint64(len(payload)))
	le.PutUint64(ph[48:], 0x1000)

	copy(buf[dataOff:], payload)
	return buf
}

func TestExecveLoadsNewImage(t *testing.T) {
	k, p, task := newTestKernel(t)
	payload := []byte{0x13, 0x00, 0x00, 0x00} // nop
	elfBytes := buildMinimalELF(t, 0x1000, payload)

	fat := fatfs.NewMemory()
	fat.AddFile("/prog", elfBytes)
	tree, err := fs.Mount(fat)
	if err != nil {
		t.Fatal(err)
	}
	k.Tree = tree
	p.Cwd = tree.Root()

	writeUserString(t, k, p, scratchVA, "/prog")
	setCall(task, SysExecve, scratchVA, 0, 0)
	if ret := k.Dispatch(task); ret != 0 {
		t.Fatalf("execve failed, a0=%#x", ret)
	}
	if task.Context.Sepc != 0x1000 {
		t.Fatalf("expected sepc at new entry 0x1000, got %#x", task.Context.Sepc)
	}
	sp := task.Context.Gpr[1]
	if sp == 0 || sp >= uint64(p.Stack.Top()) {
		t.Fatalf("expected sp below the stack top once argv/auxv are laid out, got %#x (top %#x)", sp, p.Stack.Top())
	}
	if sp%16 != 0 {
		t.Fatalf("expected sp 16-byte aligned per the RISC-V psABI, got %#x", sp)
	}
	argc, aerr := k.readUser(p.AS, sp, 8)
	if aerr != 0 {
		t.Fatal(aerr)
	}
	if got := leU64(argc); got != 1 {
		t.Fatalf("expected argc=1 (just the program path), got %d", got)
	}
}

func TestWait4RetriesThenSucceeds(t *testing.T) {
	k, p, task := newTestKernel(t)
	childPid := proc.NewPid()
	child, _, cerr := proc.New(childPid, p, k.Frames, fs.DevNull{}, fs.DevNull{}, fs.DevNull{}, p.Cwd)
	if cerr != 0 {
		t.Fatal(cerr)
	}
	k.Register(child)

	startSepc := task.Context.Sepc
	setCall(task, SysWait4, uint64(int64(-1)), scratchVA, 0, 0)
	if ret := k.Dispatch(task); ret != uint64(int64(-1)) {
		t.Fatalf("expected wait4 to block leaving a0=pid -1 for the retry, got %#x", ret)
	}
	if task.Context.Sepc != startSepc-4 {
		t.Fatalf("expected sepc rewound by 4 to retry the ecall, got %#x", task.Context.Sepc)
	}

	task.Context.Sepc = startSepc
	child.SetExitCode(7)
	setCall(task, SysWait4, uint64(int64(-1)), scratchVA, 0, 0)
	ret := k.Dispatch(task)
	if ret != uint64(childPid) {
		t.Fatalf("expected reaped pid %d, got %d", childPid, ret)
	}
	statusBuf, rerr := k.readUser(p.AS, scratchVA, 4)
	if rerr != 0 {
		t.Fatal(rerr)
	}
	if statusBuf[1] != 7 {
		t.Fatalf("expected exit code 7 packed at byte 1, got %d", statusBuf[1])
	}
	if len(p.Children) != 0 {
		t.Fatalf("expected child removed from parent's children, got %d left", len(p.Children))
	}
}

func TestRtSigactionThenKillDeliversSignal(t *testing.T) {
	k, p, task := newTestKernel(t)
	p.Heap.ReserveTempPage()

	const sig = 5
	act := make([]byte, 32)
	binary.LittleEndian.PutUint64(act[0:8], 0x4000)   // handler VA
	binary.LittleEndian.PutUint64(act[16:24], 0x4100) // restorer VA
	if werr := k.writeUser(p.AS, scratchVA, act); werr != 0 {
		t.Fatalf("writeUser: %v", werr)
	}

	setCall(task, SysRtSigaction, sig, scratchVA, 0, 0)
	if ret := k.Dispatch(task); ret != 0 {
		t.Fatalf("rt_sigaction failed, a0=%#x", ret)
	}
	if p.SigActions[sig].HandlerVA != 0x4000 {
		t.Fatalf("expected handler VA recorded, got %#x", p.SigActions[sig].HandlerVA)
	}

	setCall(task, SysKill, uint64(p.Pid), sig)
	if ret := k.Dispatch(task); ret != 0 {
		t.Fatalf("kill failed, a0=%#x", ret)
	}
	if task.Context.Sepc != 0x4000 {
		t.Fatalf("expected delivery to redirect sepc to handler, got %#x", task.Context.Sepc)
	}
	if task.Context.A0() != sig {
		t.Fatalf("expected a0 == signum, got %d", task.Context.A0())
	}
}

func TestRtSigprocmaskSetmaskInstallsMask(t *testing.T) {
	k, p, task := newTestKernel(t)
	mask := make([]byte, 8)
	binary.LittleEndian.PutUint64(mask, 0xff)
	if werr := k.writeUser(p.AS, scratchVA, mask); werr != 0 {
		t.Fatalf("writeUser: %v", werr)
	}

	const sigSetmask = 2
	setCall(task, SysRtSigprocmask, sigSetmask, scratchVA)
	if ret := k.Dispatch(task); ret != 0 {
		t.Fatalf("rt_sigprocmask failed, a0=%#x", ret)
	}
	if task.SigMask != 0xff {
		t.Fatalf("expected mask 0xff installed, got %#x", task.SigMask)
	}
}
