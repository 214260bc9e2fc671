// Package boot wires together the nine components spec.md §2 lists in
// dependency order and drives the scheduler's run loop described in §2's
// "Control flow" paragraph. It is the Go-native stand-in for the boot
// assembly shim and kernel_main entry spec.md §6 specifies and scopes out
// of the core: biscuit's own kernel_main-equivalent (biscuit/src/kernel/
// chentry.go, Chentry) is a single-hart x86 boot path with no Go
// precedent in this pack for a from-scratch wiring function, so this
// package follows gopher-os's Kmain shape instead (gopher-os-gopher-os/
// kernel/kmain.go: a thin init-then-loop-forever function kept separate
// from the rt0 trampoline so it is callable from tests).
package boot

import (
	"fmt"

	"riscvkern/internal/blockdev"
	"riscvkern/internal/defs"
	"riscvkern/internal/diag"
	"riscvkern/internal/fatfs"
	"riscvkern/internal/fs"
	"riscvkern/internal/mem"
	"riscvkern/internal/proc"
	"riscvkern/internal/sbi"
	"riscvkern/internal/sched"
	"riscvkern/internal/syscall"
	"riscvkern/internal/trapframe"
)

// DRAMFrames is the number of 4K frames NewFrameAllocator is given when no
// real memory map has been probed from the device tree — enough for the
// boot harness and pending-program queue without real hardware.
const DRAMFrames = 1 << 16 // 256MiB at 4K pages

// console adapts sbi.Console (putchar-only, per spec.md §6's SBI
// contract) to fs.Console, which also wants a ReadByte for stdin. The
// SBI contract spec.md names has no console-input primitive, so
// ReadByte always reports "nothing available" — stdin is present for
// fd-table completeness but never yields bytes on real hardware.
type console struct{ c sbi.Console }

func (console) ReadByte() (byte, bool)  { return 0, false }
func (co console) WriteByte(b byte)     { co.c.Putchar(b) }

// Kernel bundles everything kernel_main builds: the syscall dispatch
// table, the scheduler, and the SBI/block-device handles the run loop
// polls.
type Kernel struct {
	Sys   *syscall.Kernel
	Sched *sched.Scheduler
	SBI   sbi.Timer
	Tree  *fs.Tree

	faults diag.FaultDedup
}

// Init performs the component 1→9 initialization spec.md §2's "Control
// flow" paragraph describes: frame allocator (1), the root address
// space's mount-time file tree (5), and the scheduler (9) — address
// spaces, stacks, heaps, and processes (2-4, 6) come into being lazily,
// once per StartProgram/fork/exec call, exactly as the source kernel
// builds them per-process rather than at boot.
//
// hartID and dtbPA mirror kernel_main's real signature (spec.md §6) but
// are otherwise unused here: device-tree parsing to discover the real
// DRAM range and multi-hart parking (every hart but 0 calls sbi.
// HartSuspend and never returns) are both firmware/hardware concerns
// this hosted harness has no counterpart for.
func Init(hartID, dtbPA uintptr, sb sbi.Console, timer sbi.Timer, blk blockdev.Device, fat fatfs.Filesystem, now func() int64) (*Kernel, defs.Err_t) {
	_ = dtbPA
	_ = blk // consumed only by fatfs's real backing in a production build

	frames := mem.NewFrameAllocator(0, DRAMFrames)
	tree, err := fs.Mount(fat)
	if err != nil {
		return nil, defs.EINVAL
	}
	sc := sched.New()
	sysK := syscall.NewKernel(frames, tree, sc, now)
	return &Kernel{Sys: sysK, Sched: sc, SBI: timer, Tree: tree}, 0
}

// ConsoleFiles builds the stdin/stdout/stderr FileOps every process's FD
// table is preinstalled with (spec.md §4.3), backed by the SBI console.
func ConsoleFiles(sb sbi.Console) (stdin, stdout, stderr fs.FileOps) {
	c := console{c: sb}
	return fs.NewStdin(c), fs.NewStdout(c), fs.NewStderr(c)
}

// TrapSource supplies the next trap's (scause, stval) for whatever task
// the scheduler currently has at the head of the runqueue, standing in
// for the real RISC-V trap vector: hardware that captures scause/stval/
// sepc into registers before ever handing control to Go. That capture is
// the "boot assembly shim" spec.md §1 explicitly scopes out of this
// kernel's core, so Run takes it as a collaborator instead of reading
// CSRs itself — a production build supplies one reading real registers;
// tests supply a synthetic source.
type TrapSource interface {
	NextTrap(t *proc.Task) (scause, stval uint64, ok bool)
}

// RunOnce advances the scheduler by exactly one step: starting a pending
// program if the runqueue is empty, skipping a vfork-waiting head, or
// classifying and dispatching one trap for the running head task. It
// returns false once there is nothing left to do (drained runqueue and
// empty pending-program queue), matching the point at which a real boot
// would call sbi.Shutdown (spec.md §6).
func (k *Kernel) RunOnce(stdin, stdout, stderr fs.FileOps, traps TrapSource) bool {
	result, task := k.Sched.Step()
	switch result {
	case sched.StepIdle:
		prog, ok := k.Sched.PopProgram()
		if !ok {
			return false
		}
		if _, err := k.Sys.StartProgram(prog.Argv, stdin, stdout, stderr); err != 0 {
			fmt.Printf("boot: failed to start %v: %v\n", prog.Argv, err)
		}
		return true

	case sched.StepSkip:
		return true

	case sched.StepRun:
		scause, stval, ok := traps.NextTrap(task)
		if !ok {
			// No trap pending for this task yet (e.g. it is still
			// executing in user mode in a real boot); nothing to do
			// this step.
			return true
		}
		outcome := trapframe.Dispatch(task, task.Proc.Stack, scause, stval, k.Sys)
		switch outcome {
		case trapframe.Reschedule:
			if now := k.SBI.Ticks(); k.Sched.ExhaustedQuantum(now) {
				k.Sched.RefreshQuantum(now)
				k.Sched.RotateToTail()
			}
		case trapframe.KillTask:
			k.killTask(task)
		}
		return true
	}
	return true
}

// killTask tears down a task whose trap handler reported an
// unrecoverable fault (spec.md §2: "other faults terminate the task"),
// reusing the same exit bookkeeping sysExit performs for a clean
// exit_group(2) so a faulting task doesn't leak its process-limit slot
// or leave vfork-waiting parents stuck.
func (k *Kernel) killTask(t *proc.Task) {
	p := t.Proc
	k.Sys.Counters.Faults.Inc()
	if !k.faults.Seen(3) {
		fmt.Printf("boot: pid %d killed by fault:\n%s", p.Pid, diag.FaultTrace(3))
	}
	p.SetExitCode(int(defs.KillCurrentProc))
	p.AS.Teardown()
	k.Sched.RemoveHead()
	k.Sys.Unregister(p.Pid)
	if p.Parent != nil {
		k.Sched.ClearVforkWait(p.Parent.Pid)
	}
}

// Run drives RunOnce forever, the "scheduler then runs forever" spec.md
// §2 describes, shutting down via sb once the pending-program queue and
// runqueue both drain. It never returns on real hardware (kernel_main's
// -> ! signature); the hosted stdlib build returns once SBI.Shutdown has
// been observed, so cmd/kernel's main can exit cleanly instead of
// spinning.
func (k *Kernel) Run(stdin, stdout, stderr fs.FileOps, traps TrapSource, sb interface{ Shutdown() }) {
	for k.RunOnce(stdin, stdout, stderr, traps) {
	}
	sb.Shutdown()
}
