// Package trapframe classifies and dispatches RISC-V traps (spec.md §4.5,
// §6). On real hardware this is the assembly trap vector plus the C/Go
// boundary biscuit's entry.S and lowlevel.go provide; spec.md scopes that
// assembly out ("the trap entry/exit assembly shim... is modeled as an
// external collaborator"), so Dispatch stands in for it: a single
// classify-then-route function callers invoke directly with the values a
// real trap vector would have pulled out of scause/stval/sepc.
package trapframe

import (
	"riscvkern/internal/defs"
	"riscvkern/internal/mem"
	"riscvkern/internal/proc"
	"riscvkern/internal/vm"
)

// Scause cause codes this kernel handles (RISC-V privileged spec), named
// in spec.md §4.5/§6.
const (
	InterruptBit = 1 << 63

	CauseInstrPageFault  = 12
	CauseLoadPageFault   = 13
	CauseStorePageFault  = 15
	CauseIllegalInstr    = 2
	CauseEcallFromUMode  = 8

	CauseTimerInterrupt = InterruptBit | 5
)

// Outcome tells the caller (internal/boot's RunOnce)
// what to do after a trap has been handled.
type Outcome int

const (
	Resume      Outcome = iota // sepc advanced (if needed); resume this task
	Reschedule                 // timer fired; caller should consult sched.Scheduler
	KillTask                   // unrecoverable fault; caller should tear the task down
)

// SyscallHandler is implemented by internal/syscall's dispatch table.
// Accepting it as an interface here (rather than importing internal/
// syscall directly) avoids a dependency cycle, since syscall handlers
// need proc.Task and vm.AddressSpace but trapframe needs nothing from
// syscall beyond "run the syscall currently named by a7".
type SyscallHandler interface {
	Dispatch(t *proc.Task) uint64
}

// Dispatch classifies one trap and routes it: ecalls run the syscall
// table and advance sepc past the ecall instruction (spec.md §4.5);
// store/load/instruction page faults inside a stack's growth region grow
// the stack one page (spec.md §4.5's stack-growth fault path) and
// anything outside it kills the task; a timer interrupt just reports
// Reschedule for the caller's scheduler loop to act on.
func Dispatch(t *proc.Task, stack *vm.Stack, scause, stval uint64, sys SyscallHandler) Outcome {
	switch scause {
	case CauseEcallFromUMode:
		ret := sys.Dispatch(t)
		t.Context.SetA0(ret)
		t.Context.Sepc += 4 // ecall is always a 4-byte instruction
		return Resume

	case CauseTimerInterrupt:
		return Reschedule

	case CauseStorePageFault, CauseLoadPageFault, CauseInstrPageFault:
		va := mem.VirtAddr(stval)
		if stack != nil && stack.InGrowthRegion(va) {
			if err := stack.Grow(); err != 0 {
				return KillTask
			}
			return Resume
		}
		return KillTask

	case CauseIllegalInstr:
		return KillTask

	default:
		return KillTask
	}
}

// ErrToErrno converts a kernel Err_t into the negated-errno (or
// SysCallErr sentinel) convention spec.md §7 describes for a0 on syscall
// failure.
func ErrToErrno(err defs.Err_t) uint64 {
	if err == 0 {
		return 0
	}
	if err < 0 {
		return uint64(int64(err)) // already a negated real errno
	}
	return uint64(defs.SysCallErr)
}
