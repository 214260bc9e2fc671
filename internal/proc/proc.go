// Package proc implements the process/task model described in spec.md
// §3 and §4.3: Process = address space + FD table + children + signal
// dispositions; Task = thread within a process (context, tid, signal
// mask). Grounded on biscuit's proc package layout (biscuit/src/proc,
// referenced from vm/as.go's Pgfault(tid, ...) signature) but rebuilt
// for this kernel's simpler non-SMP, non-COW address space model.
package proc

import (
	"sync"

	"riscvkern/internal/accnt"
	"riscvkern/internal/defs"
	"riscvkern/internal/fd"
	"riscvkern/internal/fs"
	"riscvkern/internal/limits"
	"riscvkern/internal/mem"
	"riscvkern/internal/vm"
)

// Status enumerates a Task's scheduling state (spec.md §3). Invariant:
// exactly one task is Running at any time — the scheduler's
// head-of-queue is that task (enforced by internal/sched, not here).
type Status int

const (
	Ready Status = iota
	Running
	Pause
	Stop
	Exit
	Waiting
)

// NumSignals is the size of the signal-action array every process owns
// (spec.md §3: "signal-action array of 64 entries").
const NumSignals = 64

// SigAction mirrors the (handler_va, flags, restorer_va, mask) tuple in
// spec.md §3.
type SigAction struct {
	HandlerVA  uintptr
	Flags      uint64
	RestorerVA uintptr
	Mask       uint64
}

// Context holds the GPRs, sepc, and sstatus a trap saves and Task.Run
// restores (spec.md §4.3, §4.5). x0 is hardwired zero in RISC-V and is
// not stored; index i here corresponds to register x(i+1), so a0 is
// Gpr[9] (x10).
type Context struct {
	Gpr     [31]uint64
	Sepc    uint64
	Sstatus uint64
}

// A0 and SetA0 access x10, the syscall argument/return register.
func (c *Context) A0() uint64     { return c.Gpr[9] }
func (c *Context) SetA0(v uint64) { c.Gpr[9] = v }

// A7 reads x17, the syscall number register (spec.md §4.5).
func (c *Context) A7() uint64 { return c.Gpr[16] }

// Arg returns syscall argument i (0-based, a0..a6 map to x10..x16).
func (c *Context) Arg(i int) uint64 { return c.Gpr[9+i] }

// nextPid is the global monotonically allocated pid counter, protected
// by its own mutex per spec.md §5's single-spinlock-per-global-structure
// discipline.
var nextPidMu sync.Mutex
var nextPid = defs.FirstPid

func allocPid() defs.Pid_t {
	nextPidMu.Lock()
	defer nextPidMu.Unlock()
	p := nextPid
	nextPid++
	return p
}

// Process is identified by a monotonically allocated pid ≥1000 (spec.md
// §3). It holds an address space, parent (weak: a back pointer the child
// does not own), children (strong), a task vector
// (weak: the scheduler's runqueue holds the strong Task handles, the
// pattern spec.md §9 calls out for resolving the Process/Task ownership
// cycle), an FD table, a workspace inode, signal dispositions, and
// cumulative accounting.
type Process struct {
	mu sync.Mutex

	Pid      defs.Pid_t
	Parent   *Process
	Children []*Process
	Tasks    []*Task

	AS    *vm.AddressSpace
	Stack *vm.Stack
	Heap  *vm.Heap
	Fds   *fd.Table
	Cwd   *fs.Inode

	SigActions [NumSignals]SigAction
	Accnt      accnt.Accnt_t

	ExitCode *int
}

// Task is a thread within a Process: (pid, tid, context, status,
// wake_time, sig_mask, clear_child_tid_addr), sharing the parent process
// by strong reference (spec.md §3).
type Task struct {
	Pid     defs.Pid_t
	Tid     defs.Tid_t
	Context Context
	Status  Status
	WakeTime int64
	SigMask  uint64

	ClearChildTidAddr uintptr

	Proc *Process
}

// New creates a fresh process: fresh address space, empty RSS, default
// FD table {0:stdin,1:stdout,2:stderr}, empty heap, fresh user stack
// (spec.md §4.3).
func New(pid defs.Pid_t, parent *Process, frames *mem.FrameAllocator,
	stdin, stdout, stderr fs.FileOps, rootCwd *fs.Inode) (*Process, *Task, defs.Err_t) {

	if !limits.Syslimit.Procs.Take() {
		return nil, nil, defs.EAGAIN
	}
	as, err := vm.NewAddressSpace(frames)
	if err != 0 {
		limits.Syslimit.Procs.Give()
		return nil, nil, err
	}
	stack, err := vm.NewStack(as, frames)
	if err != 0 {
		as.Teardown()
		limits.Syslimit.Procs.Give()
		return nil, nil, err
	}
	p := &Process{
		Pid:    pid,
		Parent: parent,
		AS:     as,
		Stack:  stack,
		Heap:   vm.NewHeap(as, frames, 0),
		Fds:    fd.NewTable(stdin, stdout, stderr),
		Cwd:    rootCwd,
	}
	t := &Task{Pid: pid, Tid: 0, Status: Ready, Proc: p}
	p.Tasks = append(p.Tasks, t)
	if parent != nil {
		parent.mu.Lock()
		parent.Children = append(parent.Children, p)
		parent.mu.Unlock()
	}
	return p, t, 0
}

// NewPid allocates the next pid for a fresh top-level process.
func NewPid() defs.Pid_t { return allocPid() }

// NextTid returns the tid for the next cloned task: the initial task is
// tid 0 and further clones take the current task-vector length (spec.md
// §4.3).
func (p *Process) NextTid() defs.Tid_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	return defs.Tid_t(len(p.Tasks))
}

func (p *Process) AddTask(t *Task) {
	p.mu.Lock()
	p.Tasks = append(p.Tasks, t)
	p.mu.Unlock()
}

// RemoveTask drops t from the task vector (e.g. on exit).
func (p *Process) RemoveTask(t *Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.Tasks {
		if x == t {
			p.Tasks = append(p.Tasks[:i], p.Tasks[i+1:]...)
			return
		}
	}
}

// AnyTaskRunnable reports whether at least one task is in
// {Ready,Running,Waiting} — the invariant spec.md §8 requires for any
// process still in the runqueue with ExitCode == nil.
func (p *Process) AnyTaskRunnable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.Tasks {
		if t.Status == Ready || t.Status == Running || t.Status == Waiting {
			return true
		}
	}
	return false
}

// SetExitCode records the final exit code, which triggers pickup by a
// waiting parent (spec.md §3's Process lifecycle).
func (p *Process) SetExitCode(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := code
	p.ExitCode = &c
}

// Exited reports the exit code if one has been recorded.
func (p *Process) Exited() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ExitCode == nil {
		return 0, false
	}
	return *p.ExitCode, true
}

// Fork duplicates this process for sys_fork/clone(VFORK|VM|SIGCHLD)
// (spec.md §4.3, §4.5 #220): a full address-space copy (no COW, per
// spec.md's Non-goals), a cloned FD table, a fresh pid, and a single
// Ready task whose Context is a copy of the parent's (the caller
// overwrites a0 to 0 in the child, matching fork(2)'s contract).
func (p *Process) Fork(childPid defs.Pid_t, frames *mem.FrameAllocator) (*Process, *Task, defs.Err_t) {
	if !limits.Syslimit.Procs.Take() {
		return nil, nil, defs.EAGAIN
	}
	p.mu.Lock()
	parentTask := p.Tasks[0]
	p.mu.Unlock()

	nas, err := p.AS.Clone(frames)
	if err != 0 {
		limits.Syslimit.Procs.Give()
		return nil, nil, err
	}
	child := &Process{
		Pid:        childPid,
		Parent:     p,
		AS:         nas,
		Stack:      p.Stack.CloneFor(nas),
		Heap:       p.Heap.CloneFor(nas),
		Fds:        p.Fds.Clone(),
		Cwd:        p.Cwd,
		SigActions: p.SigActions,
	}
	t := &Task{Pid: childPid, Tid: 0, Status: Ready, Proc: child, Context: parentTask.Context}
	child.Tasks = append(child.Tasks, t)

	p.mu.Lock()
	p.Children = append(p.Children, child)
	p.mu.Unlock()
	return child, t, 0
}

// Exec replaces this process's address space in place with a freshly
// loaded ELF image, for execve (spec.md §4.3, §4.5 #221): a new address
// space and stack are built, the old ones are torn down, and the task's
// Context is reset to start at the new entry point. The FD table and pid
// survive exec unchanged, matching POSIX semantics.
func (p *Process) Exec(newAS *vm.AddressSpace, newStack *vm.Stack, newHeap *vm.Heap, entry, sp uint64) {
	p.AS.Teardown()
	p.AS = newAS
	p.Stack = newStack
	p.Heap = newHeap
	for i := range p.SigActions {
		p.SigActions[i] = SigAction{}
	}
	t := p.Tasks[0]
	t.Context = Context{}
	t.Context.Sepc = entry
	t.Context.Gpr[1] = sp // x2 (sp) is Gpr[1]: x(i+1) indexing, i=1 -> x2
}

// RemoveChild drops child from this process's children vector — called
// once a waiting parent has reaped it via wait4 (spec.md §3's Process
// lifecycle: "process is dropped when removed from the runqueue and the
// parent's children vector").
func (p *Process) RemoveChild(child *Process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.Children {
		if c == child {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			limits.Syslimit.Procs.Give()
			return
		}
	}
}
