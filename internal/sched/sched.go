// Package sched implements the cooperative round-robin scheduler and its
// pending-program queue described in spec.md §4.4: single-hart,
// kernel-mode code never preempted, user tasks preempted only at trap
// boundaries. Grounded on biscuit's runqueue discipline (a single
// global, lock-protected scheduling structure — biscuit/src/mem's
// percpu pattern generalizes the same idea to SMP, which this kernel
// does not need per spec.md's Non-goals).
package sched

import (
	"sync"

	"riscvkern/internal/defs"
	"riscvkern/internal/proc"
)

// Quantum is the timer-tick quantum before a running task is rotated to
// the tail of the runqueue (spec.md §4.4).
const Quantum = defs.TimerQuantum

// PendingProgram is one entry in the hard-coded boot-time command list
// (spec.md §4.4, §6: "exists only as a test harness and is not a stable
// interface").
type PendingProgram struct {
	Argv []string
}

// Scheduler holds the round-robin runqueue, the pending-program queue,
// and the vfork-wait set, all behind a single mutex — matching spec.md
// §5's "single spinlock abstraction... lock acquisition never contends"
// on this single-hart design.
type Scheduler struct {
	mu sync.Mutex

	runq []*proc.Task

	pending []PendingProgram

	// vforkWait holds pids whose parent is blocked waiting for exit/
	// execve in the child before resuming, emulating vfork without a
	// dedicated syscall (spec.md §4.4, GLOSSARY).
	vforkWait map[defs.Pid_t]bool

	ticks     uint64
	threshold uint64
}

func New() *Scheduler {
	return &Scheduler{vforkWait: map[defs.Pid_t]bool{}}
}

// Enqueue appends t to the tail of the runqueue.
func (s *Scheduler) Enqueue(t *proc.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runq = append(s.runq, t)
}

// EnqueueProgram appends a command to the pending-program queue.
func (s *Scheduler) EnqueueProgram(argv ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, PendingProgram{Argv: argv})
}

// PopProgram removes and returns the next pending program, if any.
func (s *Scheduler) PopProgram() (PendingProgram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return PendingProgram{}, false
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	return p, true
}

// Head returns the task at the front of the runqueue, or nil if empty.
func (s *Scheduler) Head() *proc.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runq) == 0 {
		return nil
	}
	return s.runq[0]
}

// Empty reports whether the runqueue has no tasks.
func (s *Scheduler) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runq) == 0
}

// RotateToTail moves the head task to the tail, as spec.md §4.4 says
// happens on sched_yield or quantum exhaustion.
func (s *Scheduler) RotateToTail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runq) < 2 {
		return
	}
	head := s.runq[0]
	s.runq = append(s.runq[1:], head)
}

// RemoveHead removes the head task from the runqueue, as spec.md §4.4
// says happens on exit/exit_group.
func (s *Scheduler) RemoveHead() *proc.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runq) == 0 {
		return nil
	}
	head := s.runq[0]
	s.runq = s.runq[1:]
	return head
}

// MarkVforkWait and ClearVforkWait manage the vfork-wait set (spec.md
// §4.4, GLOSSARY).
func (s *Scheduler) MarkVforkWait(pid defs.Pid_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vforkWait[pid] = true
}

func (s *Scheduler) ClearVforkWait(pid defs.Pid_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vforkWait, pid)
}

func (s *Scheduler) InVforkWait(pid defs.Pid_t) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vforkWait[pid]
}

// RefreshQuantum records the tick count as of the most recent switch to
// the head task; ExhaustedQuantum compares the current tick count to
// that stored threshold (spec.md §4.4: "quantum exhaustion is detected
// by comparing to a stored threshold refreshed per switch").
func (s *Scheduler) RefreshQuantum(nowTicks uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = nowTicks + Quantum
}

func (s *Scheduler) ExhaustedQuantum(nowTicks uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nowTicks >= s.threshold
}

// Step picks the next action the scheduler's main loop (spec.md §4.4)
// should take: start a pending program if the runqueue is empty, skip
// past a vfork-waiting head, or hand back the runnable head task.
type StepResult int

const (
	StepIdle StepResult = iota // nothing to run; caller should start a pending program
	StepSkip                   // head is vfork-waiting; Step has rotated past it
	StepRun                    // caller should activate and run the returned task
)

func (s *Scheduler) Step() (StepResult, *proc.Task) {
	s.mu.Lock()
	if len(s.runq) == 0 {
		s.mu.Unlock()
		return StepIdle, nil
	}
	head := s.runq[0]
	waiting := s.vforkWait[head.Pid]
	s.mu.Unlock()
	if waiting {
		s.RotateToTail()
		return StepSkip, nil
	}
	return StepRun, head
}
