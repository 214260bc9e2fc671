package sched

import (
	"testing"

	"riscvkern/internal/proc"
)

func TestRoundRobinRotation(t *testing.T) {
	s := New()
	t1 := &proc.Task{Pid: 1000}
	t2 := &proc.Task{Pid: 1001}
	s.Enqueue(t1)
	s.Enqueue(t2)
	if s.Head() != t1 {
		t.Fatalf("expected t1 at head")
	}
	s.RotateToTail()
	if s.Head() != t2 {
		t.Fatalf("expected t2 at head after rotate")
	}
}

func TestRemoveHeadOnExit(t *testing.T) {
	s := New()
	t1 := &proc.Task{Pid: 1000}
	t2 := &proc.Task{Pid: 1001}
	s.Enqueue(t1)
	s.Enqueue(t2)
	removed := s.RemoveHead()
	if removed != t1 {
		t.Fatalf("expected t1 removed")
	}
	if s.Head() != t2 {
		t.Fatalf("expected t2 at head")
	}
}

func TestStepSkipsVforkWaitingHead(t *testing.T) {
	s := New()
	t1 := &proc.Task{Pid: 1000}
	t2 := &proc.Task{Pid: 1001}
	s.Enqueue(t1)
	s.Enqueue(t2)
	s.MarkVforkWait(1000)

	kind, task := s.Step()
	if kind != StepSkip || task != nil {
		t.Fatalf("expected StepSkip, got %v/%v", kind, task)
	}
	kind, task = s.Step()
	if kind != StepRun || task != t2 {
		t.Fatalf("expected StepRun(t2), got %v/%v", kind, task)
	}
}

func TestStepIdleWhenEmpty(t *testing.T) {
	s := New()
	kind, task := s.Step()
	if kind != StepIdle || task != nil {
		t.Fatalf("expected StepIdle on empty runqueue")
	}
}

func TestPendingProgramQueueFIFO(t *testing.T) {
	s := New()
	s.EnqueueProgram("/init")
	s.EnqueueProgram("/bin/sh")
	p, ok := s.PopProgram()
	if !ok || p.Argv[0] != "/init" {
		t.Fatalf("expected /init first")
	}
	p, ok = s.PopProgram()
	if !ok || p.Argv[0] != "/bin/sh" {
		t.Fatalf("expected /bin/sh second")
	}
	if _, ok := s.PopProgram(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQuantumExhaustion(t *testing.T) {
	s := New()
	s.RefreshQuantum(0)
	if s.ExhaustedQuantum(Quantum - 1) {
		t.Fatalf("should not be exhausted before quantum ticks elapse")
	}
	if !s.ExhaustedQuantum(Quantum) {
		t.Fatalf("should be exhausted once quantum ticks elapse")
	}
}
