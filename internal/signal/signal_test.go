package signal

import (
	"testing"

	"riscvkern/internal/defs"
	"riscvkern/internal/mem"
	"riscvkern/internal/proc"
)

func TestDeliverSavesContextAndJumpsToHandler(t *testing.T) {
	frames := mem.NewFrameAllocator(0, 16)
	ppn, err := frames.Alloc()
	if err != 0 {
		t.Fatal(err)
	}

	p := &proc.Process{}
	p.SigActions[5] = proc.SigAction{HandlerVA: 0x4000, RestorerVA: 0x4100, Mask: 0xff}

	task := &proc.Task{}
	task.Context.Sepc = 0x1234
	task.Context.Gpr[9] = 0xdead // a0 before delivery
	task.SigMask = 0x1

	ok := Deliver(task, p, frames, ppn, 5)
	if !ok {
		t.Fatalf("expected delivery to succeed")
	}
	if task.Context.Sepc != 0x4000 {
		t.Fatalf("expected sepc at handler, got %#x", task.Context.Sepc)
	}
	if task.Context.A0() != 5 {
		t.Fatalf("expected a0=signum 5, got %d", task.Context.A0())
	}
	if task.SigMask != 0xff {
		t.Fatalf("expected handler mask installed")
	}

	if err := Return(task, frames, ppn); err != defs.SigReturn {
		t.Fatalf("expected SigReturn control signal, got %v", err)
	}
	if task.Context.Sepc != 0x1234 {
		t.Fatalf("expected sepc restored to 0x1234, got %#x", task.Context.Sepc)
	}
	if task.Context.A0() != 0xdead {
		t.Fatalf("expected a0 restored, got %#x", task.Context.A0())
	}
}

func TestDeliverNoopWhenNoHandlerInstalled(t *testing.T) {
	frames := mem.NewFrameAllocator(0, 16)
	ppn, _ := frames.Alloc()
	p := &proc.Process{}
	task := &proc.Task{}
	if Deliver(task, p, frames, ppn, 9) {
		t.Fatalf("expected no-op with no handler installed")
	}
}
