package mem

import (
	"testing"

	"riscvkern/internal/defs"
)

func TestAllocZeroesAndMarksUsed(t *testing.T) {
	fa := NewFrameAllocator(0, 16)
	ppn, err := fa.Alloc()
	if err != 0 {
		t.Fatalf("Alloc failed: %v", err)
	}
	if !fa.Used(ppn) {
		t.Fatalf("frame %d not marked used after Alloc", ppn)
	}
	pg := fa.Dmap(ppn)
	for i, b := range pg {
		if b != 0 {
			t.Fatalf("frame not zeroed at byte %d: %x", i, b)
		}
	}
}

func TestAllocExhaustion(t *testing.T) {
	fa := NewFrameAllocator(0, 2)
	if _, err := fa.Alloc(); err != 0 {
		t.Fatal(err)
	}
	if _, err := fa.Alloc(); err != 0 {
		t.Fatal(err)
	}
	if _, err := fa.Alloc(); err != defs.NoEnoughPage {
		t.Fatalf("expected NoEnoughPage, got %v", err)
	}
}

func TestAllocContigDescendsFromTop(t *testing.T) {
	fa := NewFrameAllocator(0, 10)
	ppn, err := fa.AllocContig(3)
	if err != 0 {
		t.Fatal(err)
	}
	if ppn != 7 {
		t.Fatalf("expected contiguous run to start at top (7), got %d", ppn)
	}
	for i := 0; i < 3; i++ {
		if !fa.Used(ppn + PPN(i)) {
			t.Fatalf("frame %d not used", ppn+PPN(i))
		}
	}
}

func TestFreeReleasesFrames(t *testing.T) {
	fa := NewFrameAllocator(0, 4)
	ppn, _ := fa.AllocContig(4)
	fa.Free(ppn, 4)
	for i := PPN(0); i < 4; i++ {
		if fa.Used(i) {
			t.Fatalf("frame %d still used after Free", i)
		}
	}
	if got := fa.FreeCount(); got != 4 {
		t.Fatalf("FreeCount = %d, want 4", got)
	}
}
