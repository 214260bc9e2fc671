package fs

import (
	"testing"

	"riscvkern/internal/fatfs"
	"riscvkern/internal/ustr"
)

func TestRegularFileRoundTrip(t *testing.T) {
	fat := fatfs.NewMemory()
	tree, err := Mount(fat)
	if err != nil {
		t.Fatal(err)
	}
	n, ferr := tree.Resolve(tree.Root(), ustr.Ustr("/hello.txt"), true)
	if ferr != 0 {
		t.Fatal(ferr)
	}
	fops, ferr := tree.Open(n)
	if ferr != 0 {
		t.Fatal(ferr)
	}
	want := []byte("hello world")
	if _, e := fops.WriteAt(want, 0); e != 0 {
		t.Fatal(e)
	}
	got := make([]byte, len(want))
	if _, e := fops.ReadAt(got, 0); e != 0 {
		t.Fatal(e)
	}
	if string(got) != string(want) {
		t.Fatalf("round trip mismatch: got %q want %q", got, want)
	}
}

func TestGetdentsOnEmptyDirReturnsNoEntries(t *testing.T) {
	fat := fatfs.NewMemory()
	tree, _ := Mount(fat)
	dir, ferr := tree.Mkdir(tree.Root(), "empty")
	if ferr != 0 {
		t.Fatal(ferr)
	}
	fops, ferr := tree.Open(dir)
	if ferr != 0 {
		t.Fatal(ferr)
	}
	df := fops.(*DirFile)
	if got := df.Entries(); len(got) != 0 {
		t.Fatalf("expected 0 entries, got %d", len(got))
	}
}

func TestPipeRoundTripSmall(t *testing.T) {
	r, w, perr := NewPipe()
	if perr != 0 {
		t.Fatal(perr)
	}
	n, err := w.WriteAt([]byte("abcde"), 0)
	if err != 0 || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	buf := make([]byte, 8)
	n, err = r.ReadAt(buf, 0)
	if err != 0 {
		t.Fatal(err)
	}
	if n != 5 || string(buf[:5]) != "abcde" {
		t.Fatalf("read back %q (n=%d)", buf[:n], n)
	}
}

func TestPipeTruncatesOnOverflow(t *testing.T) {
	r, w, perr := NewPipe()
	if perr != 0 {
		t.Fatal(perr)
	}
	big := make([]byte, PipeCapacity+100)
	for i := range big {
		big[i] = byte(i)
	}
	if _, err := w.WriteAt(big, 0); err != 0 {
		t.Fatal(err)
	}
	if got := w.Size(); got != PipeCapacity {
		t.Fatalf("expected truncation to %d bytes, got %d", PipeCapacity, got)
	}
	buf := make([]byte, PipeCapacity)
	n, _ := r.ReadAt(buf, 0)
	if n != PipeCapacity {
		t.Fatalf("expected to read back %d bytes, got %d", PipeCapacity, n)
	}
	// the truncation keeps the *last* PipeCapacity bytes, so the earliest
	// written bytes are the ones lost.
	if buf[0] != big[100] {
		t.Fatalf("expected truncation to drop the oldest bytes")
	}
}

func TestSocketWriteThenReadDrainsQueue(t *testing.T) {
	s := NewSocket()
	if n, err := s.WriteAt([]byte("hello"), 0); err != 0 || n != 5 {
		t.Fatalf("WriteAt = %d, %v; want 5, 0", n, err)
	}
	if s.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", s.Size())
	}
	buf := make([]byte, 5)
	if n, err := s.ReadAt(buf, 0); err != 0 || n != 5 {
		t.Fatalf("ReadAt = %d, %v; want 5, 0", n, err)
	}
	if string(buf) != "hello" {
		t.Fatalf("ReadAt contents = %q, want %q", buf, "hello")
	}
	if s.Size() != 0 {
		t.Fatalf("Size() after drain = %d, want 0", s.Size())
	}
}

func TestDevZeroFillsBuffer(t *testing.T) {
	z := DevZero{}
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0xff
	}
	if _, err := z.ReadAt(buf, 0); err != 0 {
		t.Fatal(err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, b)
		}
	}
}
