package util

import "testing"

func TestMin(t *testing.T) {
	if Min(3, 5) != 3 {
		t.Fatalf("Min(3,5) != 3")
	}
	if Min(uint32(9), uint32(2)) != 2 {
		t.Fatalf("Min(9,2) != 2")
	}
}

func TestRoundupRounddown(t *testing.T) {
	if Rounddown(13, 4) != 12 {
		t.Fatalf("Rounddown(13,4) != 12")
	}
	if Roundup(13, 4) != 16 {
		t.Fatalf("Roundup(13,4) != 16")
	}
	if Roundup(12, 4) != 12 {
		t.Fatalf("Roundup(12,4) != 12, exact multiples should not grow")
	}
}

func TestCeildiv(t *testing.T) {
	if Ceildiv(10, 3) != 4 {
		t.Fatalf("Ceildiv(10,3) != 4")
	}
	if Ceildiv(9, 3) != 3 {
		t.Fatalf("Ceildiv(9,3) != 3")
	}
}

func TestReadnWriten(t *testing.T) {
	buf := make([]uint8, 8)
	Writen(buf, 4, 2, 0xdeadbeef)
	if got := Readn(buf, 4, 2); got != int(uint32(0xdeadbeef)) {
		t.Fatalf("Readn after Writen = %#x, want %#x", got, uint32(0xdeadbeef))
	}
}

func TestPageRoundupRounddown(t *testing.T) {
	if PageRounddown(4097) != 4096 {
		t.Fatalf("PageRounddown(4097) != 4096")
	}
	if PageRoundup(4097) != 8192 {
		t.Fatalf("PageRoundup(4097) != 8192")
	}
}
