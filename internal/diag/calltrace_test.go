package diag

import "testing"

func TestFaultTraceIncludesCaller(t *testing.T) {
	trace := FaultTrace(0)
	if trace == "" {
		t.Fatalf("expected a non-empty trace")
	}
}

func callFault(d *FaultDedup) bool {
	return d.Seen(0)
}

func TestFaultDedupSuppressesRepeatedChain(t *testing.T) {
	var d FaultDedup
	var results [2]bool
	for i := range results {
		results[i] = callFault(&d)
	}
	if results[0] {
		t.Fatalf("expected first occurrence to be novel")
	}
	if !results[1] {
		t.Fatalf("expected repeated call chain to be suppressed")
	}
	if d.Count() != 1 {
		t.Fatalf("expected one distinct chain recorded, got %d", d.Count())
	}
}
