// Command kernel is the boot shim: it owns the one Go symbol (main) a
// real linker script would place at the reset vector, and its only job
// is to call into internal/boot the way gopher-os's stub.go/boot.go call
// into kernel.Kmain — kept as a thin trampoline so the actual init-and-run
// logic in internal/boot stays unit-testable without a real RISC-V
// target.
package main

import (
	"flag"
	"time"

	"riscvkern/internal/blockdev"
	"riscvkern/internal/boot"
	"riscvkern/internal/fatfs"
	"riscvkern/internal/proc"
	"riscvkern/internal/sbi"
)

// hartID and dtbPA are the arguments a real firmware SBI call hands
// kernel_main (spec.md §6); this hosted entry point has no firmware
// behind it, so they are fixed at the values hart 0 / no device tree
// would see.
var hartID, dtbPA uintptr

// noTraps never reports a pending trap: this hosted build has no real
// RISC-V hart generating scause/stval, so nothing beyond starting the
// pending-program queue is exercised once main runs. A real port
// supplies a TrapSource that reads the hart's trap CSRs instead.
type noTraps struct{}

func (noTraps) NextTrap(t *proc.Task) (uint64, uint64, bool) { return 0, 0, false }

func main() {
	skelDir := flag.String("skel", "", "host directory to populate the boot filesystem from")
	flag.Parse()

	// Firmware calls kernel_main once per hart with that hart's id in
	// hartID; real boot code parks every hart but 0 via SBI
	// hart_suspend and never returns (spec.md §6). This hosted entry
	// point only ever runs as hart 0, so that branch has no callable
	// path here — an actual multi-hart port's assembly trampoline would
	// supply varying hartID values and take it above.
	sb := sbi.NewMemory()
	blk := blockdev.NewMemory(2048)
	fat := fatfs.NewMemory()
	if *skelDir != "" {
		if err := fat.PopulateFromDir(*skelDir); err != nil {
			panic(err)
		}
	}

	start := time.Now()
	now := func() int64 { return int64(time.Since(start)) }

	k, err := boot.Init(hartID, dtbPA, sb, sb, blk, fat, now)
	if err != 0 {
		panic(err)
	}

	// The hard-coded pending-program queue spec.md §4.4/§6 describes as
	// "a test harness, not a stable interface": in the absence of a real
	// init binary on the mounted FAT image, this boots nothing and the
	// run loop falls straight through to shutdown below.
	k.Sched.EnqueueProgram("/bin/init")

	stdin, stdout, stderr := boot.ConsoleFiles(sb)
	k.Run(stdin, stdout, stderr, noTraps{}, sb)
}
