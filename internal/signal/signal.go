// Package signal implements signal delivery using the per-process heap's
// reserved temp page to stash the interrupted user context, as spec.md
// §3/§4.6 describe: "signals save the interrupted context to a reserved
// heap page and resume execution at the handler; sigreturn restores it."
// Grounded on the Context/heap plumbing already built in internal/proc
// and internal/vm (no prior RISC-V signal trampoline exists to draw on —
// biscuit targets x86-64 — so this package follows spec.md directly, the
// way internal/trapframe does for trap classification).
package signal

import (
	"riscvkern/internal/defs"
	"riscvkern/internal/mem"
	"riscvkern/internal/proc"
)

// contextSize is the packed byte size of a SignalUserContext snapshot:
// 31 GPRs + sepc + sstatus, each 8 bytes.
const contextSize = (31 + 2) * 8

// frameSource is the minimal FrameAllocator capability signal delivery
// needs: direct access to a process's temp-page frame.
type frameSource interface {
	Dmap(mem.PPN) []byte
}

// Deliver saves t's current Context into the process's reserved temp
// page (SignalUserContext, spec.md §3) and redirects the task to run the
// registered handler for sig, matching the (handler_va, flags,
// restorer_va, mask) tuple in spec.md §3's SigAction. It is a no-op
// (returns false) if no handler is installed for sig.
func Deliver(t *proc.Task, p *proc.Process, frames_ frameSource, tempPagePPN mem.PPN, sig int) bool {
	if sig < 0 || sig >= proc.NumSignals {
		return false
	}
	act := p.SigActions[sig]
	if act.HandlerVA == 0 {
		return false
	}

	saveContext(frames_, tempPagePPN, &t.Context)

	// Stash the pre-handler mask in the temp page just past the saved
	// context; Return reads it back out when restoring the context.
	putLE(frames_.Dmap(tempPagePPN)[contextSize:], t.SigMask)
	t.SigMask = act.Mask

	// a0 = signum, matching the Linux RISC-V signal-handler calling
	// convention the target libc expects (spec.md §4.6).
	t.Context.Gpr[9] = uint64(sig)
	// ra (x1, Gpr[0]) points at the restorer so a handler that `ret`s
	// invokes sigreturn, per spec.md §4.6.
	t.Context.Gpr[0] = uint64(act.RestorerVA)
	t.Context.Sepc = uint64(act.HandlerVA)
	return true
}

// Return implements rt_sigreturn (spec.md §4.5 #139): restore the
// interrupted Context from the process's temp page and the signal mask
// that was active before delivery, then clear the temp page.
func Return(t *proc.Task, frames_ frameSource, tempPagePPN mem.PPN) defs.Err_t {
	buf := frames_.Dmap(tempPagePPN)
	savedMask := getLE(buf[contextSize:])
	restoreContext(frames_, tempPagePPN, &t.Context)
	t.SigMask = savedMask
	for i := range buf {
		buf[i] = 0
	}
	return defs.SigReturn
}

func saveContext(frames frameSource, ppn mem.PPN, c *proc.Context) {
	buf := frames.Dmap(ppn)
	off := 0
	for _, g := range c.Gpr {
		putLE(buf[off:], g)
		off += 8
	}
	putLE(buf[off:], c.Sepc)
	off += 8
	putLE(buf[off:], c.Sstatus)
}

func restoreContext(frames frameSource, ppn mem.PPN, c *proc.Context) {
	buf := frames.Dmap(ppn)
	off := 0
	for i := range c.Gpr {
		c.Gpr[i] = getLE(buf[off:])
		off += 8
	}
	c.Sepc = getLE(buf[off:])
	off += 8
	c.Sstatus = getLE(buf[off:])
}

func putLE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func getLE(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
