// Package sbi narrows the SBI console/timer/shutdown/hart_suspend
// primitives to the contract spec.md §6 assigns them: consumed, not
// implemented, by this kernel core. Memory supplies in-memory stand-ins
// sufficient to drive cmd/kernel and the test suite without real
// firmware.
package sbi

// Console is the SBI console contract: putchar(u8).
type Console interface {
	Putchar(c byte)
}

// Timer is the SBI timer contract: set_timer(u64), plus the tick counter
// a real CLINT increments that the timer ISR reads (spec.md §4.4).
type Timer interface {
	SetTimer(deadline uint64)
	Ticks() uint64
}

// Memory is an in-memory Console that buffers output and a Timer driven
// by an explicit Advance call instead of real hardware ticks.
type Memory struct {
	Output   []byte
	deadline uint64
	ticks    uint64
	shutdown bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Putchar(c byte) { m.Output = append(m.Output, c) }

func (m *Memory) SetTimer(deadline uint64) { m.deadline = deadline }

func (m *Memory) Ticks() uint64 { return m.ticks }

// Advance simulates n timer interrupts firing.
func (m *Memory) Advance(n uint64) { m.ticks += n }

// Deadline exposes the last value passed to SetTimer, used by tests that
// check the scheduler refreshes its quantum threshold on every switch.
func (m *Memory) Deadline() uint64 { return m.deadline }

// Shutdown and HartSuspend round out the §6 contract; Memory treats
// Shutdown as a marker rather than actually exiting the process, since a
// hosted test run must survive it.
func (m *Memory) Shutdown() { m.shutdown = true }

func (m *Memory) HartSuspend(state, resumePA, param uintptr) {}

// ShutdownRequested reports whether Shutdown has been called, for tests
// asserting the exit path without tearing down the test process.
func (m *Memory) ShutdownRequested() bool { return m.shutdown }
