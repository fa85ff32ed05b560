package proc

import (
	"eduos/kernel/cpu"
	"eduos/kernel/gdt"
	"eduos/kernel/kfmt"
	"eduos/kernel/mem"
)

// current is the task presently occupying the CPU. It is nil until the
// first call to SwitchTo.
var current *Task

// Current returns the task presently occupying the CPU.
func Current() *Task {
	return current
}

// SwitchTo implements the context-switch contract: it marks the outgoing
// task Ready (unless it has already moved to a terminal or waiting state),
// marks next Running, reloads CR3 only if the address space actually
// changes, points the TSS at next's kernel stack, and then either IRETs into
// ring 3 (a first-run user task) or performs an ordinary register
// save/restore (every other case).
//
// A nil AS (every kernel task's AS field) means "whatever is currently
// loaded": kernel tasks run fine under any address space because the
// kernel's half is mirrored into every one of them, so switching to or from
// a kernel task never touches CR3.
//
// Interrupts are disabled for the whole of this function, so nothing can
// observe a half-switched task. The first-run path re-enables them via the
// eflags word built into the IRET frame; every other path re-enables them
// explicitly once switchContext returns, which happens on a future call to
// SwitchTo, in the stack frame of whichever task this one is switching back
// into.
func SwitchTo(next *Task) {
	cpu.DisableInterrupts()

	prev := current
	if prev != nil && prev.State == StateRunning {
		prev.State = StateReady
	}
	next.State = StateRunning
	current = next

	if next.AS != nil && (prev == nil || prev.AS != next.AS) {
		next.AS.Activate()
	}

	gdt.SetKernelStack(next.KernelStack + uintptr(kernelStackPages)*uintptr(mem.PageSize))

	if next.Ring == RingUser && next.firstRun {
		next.firstRun = false
		enterTask(&next.context)
		kfmt.Panic("unreachable: enterTask does not return")
	}

	var prevCtx *cpuContext
	if prev != nil {
		prevCtx = &prev.context
	} else {
		// There is no outgoing task on the very first schedule; switchContext
		// still needs somewhere to spill a context nobody will ever read.
		var discarded cpuContext
		prevCtx = &discarded
	}

	switchContext(prevCtx, &next.context)

	// Control reaches here only when some future SwitchTo call restores this
	// task's context again; resuming with interrupts re-enabled is what lets
	// it be preempted again.
	cpu.EnableInterrupts()
}
