package proc

// cpuContext is the portion of a task's register file that must survive a
// voluntary context switch: the callee-saved general-purpose registers, the
// segment selectors, and the stack/instruction pointers. Caller-saved
// registers are already spilled by the Go compiler before any call that
// might switch tasks, so they do not need a slot here.
//
// For a first-run ring-3 task, ESP instead points at the IRET frame that
// SpawnUser built on the kernel stack, and enterTask (not switchContext) is
// the entry path; the remaining fields are unused until the task has
// actually run once.
type cpuContext struct {
	EDI, ESI, EBX, EBP uint32
	DS, ES, FS, GS     uint32
	ESP, EIP           uint32
}

// switchContext saves the currently running task's register file into prev
// and restores next's, returning to whatever EIP next was last switched away
// from. It has no Go body; see context_386.s.
func switchContext(prev, next *cpuContext)

// enterTask loads ESP from ctx.ESP and performs an IRET, dropping to ring 3
// at the instruction pointer and with the user stack the IRET frame
// describes. It is only ever used for a task's first run and never returns.
// It has no Go body; see context_386.s.
func enterTask(ctx *cpuContext)
