package proc

import (
	"eduos/kernel/cpu"
	"eduos/kernel/mem/pmm"
	"eduos/kernel/mem/vmm"
)

// yieldFn hands the CPU to the scheduler. It is a package-level var, set by
// kernel/sched during boot via SetYielder, so proc never imports sched:
// sched already imports proc for Task and SwitchTo.
var yieldFn = func() {}

// SetYielder registers the function Sleep, Block and Exit use to give up the
// CPU once they have changed the calling task's state.
func SetYielder(fn func()) {
	yieldFn = fn
}

// nowFn returns the scheduler's tick counter. Sleep uses it to compute a
// task's wake time without proc needing to import kernel/sched.
var nowFn = func() uint64 { return 0 }

// SetClock registers the function Sleep uses to read the current tick count.
func SetClock(fn func() uint64) {
	nowFn = fn
}

// releaseFrame returns a physical frame to the allocator. It is wired to the
// same allocator as vmm.SetFrameReleaser by kernel/kmain during boot.
var releaseFrame = func(pmm.Frame) {}

// SetFrameReleaser registers the function reap uses to free the frame a
// task's kernel stack occupied; its user stack frame is freed along with its
// address space.
func SetFrameReleaser(fn func(pmm.Frame)) {
	releaseFrame = fn
}

// Exit transitions the calling task to StateZombie, records its exit code,
// and wakes its parent if the parent is blocked inside Wait. The task's TCB
// is kept alive, still linked in the process tree, until the parent reaps it.
// Exit never returns: the scheduler will never again pick a Zombie task, so
// the yield loop below only ever runs once in practice.
func Exit(code int32) {
	cpu.DisableInterrupts()
	t := current
	t.State = StateZombie
	t.ExitCode = code
	if p := t.Parent; p != nil && p.State == StateBlocked {
		p.State = StateReady
	}
	cpu.EnableInterrupts()

	for {
		yieldFn()
	}
}

// Sleep sets the calling task's wake time ms ticks from now, marks it
// Sleeping, and yields. kernel/sched's tick handler is responsible for
// noticing the deadline has passed and marking the task Ready again.
func Sleep(ms uint64) {
	cpu.DisableInterrupts()
	t := current
	t.WakeTime = nowFn() + ms
	t.State = StateSleeping
	cpu.EnableInterrupts()

	yieldFn()
}

// Block marks the calling task Blocked and yields. The ready ring is left
// untouched: pick_next already skips any task whose state isn't Ready, and
// Unblock simply flips the state back.
func Block() {
	cpu.DisableInterrupts()
	current.State = StateBlocked
	cpu.EnableInterrupts()

	yieldFn()
}

// Unblock transitions t from Blocked back to Ready. It is a no-op if t is not
// currently Blocked, so callers don't need to track whether a wakeup race
// already happened.
func Unblock(t *Task) {
	cpu.DisableInterrupts()
	if t.State == StateBlocked {
		t.State = StateReady
	}
	cpu.EnableInterrupts()
}

// Wait blocks the calling task until one of its children becomes a Zombie,
// then reaps it: the child's exit code is written through statusOut (if
// non-nil), its TCB is freed, and its pid is returned. If the calling task
// has no children at all, Wait returns -1 immediately.
func (t *Task) Wait(statusOut *int32) int32 {
	if t.FirstChild == nil {
		return -1
	}

	for {
		cpu.DisableInterrupts()
		var prev *Task
		for c := t.FirstChild; c != nil; c = c.NextSibling {
			if c.State == StateZombie {
				if statusOut != nil {
					*statusOut = c.ExitCode
				}
				pid := int32(c.PID)
				unlinkChild(t, prev, c)
				cpu.EnableInterrupts()
				reap(c)
				return pid
			}
			prev = c
		}

		// Mark Blocked in the same critical section as the scan above: if a
		// child's Exit ran between the scan and this point, it would see a
		// Running parent and not wake it, parking us despite a ready Zombie.
		t.State = StateBlocked
		cpu.EnableInterrupts()

		yieldFn()
	}
}

// unlinkChild removes child from parent's FirstChild/NextSibling list. prev
// is child's predecessor in that list, or nil if child is the head.
func unlinkChild(parent, prev, child *Task) {
	if prev == nil {
		parent.FirstChild = child.NextSibling
	} else {
		prev.NextSibling = child.NextSibling
	}
	child.NextSibling = nil
}

// reap releases every resource a reaped task owned: its address space (for
// user tasks), its user stack frame, its kernel stack mapping and frame, and
// finally its slot in the global task table.
func reap(t *Task) {
	if t.AS != nil {
		// The user stack page lives in t.AS's user range, so
		// DestroyAddressSpace already frees its frame along with every
		// other data and page-table frame the address space owns.
		vmm.DestroyAddressSpace(t.AS)
	}

	if t.KernelStack != 0 {
		vmm.Unmap(vmm.PageFromAddress(t.KernelStack))
		releaseFrame(t.KernelStackFrame)
	}

	remove(t)
}
