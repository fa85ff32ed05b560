// Package sched implements the round-robin scheduler: a ready ring threaded
// through every task's Task.SchedNext, a tick handler driven by the PIT IRQ
// that accounts quanta and wakes sleeping tasks, and the schedule/yield
// operations that hand off to kernel/proc's context switch.
package sched

import (
	"eduos/kernel/cpu"
	"eduos/kernel/proc"
)

// quantum is the number of ticks a task runs before schedule reconsiders,
// assuming a 1ms tick (see kernel/pit). kernel/kmain may override it via
// SetQuantum from the boot command line's quantum=N switch.
var quantum uint32 = 10

var (
	// ringHead/ringTail bound the circular list of every task except the
	// idle task. Both are nil when the ring is empty.
	ringHead, ringTail *proc.Task

	ticks uint64
)

// Init wires proc's yield/clock hooks to this package so proc never needs to
// import sched. It must run before any task is spawned.
func Init() {
	proc.SetYielder(Yield)
	proc.SetClock(Ticks)
}

// Ticks returns the scheduler's monotonic tick counter.
func Ticks() uint64 {
	return ticks
}

// SetQuantum overrides the number of ticks a task runs before being
// preempted. Called at most once, during boot.
func SetQuantum(q uint32) {
	quantum = q
}

// Add inserts t at the tail of the ready ring. Called once, right after a
// task is spawned.
func Add(t *proc.Task) {
	t.SchedNext = nil
	if ringTail == nil {
		ringHead, ringTail = t, t
		t.SchedNext = t
		return
	}

	t.SchedNext = ringHead
	ringTail.SchedNext = t
	ringTail = t
}

// Remove unlinks t from the ready ring. Reaping a task does not call it, so a
// reaped task stays linked in the ring as a Zombie; Blocked, Sleeping and
// Zombie tasks all stay in the ring, since pickNext already skips non-Ready
// states.
func Remove(t *proc.Task) {
	if ringHead == nil {
		return
	}

	if ringHead == t && ringTail == t {
		ringHead, ringTail = nil, nil
		t.SchedNext = nil
		return
	}

	prev := ringTail
	for cur := ringHead; ; cur = cur.SchedNext {
		if cur == t {
			prev.SchedNext = cur.SchedNext
			if ringHead == t {
				ringHead = cur.SchedNext
			}
			if ringTail == t {
				ringTail = prev
			}
			t.SchedNext = nil
			return
		}
		prev = cur
		if cur == ringTail {
			return
		}
	}
}

// pickNext scans the ring starting just after the currently running task for
// the first Ready task, wrapping around. It returns the idle task if none of
// the ring's tasks are Ready.
func pickNext() *proc.Task {
	if ringHead == nil {
		return proc.IdleTask()
	}

	start := ringHead
	if cur := proc.Current(); cur != nil && cur.SchedNext != nil {
		start = cur.SchedNext
	}

	for cur := start; ; cur = cur.SchedNext {
		if cur.State == proc.StateReady {
			return cur
		}
		if cur.SchedNext == start {
			break
		}
	}

	return proc.IdleTask()
}

// Tick runs once per timer IRQ. It advances the tick counter, wakes every
// Sleeping task whose deadline has passed, and decrements the running task's
// time slice, calling Schedule once it reaches zero.
func Tick() {
	ticks++

	for cur := ringHead; cur != nil; cur = cur.SchedNext {
		if cur.State == proc.StateSleeping && cur.WakeTime <= ticks {
			cur.State = proc.StateReady
		}
		if cur.SchedNext == ringHead {
			break
		}
	}

	running := proc.Current()
	if running == nil || running == proc.IdleTask() {
		return
	}

	if running.TimeSlice > 0 {
		running.TimeSlice--
	}
	if running.TimeSlice == 0 {
		Schedule()
	}
}

// Schedule picks the next task to run, resets its quantum and switches to
// it. It is always called with interrupts disabled or about to be, matching
// proc.SwitchTo's own requirement.
func Schedule() {
	cpu.DisableInterrupts()
	next := pickNext()
	next.TimeSlice = quantum
	proc.SwitchTo(next)
}

// Yield is the voluntary counterpart to the tick-driven Schedule: it lets a
// task that still has quantum left give up the CPU early.
func Yield() {
	Schedule()
}
