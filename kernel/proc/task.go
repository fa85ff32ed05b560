// Package proc implements the task control block (TCB), the spawn paths
// that populate one, and the context-switch primitive that hands the CPU
// from one task to another. It is the kernel's model of "a thread of
// control": a kernel stack, an address space, a saved register file and the
// bookkeeping needed to place the task in the process tree and reap it once
// it exits.
package proc

import (
	"eduos/kernel/mem/pmm"
	"eduos/kernel/mem/vmm"
)

// State is a task's position in its lifecycle state machine.
type State uint8

const (
	// StateReady tasks are eligible to run and sit in the scheduler ring.
	StateReady State = iota

	// StateRunning is held by exactly one task at a time: the one
	// currently executing on the CPU.
	StateRunning

	// StateBlocked tasks are waiting on another task (currently only
	// reached via Wait); they stay in the scheduler ring, which skips them.
	StateBlocked

	// StateSleeping tasks wake automatically once the tick counter
	// reaches their WakeTime.
	StateSleeping

	// StateZombie tasks have exited but have not yet been reaped by
	// their parent; their TCB is kept alive only to hold the exit code.
	StateZombie
)

// Ring is the privilege level a task executes at.
type Ring uint8

const (
	// RingKernel tasks run with CPL 0 and share the kernel's address
	// space; they are used for in-kernel worker tasks such as the idle
	// loop.
	RingKernel Ring = 0

	// RingUser tasks run with CPL 3 against their own address space,
	// entered through the ELF loader and the syscall gate.
	RingUser Ring = 3
)

// Task is the kernel's task control block. A Task is created by SpawnKernel
// or SpawnUser, is reachable from the global task table for its entire
// lifetime, and is linked into the process tree as a child of its creator.
// The scheduler ring (kernel/sched) only ever holds a non-owning link to it
// via SchedNext.
type Task struct {
	PID      uint32
	Name     string
	State    State
	Priority uint8
	Ring     Ring

	// context holds the callee-saved register file captured by the last
	// voluntary context switch away from this task.
	context cpuContext

	// AS is this task's address space. Kernel tasks leave it nil and run
	// under whichever address space is loaded; user tasks get one of their
	// own via vmm.NewAddressSpace.
	AS *vmm.PageDirectoryTable

	// KernelStack is the virtual base address of this task's page-aligned
	// kernel stack. It backs both in-kernel execution and, for ring-3
	// tasks, the trap frame built on entry from user mode.
	KernelStack uintptr

	// KernelStackFrame is the physical frame backing KernelStack, freed
	// when this task is reaped.
	KernelStackFrame pmm.Frame

	// UserStackPhys and UserESP are only meaningful for RingUser tasks:
	// the physical frame backing the single user-stack page and the
	// initial user-mode stack pointer into it.
	UserStackPhys pmm.Frame
	UserESP       uintptr

	// EntryPoint is where this task starts running: a Go function
	// pointer for kernel tasks, or the ELF entry address for user tasks.
	EntryPoint uintptr

	CodeStart, CodeEnd uintptr
	DataStart, DataEnd uintptr
	HeapStart, HeapEnd uintptr

	// TimeSlice is decremented once per timer tick while this task is
	// Running; reaching zero triggers a reschedule.
	TimeSlice uint32
	TotalTime uint64

	// WakeTime is the tick count at which a Sleeping task becomes Ready
	// again. Unused in every other state.
	WakeTime uint64

	// Parent, FirstChild and NextSibling link this task into the process
	// tree. Parent is a weak (non-owning) back-reference; FirstChild
	// owns the head of the child list and NextSibling chains the rest.
	Parent      *Task
	FirstChild  *Task
	NextSibling *Task

	// SchedNext is the scheduler ring's forward link. It is owned and
	// maintained exclusively by kernel/sched; nothing else should write
	// it.
	SchedNext *Task

	// firstRun is cleared the first time this task is switched to. While
	// set, SwitchTo takes the IRET-into-ring-3 path instead of the normal
	// save/restore path.
	firstRun bool

	ExitCode int32
}

var (
	tasks    = map[uint32]*Task{}
	nextPID  = uint32(1)
	idleTask *Task
)

// newTask allocates a PID, registers the task in the global task table and
// links it as a child of parent (nil for the very first task spawned).
func newTask(name string, priority uint8, ring Ring, parent *Task) *Task {
	t := &Task{
		PID:           nextPID,
		Name:          name,
		State:         StateReady,
		Priority:      priority,
		Ring:          ring,
		Parent:        parent,
		firstRun:      true,
		UserStackPhys: pmm.InvalidFrame,
	}
	nextPID++

	tasks[t.PID] = t

	if parent != nil {
		t.NextSibling = parent.FirstChild
		parent.FirstChild = t
	}

	return t
}

// Lookup returns the task with the given PID, or nil if it is not in the
// task table (either it never existed or it has already been reaped).
func Lookup(pid uint32) *Task {
	return tasks[pid]
}

// remove drops a reaped Zombie from the global task table. It does not
// unlink it from the process tree: Wait has already removed it from its
// parent's child list, and any children it still has keep it as their
// Parent.
func remove(t *Task) {
	delete(tasks, t.PID)
}

// IdleTask returns the task the scheduler runs when its ready ring is empty.
func IdleTask() *Task {
	return idleTask
}

// SetIdleTask designates the task the scheduler switches to when no other
// task is Ready. It is called once by kernel/kmain during boot, after the
// idle task has been spawned.
func SetIdleTask(t *Task) {
	idleTask = t
}
