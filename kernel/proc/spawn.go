package proc

import (
	"reflect"
	"unsafe"

	"eduos/kernel"
	"eduos/kernel/elf"
	"eduos/kernel/gdt"
	"eduos/kernel/mem"
	"eduos/kernel/mem/pmm"
	"eduos/kernel/mem/vmm"
)

const (
	// kernelStackPages is the size, in pages, of every task's kernel
	// stack. One page is enough for the bounded call depth a teaching
	// kernel's trap and syscall handlers run at.
	kernelStackPages = 1

	// userStackTop is the fixed high user-virtual address every user
	// task's single stack page is mapped at, just below the classic 3:1
	// kernel/user split. The stack grows down from here.
	userStackTop = 0xbffff000

	// An IRET that crosses a ring boundary pops eip, cs, eflags, useresp
	// and ss: five 32-bit words.
	iretFrameWords = 5

	// eflagsIF is the Interrupt Flag bit; first-run tasks start with
	// interrupts enabled.
	eflagsIF = 1 << 9
)

// allocFrame is the physical frame allocator SpawnKernel and SpawnUser use to
// back kernel stacks and user stacks (address spaces take their frames from
// vmm's own registered allocator). It is wired to the
// real allocator by kernel/kmain during boot.
var allocFrame func() (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers the physical frame allocator used by the spawn
// paths.
func SetFrameAllocator(fn func() (pmm.Frame, *kernel.Error)) {
	allocFrame = fn
}

// SpawnKernel creates a new ring-0 task that runs entirely inside the kernel
// address space. It allocates a kernel stack and builds a synthetic initial
// context so that the first context switch into it lands at entryFn with
// interrupts enabled and a clean stack.
//
// entryFn must never return; a kernel task that falls off the end of its
// entry function has nowhere to go back to.
func SpawnKernel(name string, entryFn func(), priority uint8) (*Task, *kernel.Error) {
	t := newTask(name, priority, RingKernel, current)

	stackTop, err := allocKernelStack(t)
	if err != nil {
		return nil, err
	}

	t.EntryPoint = reflect.ValueOf(entryFn).Pointer()
	t.context = cpuContext{ESP: uint32(stackTop), EIP: uint32(t.EntryPoint)}
	t.firstRun = false // kernel tasks always take the ordinary switchContext path

	return t, nil
}

// SpawnUser creates a new ring-3 task running elfBytes in its own address
// space. It creates the address space, maps a single user stack page at
// userStackTop, loads the ELF image via kernel/elf, and builds the IRET
// frame that the first switch into this task will use to drop into ring 3
// at the image's entry point.
func SpawnUser(name string, elfBytes []byte, priority uint8) (*Task, *kernel.Error) {
	t := newTask(name, priority, RingUser, current)

	as, err := vmm.NewAddressSpace()
	if err != nil {
		return nil, err
	}
	t.AS = as

	if _, err := allocKernelStack(t); err != nil {
		return nil, err
	}

	userStackFrame, err := allocFrame()
	if err != nil {
		return nil, err
	}
	t.UserStackPhys = userStackFrame

	userStackPage := vmm.PageFromAddress(userStackTop - uintptr(mem.PageSize))
	if err := as.Map(userStackPage, userStackFrame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
		return nil, err
	}
	t.UserESP = userStackTop

	entry, err := elf.Load(as, elfBytes)
	if err != nil {
		return nil, err
	}
	t.EntryPoint = entry
	t.CodeStart, t.CodeEnd = entry, entry

	buildIRETFrame(t, uint32(t.EntryPoint), uint32(t.UserESP))
	t.firstRun = true

	return t, nil
}

// Fork duplicates the calling task into a new, independent child: a
// frame-by-frame copy of its address space (there is no copy-on-write
// support to make a cheaper one) and a fresh kernel stack whose IRET frame
// resumes the child at the parent's own next instruction, eip and userESP,
// exactly where the fork syscall trapped. enterTask zeroes every
// general-purpose register before that IRET, so the child's EAX reads back
// as 0 on resume — precisely the ABI's "0 to child" convention, with no
// special-casing needed here.
func Fork(eip, userESP uint32) (*Task, *kernel.Error) {
	parent := current

	child := newTask(parent.Name, parent.Priority, RingUser, parent)

	childAS, err := vmm.NewAddressSpace()
	if err != nil {
		return nil, err
	}
	if err := vmm.CopyAddressSpace(childAS, parent.AS); err != nil {
		return nil, err
	}
	child.AS = childAS

	if _, err := allocKernelStack(child); err != nil {
		return nil, err
	}

	child.EntryPoint = parent.EntryPoint
	child.CodeStart, child.CodeEnd = parent.CodeStart, parent.CodeEnd
	child.DataStart, child.DataEnd = parent.DataStart, parent.DataEnd
	child.HeapStart, child.HeapEnd = parent.HeapStart, parent.HeapEnd
	child.UserESP = uintptr(userESP)

	buildIRETFrame(child, eip, userESP)
	child.firstRun = true

	return child, nil
}

// allocKernelStack reserves a page-aligned virtual region in the kernel's
// shared range, backs it with a freshly allocated frame, and records the
// stack's base on t. It returns the stack's top (the initial ESP, since the
// x86 stack grows down).
func allocKernelStack(t *Task) (uintptr, *kernel.Error) {
	frame, err := allocFrame()
	if err != nil {
		return 0, err
	}

	page, err := vmm.MapRegion(frame, mem.PageSize*mem.Size(kernelStackPages), vmm.FlagPresent|vmm.FlagRW)
	if err != nil {
		return 0, err
	}

	t.KernelStack = page.Address()
	t.KernelStackFrame = frame
	return t.KernelStack + uintptr(mem.PageSize)*kernelStackPages, nil
}

// buildIRETFrame writes the five words IRET expects at the very top of t's
// kernel stack: eip, cs, eflags, useresp, ss, from low to high address so
// that IRET (which pops them in that order) sees them correctly. t.context.ESP
// is left pointing at the first word, ready for enterTask.
func buildIRETFrame(t *Task, eip, userESP uint32) {
	top := t.KernelStack + uintptr(mem.PageSize)*kernelStackPages
	frameBase := top - iretFrameWords*unsafe.Sizeof(uint32(0))

	words := (*[iretFrameWords]uint32)(unsafe.Pointer(frameBase))
	words[0] = eip
	words[1] = gdt.UserCodeSelector
	words[2] = eflagsIF
	words[3] = userESP
	words[4] = gdt.UserDataSelector

	t.context.ESP = uint32(frameBase)
}
