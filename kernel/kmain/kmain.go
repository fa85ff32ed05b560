// Package kmain orchestrates kernel boot: it brings up every subsystem in
// the fixed order each one depends on, spawns the idle task, and hands off
// to the scheduler. Nothing outside this package decides that order.
package kmain

import (
	"eduos/kernel"
	"eduos/kernel/cpu"
	"eduos/kernel/elf"
	"eduos/kernel/gdt"
	"eduos/kernel/goruntime"
	"eduos/kernel/hal"
	"eduos/kernel/hal/multiboot"
	"eduos/kernel/kfmt"
	"eduos/kernel/mem"
	"eduos/kernel/mem/heap"
	"eduos/kernel/mem/pmm/allocator"
	"eduos/kernel/mem/vmm"
	"eduos/kernel/pic"
	"eduos/kernel/pit"
	"eduos/kernel/proc"
	"eduos/kernel/sched"
	"eduos/kernel/syscall"
	"eduos/kernel/trap"
)

const (
	// kernelVMAOffset is the virtual address the kernel image is linked
	// at: the classic 3:1 split, with the top gigabyte of every address
	// space reserved for the kernel and mirrored into each one.
	kernelVMAOffset = 0xC0000000

	// heapBase is the start of the kernel heap's virtual window. No
	// physical memory backs it up front; vmm's page fault handler
	// allocates and maps a frame the first time each page is touched, so
	// the window's size only costs address space, not RAM.
	heapBase = 0xD0000000

	// defaultHeapPages sizes the heap window absent a heap_pages=N
	// override on the boot command line: 256MiB of lazily-faulted
	// address space.
	defaultHeapPages = int((0xE0000000 - 0xD0000000) / uintptr(mem.PageSize))

	// defaultQuantum is the number of 1ms ticks a task runs before being
	// preempted, absent a quantum=N override on the boot command line.
	defaultQuantum = 10

	// defaultPITHz is the timer interrupt rate the scheduler ticks at.
	defaultPITHz = 1000

	idlePriority = 0
)

// Kmain is the real kernel entry point, reached through the root package's
// main trampoline once the bootloader has handed control to a minimal stack, with the
// physical address of the Multiboot info structure and the kernel image's
// own physical footprint (so the frame allocator knows not to hand those
// frames out). Kmain never returns; falling off the end is a fatal error.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	gdt.Init()
	trap.Init()
	trap.EnableFPU()

	multiboot.SetInfoPtr(multibootInfoPtr)

	pic.Init()
	pit.Init(defaultPITHz)

	var err *kernel.Error
	if err = allocator.Init(kernelStart, kernelEnd); err != nil {
		kfmt.Panic(err)
	} else if err = vmm.Init(kernelVMAOffset); err != nil {
		kfmt.Panic(err)
	}

	vmm.SetFrameAllocator(allocator.FrameAllocator.AllocFrame)
	vmm.SetFrameReleaser(allocator.FrameAllocator.FreeFrame)

	if err = goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	heapPages := parseUint(multiboot.GetBootCmdLine()["heap_pages"], defaultHeapPages)
	heap.Init(heapBase, heapBase+uintptr(heapPages)*uintptr(mem.PageSize))

	if err = hal.DetectHardware(); err != nil {
		kfmt.Panic(err)
	}
	kfmt.Printf("eduos booting\n")

	proc.SetFrameAllocator(allocator.FrameAllocator.AllocFrame)
	proc.SetFrameReleaser(allocator.FrameAllocator.FreeFrame)
	elf.SetFrameAllocator(allocator.FrameAllocator.AllocFrame)

	sched.Init()
	trap.HandleIRQ(0, sched.Tick)
	syscall.Init()

	quantum := parseUint(multiboot.GetBootCmdLine()["quantum"], defaultQuantum)
	sched.SetQuantum(uint32(quantum))

	idle, err := proc.SpawnKernel("idle", idleLoop, idlePriority)
	if err != nil {
		kfmt.Panic(err)
	}
	proc.SetIdleTask(idle)

	cpu.EnableInterrupts()
	for {
		sched.Schedule()
	}
}

// idleLoop is the entry point of the idle task: the scheduler switches to
// it whenever every other task is Blocked, Sleeping or Zombie. halting
// between interrupts keeps a CPU with nothing to do from spinning.
func idleLoop() {
	for {
		cpu.Halt()
	}
}

// parseUint parses a small, non-negative decimal boot command line value,
// returning def if v is empty or not a valid number. It is a minimal
// hand-rolled parse of exactly the shape the command line can contain.
func parseUint(v string, def int) int {
	n := 0
	if len(v) == 0 {
		return def
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return def
		}
		n = n*10 + int(v[i]-'0')
	}
	return n
}
