package vmm

import (
	"eduos/kernel"
	"eduos/kernel/cpu"
	"eduos/kernel/hal/multiboot"
	"eduos/kernel/kfmt"
	"eduos/kernel/mem"
	"eduos/kernel/mem/pmm"
	"eduos/kernel/trap"
	"unsafe"
)

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// heapWindowBase and heapWindowLimit delimit the virtual address range
	// that the page fault handler is allowed to service lazily. They are
	// set once by the kernel heap during its own initialization.
	heapWindowBase, heapWindowLimit uintptr

	// kernelSpaceStart is the first virtual address that belongs to the
	// kernel's half of every address space. It is recorded by Init and
	// used by NewAddressSpace to know where the per-task user region ends
	// and the mirrored kernel region begins.
	kernelSpaceStart uintptr

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readCR2Fn          = cpu.ReadCR2
	translateFn        = Translate
	visitElfSectionsFn = multiboot.VisitElfSections

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// SetHeapWindow designates the virtual address range that the kernel heap
// occupies. A ring-0 page fault with a faulting address inside this window
// is serviced lazily by pageFaultHandler instead of being treated as fatal.
func SetHeapWindow(base, limit uintptr) {
	heapWindowBase, heapWindowLimit = base, limit
}

// KernelSpaceStart returns the first virtual address that belongs to the
// kernel's half of every address space. Syscalls use it to bounds-check user
// pointers before dereferencing them.
func KernelSpaceStart() uintptr {
	return kernelSpaceStart
}

// pageFaultHandler implements the lazy heap-faulting policy: a ring-0 fault
// with a faulting address inside [heapWindowBase, heapWindowLimit) on a
// not-yet-present page is serviced by allocating and mapping a fresh frame,
// after which the faulting instruction is re-executed. Every other page
// fault is fatal.
func pageFaultHandler(f *trap.Frame) bool {
	faultAddress := readCR2Fn()

	const errCodePresent = 1 // bit 0 of the page-fault error code

	if f.FromUserMode() || f.Err&errCodePresent != 0 ||
		faultAddress < heapWindowBase || faultAddress >= heapWindowLimit {
		nonRecoverablePageFault(faultAddress, f)
		return false
	}

	frame, err := frameAllocator()
	if err != nil {
		nonRecoverablePageFault(faultAddress, f)
		return false
	}

	faultPage := PageFromAddress(faultAddress)
	if err = mapFn(faultPage, frame, FlagPresent|FlagRW); err != nil {
		nonRecoverablePageFault(faultAddress, f)
		return false
	}

	return true
}

func nonRecoverablePageFault(faultAddress uintptr, f *trap.Frame) {
	kfmt.Printf("\nPage fault while accessing address: 0x%x\nReason: ", faultAddress)
	switch {
	case f.Err&1 == 0:
		kfmt.Printf("read/write to non-present page")
	case f.Err&2 != 0:
		kfmt.Printf("page protection violation (write)")
	default:
		kfmt.Printf("page protection violation (read)")
	}

	if f.FromUserMode() {
		kfmt.Printf(" (ring 3)")
	}

	kfmt.Printf("\n\nRegisters:\n")
	f.Dump()

	kfmt.Panic(errUnrecoverableFault)
}

func generalProtectionFaultHandler(f *trap.Frame) bool {
	kfmt.Printf("\nGeneral protection fault, error code 0x%x\n", f.Err)
	f.Dump()

	kfmt.Panic(errUnrecoverableFault)
	return false
}

// Init initializes the vmm system, creates a granular PDT for the kernel and
// installs the page-fault and general-protection-fault handlers.
func Init(kernelPageOffset uintptr) *kernel.Error {
	kernelSpaceStart = kernelPageOffset

	if err := setupPDTForKernel(kernelPageOffset); err != nil {
		return err
	}

	trap.HandleException(trap.PageFaultException, pageFaultHandler)
	trap.HandleException(trap.GPFException, generalProtectionFaultHandler)
	return nil
}

// setupPDTForKernel queries the multiboot package for the ELF sections that
// correspond to the loaded kernel image and establishes a new granular PDT for
// the kernel's VMA using the appropriate flags (e.g. RW for writable
// sections).
func setupPDTForKernel(kernelPageOffset uintptr) *kernel.Error {
	var pdt PageDirectoryTable

	// Allocate frame for the page directory and initialize it
	pdtFrame, err := frameAllocator()
	if err != nil {
		return err
	}

	if err = pdt.Init(pdtFrame); err != nil {
		return err
	}

	// Query the ELF sections of the kernel image and establish mappings
	// for each one using the appropriate flags
	var visitor = func(_ string, secFlags multiboot.ElfSectionFlag, secAddress uintptr, secSize uint64) {
		// Bail out if we have encountered an error; also ignore sections
		// not using the kernel's VMA
		if err != nil || secAddress < kernelPageOffset {
			return
		}

		flags := FlagPresent

		if (secFlags & multiboot.ElfSectionWritable) != 0 {
			flags |= FlagRW
		}

		// Map the start and end VMA addresses for the section contents
		// into a start and end (inclusive) page number. To figure out
		// the physical start frame we just need to subtract the
		// kernel's VMA offset from the virtual address and round that
		// down to the nearest frame number.
		curPage := PageFromAddress(secAddress)
		lastPage := PageFromAddress(secAddress + uintptr(secSize-1))
		curFrame := pmm.Frame((secAddress - kernelPageOffset) >> mem.PageShift)
		for ; curPage <= lastPage; curFrame, curPage = curFrame+1, curPage+1 {
			if err = pdt.Map(curPage, curFrame, flags); err != nil {
				return
			}
		}
	}

	// Use the noescape hack to prevent the compiler from leaking the visitor
	// function literal to the heap.
	visitElfSectionsFn(
		*(*multiboot.ElfSectionVisitor)(noEscape(unsafe.Pointer(&visitor))),
	)

	// If an error occurred while maping the ELF sections bail out
	if err != nil {
		return err
	}

	// Ensure that any pages mapped by the memory allocator using
	// EarlyReserveRegion are copied to the new page directory.
	for rsvAddr := earlyReserveLastUsed; rsvAddr < tempMappingAddr; rsvAddr += uintptr(mem.PageSize) {
		page := PageFromAddress(rsvAddr)

		frameAddr, err := translateFn(rsvAddr)
		if err != nil {
			return err
		}

		if err = pdt.Map(page, pmm.Frame(frameAddr>>mem.PageShift), FlagPresent|FlagRW); err != nil {
			return err
		}
	}

	// Activate the new PDT. After this point, the identify mapping for the
	// physical memory addresses where the kernel is loaded becomes invalid.
	pdt.Activate()

	return nil
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
