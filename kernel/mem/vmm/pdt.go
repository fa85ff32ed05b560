package vmm

import (
	"eduos/kernel"
	"eduos/kernel/cpu"
	"eduos/kernel/mem"
	"eduos/kernel/mem/pmm"
	"unsafe"
)

var (
	// activePDTFn is used by tests to override calls to cpu.ActivePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to override calls to cpu.SwitchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// mapFn is used by tests and is automatically inlined by the compiler.
	mapFn = Map

	// mapTemporaryFn is used by tests and is automatically inlined by the compiler.
	mapTemporaryFn = MapTemporary

	// unmapFn is used by tests and is automatically inlined by the compiler.
	unmapFn = Unmap
)

// PageDirectoryTable describes the top-most (and, on the 386's non-PAE
// paging mode, only) table in the paging hierarchy. Each task gets its own
// PageDirectoryTable; the last entry of every table is reserved for the
// recursive self-mapping trick that lets Map/Unmap manipulate an inactive
// table without switching CR3.
type PageDirectoryTable struct {
	pdtFrame pmm.Frame
}

// Init sets up a page directory table backed by the supplied physical frame.
// If the frame is not the currently active PDT, Init establishes a temporary
// mapping so it can clear the frame's contents and install the recursive
// mapping for the last table entry.
func (pdt *PageDirectoryTable) Init(pdtFrame pmm.Frame) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	if pdtFrame.Address() == activePDTFn() {
		return nil
	}

	pdtPage, err := mapTemporaryFn(pdtFrame)
	if err != nil {
		return err
	}

	mem.Memset(pdtPage.Address(), 0, mem.PageSize)
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(pdtPage.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)))
	*lastPdtEntry = 0
	lastPdtEntry.SetFlags(FlagPresent | FlagRW)
	lastPdtEntry.SetFrame(pdtFrame)

	unmapFn(pdtPage)

	return nil
}

// withKernelWindow temporarily points the last entry of the currently active
// PDT at this (possibly inactive) table's frame, runs fn, and then restores
// the original entry. This is the "kernel window" used to read or write an
// inactive address space's page tables without touching CR3.
func (pdt PageDirectoryTable) withKernelWindow(fn func()) {
	activePdtFrame := pmm.Frame(activePDTFn() >> mem.PageShift)

	if activePdtFrame == pdt.pdtFrame {
		fn()
		return
	}

	lastPdtEntryAddr := activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
	lastPdtEntry.SetFrame(pdt.pdtFrame)
	flushTLBEntryFn(lastPdtEntryAddr)

	fn()

	lastPdtEntry.SetFrame(activePdtFrame)
	flushTLBEntryFn(lastPdtEntryAddr)
}

// Map establishes a mapping between a virtual page and a physical memory
// frame using this PDT, transparently supporting inactive tables via the
// kernel window.
func (pdt PageDirectoryTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error
	pdt.withKernelWindow(func() {
		err = mapFn(page, frame, flags)
	})
	return err
}

// Unmap removes a mapping previously installed by a call to Map on this PDT.
func (pdt PageDirectoryTable) Unmap(page Page) *kernel.Error {
	var err *kernel.Error
	pdt.withKernelWindow(func() {
		err = unmapFn(page)
	})
	return err
}

// Activate loads this table into CR3, flushing the TLB.
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}
