package vmm

import (
	"unsafe"

	"eduos/kernel"
	"eduos/kernel/mem"
	"eduos/kernel/mem/pmm"
)

// pdEntryCount is the number of entries in a page directory (1024 on the
// 386's non-PAE paging mode).
const pdEntryCount = 1 << 10

type pdArray [pdEntryCount]pageTableEntry

// pdtWindowFn resolves pdtVirtualAddr to the page directory currently
// reachable through the recursive mapping. It is a package-level var, like
// the other low-level accessors in pdt.go, so tests can back it with a real
// slice instead of dereferencing the fixed recursive address directly.
var pdtWindowFn = func() *pdArray {
	return (*pdArray)(unsafe.Pointer(pdtVirtualAddr))
}

// NewAddressSpace allocates a fresh page directory, installs the recursive
// self-mapping entry (via PageDirectoryTable.Init) and then copies every
// kernel-range entry from the currently active directory so the new
// directory mirrors the kernel the same way every other address space does.
// Trap handlers and the scheduler can therefore run with any task's
// directory loaded.
func NewAddressSpace() (*PageDirectoryTable, *kernel.Error) {
	frame, err := frameAllocator()
	if err != nil {
		return nil, err
	}

	pdt := &PageDirectoryTable{}
	if err := pdt.Init(frame); err != nil {
		return nil, err
	}

	copyKernelEntries(pdt)
	return pdt, nil
}

// copyKernelEntries copies the page-directory entries covering
// [kernelSpaceStart, 4GiB) from the active directory into pdt. It must run
// before pdt is ever activated: the source entries are read through the
// recursive mapping while the current directory is still the one it reaches,
// then written back
// through the kernel window once pdt has been swapped in.
func copyKernelEntries(pdt *PageDirectoryTable) {
	firstKernelEntry := int(kernelSpaceStart >> pageLevelShifts[0])

	var saved pdArray
	copy(saved[:], pdtWindowFn()[:])

	pdt.withKernelWindow(func() {
		newEntries := pdtWindowFn()
		for i := firstKernelEntry; i < pdEntryCount-1; i++ {
			newEntries[i] = saved[i]
		}
	})
}

// DestroyAddressSpace releases every user-range data frame owned by pdt,
// every page-table frame that mapped them, and the directory frame itself.
// It must never be called on the currently active directory.
func DestroyAddressSpace(pdt *PageDirectoryTable) {
	firstKernelEntry := int(kernelSpaceStart >> pageLevelShifts[0])

	var topLevel pdArray
	pdt.withKernelWindow(func() {
		copy(topLevel[:], pdtWindowFn()[:])
	})

	for i := 0; i < firstKernelEntry; i++ {
		if !topLevel[i].HasFlags(FlagPresent) {
			continue
		}

		ptFrame := topLevel[i].Frame()
		var leaf pdArray
		leafPage, err := mapTemporaryFn(ptFrame)
		if err == nil {
			copy(leaf[:], (*pdArray)(unsafe.Pointer(leafPage.Address()))[:])
			unmapFn(leafPage)

			for j := 0; j < pdEntryCount; j++ {
				if leaf[j].HasFlags(FlagPresent) {
					freeFrameFn(leaf[j].Frame())
				}
			}
		}

		freeFrameFn(ptFrame)
	}

	freeFrameFn(pdt.pdtFrame)
}

// CopyAddressSpace duplicates every present user-range page from src, the
// currently active directory, into dst, frame by frame. This kernel has no
// copy-on-write support, so a fork-style duplicate is the only way to give a
// child process its own mutable copy of the parent's pages; dst must already
// be a freshly created directory from NewAddressSpace.
func CopyAddressSpace(dst, src *PageDirectoryTable) *kernel.Error {
	firstKernelEntry := int(kernelSpaceStart >> pageLevelShifts[0])

	var topLevel pdArray
	copy(topLevel[:], pdtWindowFn()[:])

	for i := 0; i < firstKernelEntry; i++ {
		if !topLevel[i].HasFlags(FlagPresent) {
			continue
		}

		var leaf pdArray
		leafPage, err := mapTemporaryFn(topLevel[i].Frame())
		if err != nil {
			return err
		}
		copy(leaf[:], (*pdArray)(unsafe.Pointer(leafPage.Address()))[:])
		unmapFn(leafPage)

		for j := 0; j < pdEntryCount; j++ {
			if !leaf[j].HasFlags(FlagPresent) {
				continue
			}

			childFrame, ferr := frameAllocator()
			if ferr != nil {
				return ferr
			}
			if cerr := copyFrame(childFrame, leaf[j].Frame()); cerr != nil {
				return cerr
			}

			flags := PageTableEntryFlag(uintptr(leaf[j]) &^ ptePhysPageMask)
			virtAddr := uintptr(i)<<pageLevelShifts[0] | uintptr(j)<<pageLevelShifts[1]
			if merr := dst.Map(PageFromAddress(virtAddr), childFrame, flags); merr != nil {
				return merr
			}
		}
	}

	return nil
}

// copyFrame duplicates a page's contents into a freshly allocated frame via
// a kernel-owned scratch buffer. MapTemporary only ever has one mapping live
// at a time, so src and dst cannot both be windowed simultaneously.
func copyFrame(dst, src pmm.Frame) *kernel.Error {
	var scratch [mem.PageSize]byte
	scratchAddr := uintptr(unsafe.Pointer(&scratch[0]))

	srcPage, err := mapTemporaryFn(src)
	if err != nil {
		return err
	}
	kernel.Memcopy(srcPage.Address(), scratchAddr, uintptr(mem.PageSize))
	unmapFn(srcPage)

	dstPage, err := mapTemporaryFn(dst)
	if err != nil {
		return err
	}
	kernel.Memcopy(scratchAddr, dstPage.Address(), uintptr(mem.PageSize))
	unmapFn(dstPage)

	return nil
}

// freeFrameFn releases a physical frame back to the active allocator. It is
// a package-level var so tests can intercept it; production code wires it to
// the bitmap allocator's FreeFrame during kernel init.
var freeFrameFn = func(pmm.Frame) {}

// SetFrameReleaser registers the function DestroyAddressSpace uses to free
// physical frames once an address space is torn down.
func SetFrameReleaser(fn func(pmm.Frame)) {
	freeFrameFn = fn
}
