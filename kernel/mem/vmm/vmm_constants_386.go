package vmm

import "math"

const (
	// pageLevels indicates the number of page levels supported by the 386
	// architecture's non-PAE paging mode: a single page directory pointing
	// directly at page tables.
	pageLevels = 2

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. Bits 12-31 contain the
	// physical frame address.
	ptePhysPageMask = uintptr(0xfffff000)

	// tempMappingAddr is a reserved virtual page address used for temporary
	// physical page mappings (e.g. when mapping an inactive PDT's pages via
	// the kernel window). It lives in the same recursively-mapped page
	// table as pdtVirtualAddr, one entry below it.
	tempMappingAddr = uintptr(0xfffff000 - (1 << 12))
)

var (
	// pdtVirtualAddr is a special virtual address that exploits the
	// recursive mapping installed in the last PDT entry to allow accessing
	// the active page directory using the MMU's own address translation.
	// With both page-level indices set to the last entry, the MMU resolves
	// the address back onto the page directory itself.
	pdtVirtualAddr = uintptr(math.MaxUint32 &^ ((1 << 12) - 1))

	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level. The 386 architecture uses 10 bits per
	// level (1024 entries per page directory/table).
	pageLevelBits = [pageLevels]uint8{
		10,
		10,
	}

	// pageLevelShifts defines the shift required to access each page table
	// component of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		22,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified. Only
	// meaningful for page table entries, not page directory entries.
	FlagDirty

	// FlagHugePage is set when using 4Mb pages instead of 4K pages. Unused;
	// every mapping this kernel creates uses 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when swapping page tables by updating the CR3 register.
	FlagGlobal
)
