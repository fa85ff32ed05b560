// Package elf loads a 32-bit little-endian ELF executable into a freshly
// created address space, ready to be entered by a user task's first context
// switch. It uses the standard library's debug/elf package to parse the
// image rather than hand-rolling a header parser; only the page-by-page
// mapping of PT_LOAD segments into the target address space is specific to
// this kernel.
package elf

import (
	"bytes"
	"debug/elf"
	"unsafe"

	"eduos/kernel"
	"eduos/kernel/mem"
	"eduos/kernel/mem/pmm"
	"eduos/kernel/mem/vmm"
)

var errModule = "elf"

var (
	errBadImage  = &kernel.Error{Module: errModule, Message: "not a 32-bit little-endian ET_EXEC image for this machine"}
	errParse     = &kernel.Error{Module: errModule, Message: "malformed ELF image"}
	errSegmentVA = &kernel.Error{Module: errModule, Message: "PT_LOAD segment has an invalid or overlapping virtual address range"}
)

// allocFrame is the physical frame allocator used to back loaded segments.
// It is wired to the real allocator by kernel/kmain during boot.
var allocFrame func() (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers the physical frame allocator Load uses.
func SetFrameAllocator(fn func() (pmm.Frame, *kernel.Error)) {
	allocFrame = fn
}

// mapTemporaryFn, unmapFn, memsetFn and memcopyFn are package-level vars purely so tests
// can intercept them without a real address space or allocator backing them.
var (
	mapTemporaryFn = vmm.MapTemporary
	unmapFn        = vmm.Unmap
	memsetFn       = mem.Memset
	memcopyFn      = kernel.Memcopy
)

// Load validates elfBytes as a 32-bit x86 executable, maps every PT_LOAD
// segment into as page by page (zero-filled, then partially overwritten with
// the segment's file contents; bytes beyond Filesz are left zero, giving BSS
// for free), and returns the image's entry point.
//
// Every mapped page is given FlagUserAccessible and FlagPresent; FlagRW is
// added only for segments whose PF_W bit is set, so a read-only .text
// segment really is read-only in the new address space.
func Load(as *vmm.PageDirectoryTable, elfBytes []byte) (uintptr, *kernel.Error) {
	f, err := elf.NewFile(bytes.NewReader(elfBytes))
	if err != nil {
		return 0, errParse
	}

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB || f.Type != elf.ET_EXEC || f.Machine != elf.EM_386 {
		return 0, errBadImage
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		if kErr := loadSegment(as, elfBytes, prog); kErr != nil {
			return 0, kErr
		}
	}

	return uintptr(f.Entry), nil
}

// loadSegment maps and populates a single PT_LOAD segment.
func loadSegment(as *vmm.PageDirectoryTable, elfBytes []byte, prog *elf.Prog) *kernel.Error {
	vaddr := uintptr(prog.Vaddr)
	filesz := uintptr(prog.Filesz)
	memsz := uintptr(prog.Memsz)
	fileOff := uintptr(prog.Off)

	if memsz == 0 {
		return nil
	}
	if filesz > memsz {
		return errSegmentVA
	}

	pageSize := uintptr(mem.PageSize)
	segStart := vaddr &^ (pageSize - 1)
	segEnd := (vaddr + memsz + pageSize - 1) &^ (pageSize - 1)

	flags := vmm.FlagPresent | vmm.FlagUserAccessible
	if prog.Flags&elf.PF_W != 0 {
		flags |= vmm.FlagRW
	}

	for pageAddr := segStart; pageAddr < segEnd; pageAddr += pageSize {
		frame, fErr := allocFrame()
		if fErr != nil {
			return fErr
		}

		page := vmm.PageFromAddress(pageAddr)
		if mErr := as.Map(page, frame, flags); mErr != nil {
			return mErr
		}

		// Zeroing and the partial file copy both happen through a separate
		// temporary kernel mapping of the same frame (see populatePage), so
		// the user-facing mapping above can already carry its final,
		// possibly read-only, flags.
		if kErr := populatePage(frame, pageAddr, vaddr, filesz, fileOff, elfBytes); kErr != nil {
			return kErr
		}
	}

	return nil
}

// populatePage zeroes a freshly allocated frame and copies in whatever
// portion of [vaddr, vaddr+filesz) falls within the page starting at
// pageAddr. Bytes beyond filesz within the segment are left zero, which is
// exactly a PT_LOAD segment's implicit BSS.
func populatePage(frame pmm.Frame, pageAddr, vaddr, filesz, fileOff uintptr, elfBytes []byte) *kernel.Error {
	tmpPage, err := mapTemporaryFn(frame)
	if err != nil {
		return err
	}
	defer unmapFn(tmpPage)

	dst := tmpPage.Address()
	memsetFn(dst, 0, mem.PageSize)

	pageSize := uintptr(mem.PageSize)
	pageEnd := pageAddr + pageSize
	fileEnd := vaddr + filesz

	copyStart := maxUintptr(pageAddr, vaddr)
	copyEnd := minUintptr(pageEnd, fileEnd)
	if copyStart >= copyEnd {
		return nil
	}

	srcOff := fileOff + (copyStart - vaddr)
	dstOff := copyStart - pageAddr
	n := copyEnd - copyStart

	if srcOff+n > uintptr(len(elfBytes)) {
		return errParse
	}

	memcopyFn(uintptr(unsafe.Pointer(&elfBytes[0]))+srcOff, dst+dstOff, n)
	return nil
}

func maxUintptr(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

func minUintptr(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}
