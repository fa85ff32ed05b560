// Package gdt builds the kernel's global descriptor table: a flat null,
// kernel code/data and user code/data segment for each privilege ring, plus
// the single TSS descriptor that supplies the ring-0 stack pointer on a
// trap from ring 3.
package gdt

import (
	"eduos/kernel/cpu"
	"unsafe"
)

// Segment selectors, fixed by the table layout built in Init. User selectors
// carry an RPL of 3 in their low two bits.
const (
	NullSelector       = 0x00
	KernelCodeSelector = 0x08
	KernelDataSelector = 0x10
	UserCodeSelector   = 0x18 | 3
	UserDataSelector   = 0x20 | 3
	TSSSelector        = 0x28
)

const entryCount = 6

type accessFlag uint8

const (
	accessPresent     accessFlag = 1 << 7
	accessDPL3        accessFlag = 3 << 5
	accessDescType    accessFlag = 1 << 4 // code/data, not a system descriptor
	accessExecutable  accessFlag = 1 << 3
	accessRW          accessFlag = 1 << 1 // readable (code) / writable (data)
	accessTSSDescType accessFlag = 0x9    // 32-bit TSS (available), system descriptor
)

type granularityFlag uint8

const (
	granularity4K  granularityFlag = 1 << 7
	granularity32b granularityFlag = 1 << 6 // default operand size 32-bit
)

// entry is the packed 8-byte segment descriptor format understood by the
// CPU's GDTR/segment-selector mechanism.
type entry struct {
	limitLow   uint16
	baseLow    uint16
	baseMiddle uint8
	access     uint8
	granLimit  uint8 // high nibble: granularity flags, low nibble: limit bits 16-19
	baseHigh   uint8
}

func newEntry(base uint32, limit uint32, access accessFlag, gran granularityFlag) entry {
	return entry{
		limitLow:   uint16(limit & 0xffff),
		baseLow:    uint16(base & 0xffff),
		baseMiddle: uint8((base >> 16) & 0xff),
		access:     uint8(access),
		granLimit:  uint8(gran) | uint8((limit>>16)&0x0f),
		baseHigh:   uint8((base >> 24) & 0xff),
	}
}

// pointer is the GDTR-format pointer consumed by cpu.LoadGDT: a 16-bit
// table size (minus one) followed by a 32-bit linear base address.
type pointer struct {
	limit uint16
	base  uint32
}

var (
	table [entryCount]entry
	ptr   pointer
	tss   TaskStateSegment

	// reloadSegmentsFn performs the far jump and segment register reloads
	// that must follow LGDT; it has no Go body (see gdt_386.s).
	reloadSegmentsFn = reloadSegments

	// the following are mocked by tests and are automatically inlined by
	// the compiler when compiling the kernel.
	loadGDTFn = cpu.LoadGDT
	loadTSSFn = cpu.LoadTSS
)

// Init builds the GDT and TSS, loads them via LGDT/LTR and reloads every
// segment register so the kernel starts running through the new table.
func Init() {
	table[0] = entry{}
	table[KernelCodeSelector>>3] = newEntry(0, 0xfffff,
		accessPresent|accessDescType|accessExecutable|accessRW,
		granularity4K|granularity32b)
	table[KernelDataSelector>>3] = newEntry(0, 0xfffff,
		accessPresent|accessDescType|accessRW,
		granularity4K|granularity32b)
	table[(UserCodeSelector&^3)>>3] = newEntry(0, 0xfffff,
		accessPresent|accessDPL3|accessDescType|accessExecutable|accessRW,
		granularity4K|granularity32b)
	table[(UserDataSelector&^3)>>3] = newEntry(0, 0xfffff,
		accessPresent|accessDPL3|accessDescType|accessRW,
		granularity4K|granularity32b)

	tss = TaskStateSegment{ss0: KernelDataSelector}
	tssBase := uint32(uintptr(unsafe.Pointer(&tss)))
	table[TSSSelector>>3] = newEntry(tssBase, uint32(unsafe.Sizeof(tss))-1,
		accessPresent|accessTSSDescType, 0)

	ptr = pointer{
		limit: uint16(unsafe.Sizeof(table) - 1),
		base:  uint32(uintptr(unsafe.Pointer(&table[0]))),
	}

	loadGDTFn(uintptr(unsafe.Pointer(&ptr)))
	reloadSegmentsFn()
	loadTSSFn(TSSSelector)
}

// SetKernelStack updates the TSS esp0 field to point at the top of the
// kernel stack that should be loaded whenever a ring-3 task traps into
// ring 0. The scheduler calls this on every context switch.
func SetKernelStack(esp0 uintptr) {
	tss.SetKernelStack(esp0)
}

// reloadSegments performs a far jump to reload CS with KernelCodeSelector
// and loads DS/ES/FS/GS/SS with KernelDataSelector. No Go body; see
// gdt_386.s.
func reloadSegments()
