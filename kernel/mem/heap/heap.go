// Package heap implements the kernel's dynamic memory allocator: a
// first-fit, address-ordered free list of header+payload blocks carved out
// of a virtual region that the vmm maps lazily on first touch.
package heap

import (
	"eduos/kernel"
	"eduos/kernel/kfmt"
	"eduos/kernel/mem"
	"eduos/kernel/mem/vmm"
	"unsafe"
)

// blockMagic is stamped into every live and free block header. Free and
// Alloc both verify it before touching a block; a mismatch means something
// wrote past the end of a previous allocation, which is unrecoverable.
const blockMagic = 0xb10c5742

// blockHeader precedes every allocation in the heap region. Blocks form a
// doubly-linked, address-ordered list so that Free can coalesce with its
// physically adjacent neighbors in constant time.
type blockHeader struct {
	magic uint32
	size  mem.Size // total size, header included
	free  bool
	next  uintptr // address of next header, 0 if this is the last block
	prev  uintptr // address of previous header, 0 if this is the first block
}

var (
	headerSize = mem.Size(unsafe.Sizeof(blockHeader{}))
	minPayload = mem.Size(16)

	heapBase, heapLimit uintptr

	// ErrOutOfMemory is returned by Alloc when no free block is large
	// enough to satisfy a request and the heap region is exhausted.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

	errCorruptHeader = &kernel.Error{Module: "heap", Message: "corrupt block header"}
)

// Init carves out [base, limit) as the kernel heap region. The region is
// backed by no physical memory up front; vmm.SetHeapWindow tells the page
// fault handler to service accesses inside it lazily.
func Init(base, limit uintptr) {
	heapBase, heapLimit = base, limit
	vmm.SetHeapWindow(base, limit)

	first := headerAt(base)
	*first = blockHeader{
		magic: blockMagic,
		size:  mem.Size(limit - base),
		free:  true,
	}
}

func headerAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

// align rounds n up to the nearest multiple of unsafe.Alignof(uintptr(0)).
func align(n mem.Size) mem.Size {
	const a = mem.Size(unsafe.Sizeof(uintptr(0)))
	return (n + a - 1) &^ (a - 1)
}

// Alloc reserves a block of at least size bytes and returns the address of
// its payload (immediately after the header). It pads the request to the
// minimum block size, walks the free list for the first block that fits,
// and splits off the remainder when it is large enough to host another
// block.
func Alloc(size mem.Size) (uintptr, *kernel.Error) {
	payload := align(size)
	if payload < minPayload {
		payload = minPayload
	}
	need := payload + headerSize

	for addr := heapBase; addr != 0 && addr < heapLimit; {
		hdr := headerAt(addr)
		if hdr.magic != blockMagic {
			kfmt.Panic(errCorruptHeader)
		}

		if !hdr.free || hdr.size < need {
			addr = hdr.next
			continue
		}

		if hdr.size >= need+headerSize+minPayload {
			splitAddr := addr + uintptr(need)
			split := headerAt(splitAddr)
			*split = blockHeader{
				magic: blockMagic,
				size:  hdr.size - need,
				free:  true,
				next:  hdr.next,
				prev:  addr,
			}
			if hdr.next != 0 {
				headerAt(hdr.next).prev = splitAddr
			}
			hdr.next = splitAddr
			hdr.size = need
		}

		hdr.free = false
		return addr + uintptr(headerSize), nil
	}

	return 0, ErrOutOfMemory
}

// Free releases a block previously returned by Alloc, coalescing it with
// either physically adjacent neighbor that is also free. A corrupted
// header (bad magic) halts the kernel rather than risk silently continuing
// with a broken heap.
func Free(ptr uintptr) {
	addr := ptr - uintptr(headerSize)
	hdr := headerAt(addr)
	if hdr.magic != blockMagic {
		kfmt.Panic(errCorruptHeader)
	}

	hdr.free = true

	if hdr.next != 0 {
		next := headerAt(hdr.next)
		if next.magic == blockMagic && next.free {
			hdr.size += next.size
			hdr.next = next.next
			if next.next != 0 {
				headerAt(next.next).prev = addr
			}
		}
	}

	if hdr.prev != 0 {
		prev := headerAt(hdr.prev)
		if prev.magic == blockMagic && prev.free {
			prev.size += hdr.size
			prev.next = hdr.next
			if hdr.next != 0 {
				headerAt(hdr.next).prev = hdr.prev
			}
		}
	}
}
