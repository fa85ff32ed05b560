package syscall

import (
	"unsafe"

	"eduos/kernel/mem/vmm"
)

// userPointer converts a raw user-space address into an unsafe.Pointer
// without any validation; callers must bounds-check first.
func userPointer(addr uint32) unsafe.Pointer {
	return unsafe.Pointer(uintptr(addr))
}

// userCString returns a Go string copied out of a NUL-terminated user
// buffer, scanning no further than the boundary of user space. ok is false
// if addr itself is outside user space or no NUL terminator is found before
// the boundary.
func userCString(addr uint32) (s string, ok bool) {
	limit := uint32(vmm.KernelSpaceStart())
	if addr >= limit {
		return "", false
	}

	p := (*byte)(userPointer(addr))
	n := uint32(0)
	for addr+n < limit {
		b := *(*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(n)))
		if b == 0 {
			return string(unsafe.Slice(p, n)), true
		}
		n++
	}

	return "", false
}
