package main

import "eduos/kernel/kmain"

// multibootInfoPtr, kernelStartAddr and kernelEndAddr are populated by the
// rt0 assembly before it calls main: the physical address of the Multiboot
// info structure the bootloader left behind, and the physical footprint of
// the kernel image itself so the frame allocator knows not to hand those
// frames back out.
var (
	multibootInfoPtr               uintptr
	kernelStartAddr, kernelEndAddr uintptr
)

// main is the only Go symbol visible from the rt0 initialization code. It
// trampolines into the real kernel entry point, kmain.Kmain; referencing the
// three package-level variables above (rather than passing literals) keeps
// the compiler from inlining this call away and discarding the rest of the
// kernel as unreachable, since rt0 itself is invisible to the Go compiler.
//
// main is not expected to return. If it does, the rt0 code halts the CPU.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStartAddr, kernelEndAddr)
}
