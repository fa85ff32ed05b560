// Package trap implements the uniform interrupt/exception/syscall entry
// point described by the kernel's boot design: a single TrapFrame layout
// produced by the per-vector assembly stubs before any exception, IRQ or
// syscall handler runs, and three demuxers (exception, IRQ, syscall) that
// share that shape.
package trap

import (
	"eduos/kernel/kfmt"
)

// Frame is the uniform trap frame built by the assembly stub for every
// vector before it calls into dispatch. Its field order mirrors exactly
// what the stub pushes onto the stack so that a *Frame can be obtained by
// simply taking the address of the stack slot where the stub left ESP:
// segment selectors, PUSHA register order, vector/error code, then the
// CPU-pushed return frame and (only on a ring transition) the user
// stack pointer and segment.
type Frame struct {
	// Segment selectors, pushed last (lowest address) so they are read
	// first when popped on return.
	GS, FS, ES, DS uint32

	// General-purpose registers, in PUSHA order.
	EDI, ESI, EBP, espPlaceholder uint32
	EBX, EDX, ECX, EAX           uint32

	// Vector number and error code (zero for vectors that don't push one).
	Int uint32
	Err uint32

	// CPU-pushed return frame.
	EIP, CS, EFlags uint32

	// Present only when the trap crossed a ring boundary (CS had RPL 3 on
	// entry); valid iff FromUserMode() is true.
	UserESP, SS uint32
}

// FromUserMode reports whether the trapped code was running in ring 3.
func (f *Frame) FromUserMode() bool {
	return f.CS&0x3 == 3
}

// Dump prints the frame's contents through kfmt, the same low-level sink
// used for every other kernel diagnostic.
func (f *Frame) Dump() {
	kfmt.Printf("EAX = %8x EBX = %8x ECX = %8x EDX = %8x\n", f.EAX, f.EBX, f.ECX, f.EDX)
	kfmt.Printf("ESI = %8x EDI = %8x EBP = %8x\n", f.ESI, f.EDI, f.EBP)
	kfmt.Printf("EIP = %8x CS  = %8x EFL = %8x\n", f.EIP, f.CS, f.EFlags)
	kfmt.Printf("INT = %8x ERR = %8x\n", f.Int, f.Err)
	if f.FromUserMode() {
		kfmt.Printf("USERESP = %8x SS = %8x\n", f.UserESP, f.SS)
	}
}

// ReturnValue returns the syscall/handler return value slot (EAX); syscall
// dispatch writes the return value back here so the trapped code observes
// it on resume.
func (f *Frame) ReturnValue() uint32 {
	return f.EAX
}

// SetReturnValue overwrites the EAX slot that will be restored into the
// trapped code's registers on return from the trap.
func (f *Frame) SetReturnValue(v uint32) {
	f.EAX = v
}
