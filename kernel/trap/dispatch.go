package trap

import (
	"eduos/kernel/cpu"
	"eduos/kernel/kfmt"
)

// ExceptionHandler handles a CPU exception. It receives the trap frame and
// returns true if it fully handled the condition and execution should
// resume, or false to let the default fatal handler run.
type ExceptionHandler func(*Frame) bool

// IRQHandler handles a remapped hardware interrupt.
type IRQHandler func()

// SyscallHandler dispatches an INT 0x80 trap. It reads arguments out of the
// frame's GP registers and writes the result back via frame.SetReturnValue.
type SyscallHandler func(*Frame)

var (
	exceptionHandlers [32]ExceptionHandler
	irqHandlers       [IRQCount]IRQHandler
	syscallHandler    SyscallHandler

	// outbFn is overridden by tests so PIC EOI writes don't hit a real port.
	outbFn = cpu.Outb
)

// HandleException registers a handler for a CPU exception vector (0-31).
// Registering a handler for PageFaultException lets the VMM service the
// designated heap window lazily; any other vector left unregistered falls
// through to the default fatal handler.
func HandleException(vec Vector, handler ExceptionHandler) {
	exceptionHandlers[vec] = handler
}

// HandleIRQ registers a callback for a hardware interrupt line (0-15).
func HandleIRQ(irq uint8, handler IRQHandler) {
	irqHandlers[irq] = handler
}

// HandleSyscall registers the INT 0x80 dispatch entry point.
func HandleSyscall(handler SyscallHandler) {
	syscallHandler = handler
}

// Dispatch is invoked by the per-vector assembly stub with a pointer to the
// trap frame it built on the stack. It demuxes into the exception, IRQ or
// syscall handler families as described by the boot design's trap layout.
func Dispatch(f *Frame) {
	switch {
	case f.Int == uint32(SyscallVector):
		dispatchSyscall(f)
	case f.Int >= uint32(IRQBase) && f.Int < uint32(IRQBase)+IRQCount:
		dispatchIRQ(f)
	default:
		dispatchException(f)
	}
}

func dispatchException(f *Frame) {
	vec := Vector(f.Int)
	if int(vec) < len(exceptionHandlers) {
		if h := exceptionHandlers[vec]; h != nil && h(f) {
			return
		}
	}

	fatal(f)
}

// fatal prints a diagnostic and halts the CPU. There is no unwinding; this
// is the terminal path for every unrecoverable trap.
func fatal(f *Frame) {
	kfmt.Printf("\nunhandled trap (vector %d, error code %d)\n", f.Int, f.Err)
	f.Dump()
	cpu.DisableInterrupts()
	for {
		cpu.Halt()
	}
}

func dispatchIRQ(f *Frame) {
	irq := uint8(f.Int - uint32(IRQBase))
	if h := irqHandlers[irq]; h != nil {
		h()
	}
	sendEOI(irq)
}

// sendEOI acknowledges the interrupt to the PIC; IRQs 8-15 also require an
// EOI to the cascaded slave controller.
func sendEOI(irq uint8) {
	const (
		picMasterCmd = 0x20
		picSlaveCmd  = 0xA0
		eoi          = 0x20
	)

	if irq >= 8 {
		outbFn(picSlaveCmd, eoi)
	}
	outbFn(picMasterCmd, eoi)
}

func dispatchSyscall(f *Frame) {
	if syscallHandler == nil {
		f.SetReturnValue(^uint32(0))
		return
	}
	syscallHandler(f)
}
