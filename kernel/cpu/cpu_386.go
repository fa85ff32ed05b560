// Package cpu exposes the low-level, assembly-backed x86 primitives that the
// rest of the kernel builds on: port I/O, interrupt masking, control-register
// access and the privileged instructions needed to load the GDT/IDT/TSS and
// to flush TLB entries. Every function in this file except IsIntel has no Go
// body; its implementation lives in the matching .s file and is linked in by the
// assembler, following the same split the teacher uses for its amd64
// primitives.
package cpu

var (
	cpuidFn = ID
)

// CR0 control-register bits relevant to FPU bring-up.
const (
	CR0MonitorCoprocessor = 1 << 1 // MP: make WAIT/FWAIT instructions honor TS
	CR0Emulation          = 1 << 2 // EM: trap x87 instructions instead of executing them
	CR0TaskSwitched       = 1 << 3 // TS: set by the CPU on every task switch; trips #NM on next FPU use
	CR0NumericError       = 1 << 5 // NE: report FPU errors via vector 16 instead of legacy IRQ13
)

// EnableInterrupts enables interrupt handling (sti).
func EnableInterrupts()

// DisableInterrupts disables interrupt handling (cli).
func DisableInterrupts()

// Halt stops instruction execution until the next interrupt (hlt).
func Halt()

// Outb writes a byte to the specified I/O port.
func Outb(port uint16, val uint8)

// Inb reads a byte from the specified I/O port.
func Inb(port uint16) uint8

// FlushTLBEntry flushes a TLB entry for a particular virtual address
// (invlpg).
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets CR3 to the specified physical address, flushing the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address currently loaded in CR3.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register (the faulting
// address after a page fault).
func ReadCR2() uintptr

// ReadCR0 returns the value of the CR0 control register.
func ReadCR0() uint32

// WriteCR0 writes a new value to the CR0 control register.
func WriteCR0(val uint32)

// LoadGDT loads the GDT register (lgdt) from a 6-byte GDTR-format pointer.
func LoadGDT(gdtPtr uintptr)

// LoadIDT loads the IDT register (lidt) from a 6-byte IDTR-format pointer.
func LoadIDT(idtPtr uintptr)

// LoadTSS loads the task register (ltr) with the specified GDT selector.
func LoadTSS(selector uint16)

// FPUInit resets the x87 FPU to its power-up state (finit), discarding any
// pending exceptions and prior register contents.
func FPUInit()

// FPUClearExceptions clears any pending x87 exception flags (fnclex) without
// otherwise disturbing FPU state.
func FPUClearExceptions()

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and returns the values in EAX, EBX,
// ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
