package trap

// Vector identifies an IDT slot (0-255).
type Vector uint8

// CPU exception vectors (0-31) that the kernel cares about. Vectors not
// listed here still get a stub and the default fatal handler.
const (
	DivideByZero               = Vector(0)
	NMI                        = Vector(2)
	Overflow                   = Vector(4)
	BoundRangeExceeded         = Vector(5)
	InvalidOpcode              = Vector(6)
	DeviceNotAvailable         = Vector(7)
	DoubleFault                = Vector(8)
	InvalidTSS                 = Vector(10)
	SegmentNotPresent          = Vector(11)
	StackSegmentFault          = Vector(12)
	GPFException               = Vector(13)
	PageFaultException         = Vector(14)
	FloatingPointException     = Vector(16)
	AlignmentCheck             = Vector(17)
	MachineCheck               = Vector(18)
	SIMDFloatingPointException = Vector(19)
)

// IRQBase is the vector that IRQ 0 is remapped to by the PIC programming
// performed in kernel/pic.
const IRQBase = Vector(32)

// IRQCount is the number of usable hardware IRQ lines (0-15).
const IRQCount = 16

// SyscallVector is the software-interrupt vector used for INT 0x80.
const SyscallVector = Vector(0x80)
