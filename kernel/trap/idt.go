package trap

// gateType mirrors the x86 IDT gate-type nibble.
type gateType uint8

const (
	gateTypeInterrupt32 gateType = 0xE // 32-bit interrupt gate
	gateTypeTrap32      gateType = 0xF // 32-bit trap gate
)

// kernelCodeSelector is the GDT selector every IDT gate points at; trap
// stubs always run with the kernel code segment loaded regardless of which
// ring they interrupted.
const kernelCodeSelector = 0x08

// Init builds the 256-entry IDT, pointing vectors 0-31 and 32-47 at
// DPL0 interrupt gates and installs the INT 0x80 vector as a DPL3 trap gate
// so ring-3 code may invoke it directly. It then loads the IDT register.
//
// This has no Go body: idt_386.s generates one stub per vector (they all share
// the prologue described in kernel/trap's package doc and simply push their
// own vector number before jumping to the common entry point) and populates
// the table the assembler places in the loaded image.
func Init()

// installGate has no Go body; it is called by Init's assembly counterpart
// once per vector to populate a single 8-byte IDT descriptor.
func installGate(vec Vector, handlerAddr uintptr, selector uint16, typ gateType, dpl uint8)

// commonStubEntry is the single point every per-vector stub jumps to after
// building the uniform Frame; it has no Go body, it is the assembly glue
// that calls Dispatch with a pointer to the frame it just built on the
// stack and, on return, pops the frame and executes IRET.
func commonStubEntry()
