package gdt

// TaskStateSegment mirrors the 104-byte hardware TSS layout. The CPU reads
// this structure by fixed byte offset on every ring 3 -> ring 0 transition,
// so field order and width must match exactly even though this kernel only
// ever populates ss0/esp0: every task shares the same kernel code, so the
// remaining fields (alternate stacks, register snapshot, I/O bitmap base)
// stay zeroed and unused.
type TaskStateSegment struct {
	prevTask         uint32
	esp0             uint32
	ss0              uint32
	esp1, ss1        uint32
	esp2, ss2        uint32
	cr3              uint32
	eip, eflags      uint32
	eax, ecx, edx    uint32
	ebx, esp, ebp    uint32
	esi, edi         uint32
	es, cs, ss       uint32
	ds, fs, gs       uint32
	ldt              uint32
	trapOnSwitch     uint16
	ioMapBaseOffset  uint16
}

// SetKernelStack updates esp0, the ring-0 stack pointer the CPU loads on a
// trap from ring 3. The scheduler calls this just before switching to a
// user-mode task so that the task's own kernel stack is used for its next
// trap.
func (t *TaskStateSegment) SetKernelStack(esp0 uintptr) {
	t.esp0 = uint32(esp0)
}
