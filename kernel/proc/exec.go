package proc

import (
	"eduos/kernel"
	"eduos/kernel/elf"
	"eduos/kernel/mem"
	"eduos/kernel/mem/vmm"
)

// Exec replaces t's program image in place: a fresh address space is built
// and loaded with elfBytes before anything about t is touched, so a
// malformed image leaves the caller running unchanged. Only once the new
// image is ready does Exec activate the new address space, tear down the
// old one (DestroyAddressSpace requires it no longer be the one loaded in
// CR3, which activating the new one guarantees) and rewrite t's bookkeeping
// to describe the replacement program. t must be the currently running
// task; the caller is responsible for resuming execution at the returned
// entry point and user stack pointer instead of wherever the exec syscall
// trapped from.
func Exec(t *Task, elfBytes []byte) (entry, userESP uintptr, execErr *kernel.Error) {
	newAS, err := vmm.NewAddressSpace()
	if err != nil {
		return 0, 0, err
	}

	userStackFrame, err := allocFrame()
	if err != nil {
		return 0, 0, err
	}

	userStackPage := vmm.PageFromAddress(userStackTop - uintptr(mem.PageSize))
	if err := newAS.Map(userStackPage, userStackFrame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
		return 0, 0, err
	}

	entryAddr, err := elf.Load(newAS, elfBytes)
	if err != nil {
		return 0, 0, err
	}

	oldAS := t.AS
	newAS.Activate()
	// oldAS's user stack frame is freed here along with everything else in
	// its user range; there is no separate release for t.UserStackPhys.
	vmm.DestroyAddressSpace(oldAS)

	t.AS = newAS
	t.UserStackPhys = userStackFrame
	t.UserESP = userStackTop
	t.EntryPoint = entryAddr
	t.CodeStart, t.CodeEnd = entryAddr, entryAddr
	t.DataStart, t.DataEnd = 0, 0
	t.HeapStart, t.HeapEnd = 0, 0

	return t.EntryPoint, t.UserESP, nil
}
