package trap

import "eduos/kernel/cpu"

// EnableFPU brings the x87 FPU up once, globally, at boot: it clears CR0.EM
// so FPU instructions actually execute, sets CR0.MP/NE so WAIT instructions
// and FPU error reporting behave as modern software expects, resets the FPU
// to its power-up state and registers the vectors that a task's FPU use can
// legitimately raise as recoverable rather than fatal. There is no per-task
// FPU context: every task shares the one FPU state, so a fault here is
// always something to clear and retry, never a reason to kill the caller.
func EnableFPU() {
	cr0 := cpu.ReadCR0()
	cr0 &^= cpu.CR0Emulation
	cr0 |= cpu.CR0MonitorCoprocessor | cpu.CR0NumericError
	cpu.WriteCR0(cr0)

	cpu.FPUInit()

	HandleException(DeviceNotAvailable, fpuExceptionHandler)
	HandleException(FloatingPointException, fpuExceptionHandler)
	HandleException(SIMDFloatingPointException, fpuExceptionHandler)
}

// fpuExceptionHandler recovers from #NM, #MF and #XF by clearing CR0.TS (so
// the next FPU instruction doesn't immediately refault) and clearing any
// pending FPU exception flags, then resumes the faulting instruction.
func fpuExceptionHandler(f *Frame) bool {
	cr0 := cpu.ReadCR0()
	cr0 &^= cpu.CR0TaskSwitched
	cpu.WriteCR0(cr0)
	cpu.FPUClearExceptions()
	return true
}
