// Package syscall implements the INT 0x80 dispatch table: the ring-3 ABI
// user tasks use to ask the kernel for anything, from exiting to forking.
// Every call reads its arguments out of the trap frame's GP registers (EBX,
// ECX, EDX, in that order) and writes its result back via
// frame.SetReturnValue, exactly the seam kernel/trap's dispatcher expects.
package syscall

import (
	"eduos/kernel"
	"eduos/kernel/hal"
	"eduos/kernel/mem/vmm"
	"eduos/kernel/proc"
	"eduos/kernel/sched"
	"eduos/kernel/trap"
)

// Call numbers, read out of EAX.
const (
	SysExit Number = iota
	SysWrite
	SysRead
	SysYield
	SysGetpid
	SysSleep
	SysFork
	SysExec
	SysWait
	numSyscalls
)

// Number identifies a syscall, the value user code loads into EAX before
// INT 0x80.
type Number uint32

// errInvalid is returned in EAX when a call number or argument is rejected
// without killing the caller.
const errInvalid = ^uint32(0) // -1

// loadExecutable is the VFS collaborator Exec uses to turn a path into an
// ELF image. It is left unwired: there is no filesystem in this kernel, so
// every exec call fails with errInvalid unless SetExecLoader registers one.
var loadExecutable = func(path string) ([]byte, *kernel.Error) {
	return nil, &kernel.Error{Module: "syscall", Message: "no filesystem wired: exec requires loadExecutable"}
}

// SetExecLoader registers the function Exec uses to resolve a path to an
// ELF image.
func SetExecLoader(fn func(path string) ([]byte, *kernel.Error)) {
	loadExecutable = fn
}

// activeTTYFn is a seam over hal.ActiveTTY purely so tests can exercise
// sysWrite against a fake device instead of the real VGA console.
var activeTTYFn = hal.ActiveTTY

// Init installs the syscall dispatcher as kernel/trap's INT 0x80 handler. It
// must run after hal.DetectHardware so write has a TTY to write to.
func Init() {
	trap.HandleSyscall(dispatch)
}

var handlers [numSyscalls]func(*trap.Frame)

func init() {
	handlers[SysExit] = sysExit
	handlers[SysWrite] = sysWrite
	handlers[SysRead] = sysRead
	handlers[SysYield] = sysYield
	handlers[SysGetpid] = sysGetpid
	handlers[SysSleep] = sysSleep
	handlers[SysFork] = sysFork
	handlers[SysExec] = sysExec
	handlers[SysWait] = sysWait
}

func dispatch(f *trap.Frame) {
	if f.EAX >= uint32(numSyscalls) || handlers[f.EAX] == nil {
		f.SetReturnValue(errInvalid)
		return
	}
	handlers[f.EAX](f)
}

// sysExit never returns to the trapped code: proc.Exit parks the caller as a
// Zombie and yields forever.
func sysExit(f *trap.Frame) {
	proc.Exit(int32(f.EBX))
}

// sysWrite writes a NUL-terminated user string (a char* in EBX) to the
// active TTY, one byte at a time to match tty.Device's io.ByteWriter
// surface. ECX carries no argument for this call; the pinned ABI only reads
// EBX.
func sysWrite(f *trap.Frame) {
	s, ok := userCString(f.EBX)
	if !ok {
		f.SetReturnValue(errInvalid)
		return
	}

	tty := activeTTYFn()
	for i := 0; i < len(s); i++ {
		if err := tty.WriteByte(s[i]); err != nil {
			f.SetReturnValue(uint32(i))
			return
		}
	}
	f.SetReturnValue(uint32(len(s)))
}

// sysRead always fails: no input device is wired into this kernel (the
// keyboard driver is out of scope), so there is nothing to read from.
func sysRead(f *trap.Frame) {
	f.SetReturnValue(errInvalid)
}

func sysYield(f *trap.Frame) {
	sched.Yield()
	f.SetReturnValue(0)
}

func sysGetpid(f *trap.Frame) {
	f.SetReturnValue(proc.Current().PID)
}

func sysSleep(f *trap.Frame) {
	proc.Sleep(uint64(f.EBX))
	f.SetReturnValue(0)
}

// sysFork duplicates the calling task. The child never executes this
// function: it resumes directly at the IRET frame proc.Fork built for it,
// with EAX already reading back as 0 courtesy of enterTask zeroing every
// GP register on its way into ring 3.
func sysFork(f *trap.Frame) {
	child, err := proc.Fork(f.EIP, f.UserESP)
	if err != nil {
		f.SetReturnValue(errInvalid)
		return
	}
	sched.Add(child)
	f.SetReturnValue(child.PID)
}

// sysExec replaces the calling task's image in place and never returns to
// the trapped instruction on success: it rewrites f.EIP/f.UserESP so the
// INT 0x80 return path IRETs straight into the new program instead of back
// to the exec call site. It only returns (reporting errInvalid) if the path
// can't be resolved to an ELF image or the new image fails to load.
func sysExec(f *trap.Frame) {
	path, ok := userCString(f.EBX)
	if !ok {
		f.SetReturnValue(errInvalid)
		return
	}

	elfBytes, err := loadExecutable(path)
	if err != nil {
		f.SetReturnValue(errInvalid)
		return
	}

	entry, userESP, err := proc.Exec(proc.Current(), elfBytes)
	if err != nil {
		f.SetReturnValue(errInvalid)
		return
	}

	f.EIP = uint32(entry)
	f.UserESP = uint32(userESP)
}

func sysWait(f *trap.Frame) {
	var status int32
	var statusPtr *int32
	if f.EBX != 0 {
		if f.EBX >= uint32(vmm.KernelSpaceStart()) {
			f.SetReturnValue(errInvalid)
			return
		}
		statusPtr = (*int32)(userPointer(f.EBX))
	}

	pid := proc.Current().Wait(&status)
	if statusPtr != nil && pid >= 0 {
		*statusPtr = status
	}
	f.SetReturnValue(uint32(pid))
}
