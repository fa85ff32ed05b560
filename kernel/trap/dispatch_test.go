package trap

import "testing"

func resetHandlers() {
	for i := range exceptionHandlers {
		exceptionHandlers[i] = nil
	}
	for i := range irqHandlers {
		irqHandlers[i] = nil
	}
	syscallHandler = nil
}

func TestDispatchException(t *testing.T) {
	defer resetHandlers()

	var called bool
	HandleException(PageFaultException, func(f *Frame) bool {
		called = true
		return true
	})

	Dispatch(&Frame{Int: uint32(PageFaultException)})

	if !called {
		t.Fatal("expected the registered exception handler to run")
	}
}

func TestDispatchIRQSendsEOI(t *testing.T) {
	defer resetHandlers()

	origOutb := outbFn
	defer func() { outbFn = origOutb }()

	var writes []struct {
		port uint16
		val  uint8
	}
	outbFn = func(port uint16, val uint8) {
		writes = append(writes, struct {
			port uint16
			val  uint8
		}{port, val})
	}

	var fired bool
	HandleIRQ(1, func() { fired = true })

	Dispatch(&Frame{Int: uint32(IRQBase) + 1})

	if !fired {
		t.Fatal("expected the registered IRQ handler to run")
	}

	if len(writes) != 1 || writes[0].port != 0x20 || writes[0].val != 0x20 {
		t.Fatalf("expected a single EOI write to the master PIC; got %v", writes)
	}
}

func TestDispatchIRQAboveSevenSendsSlaveEOI(t *testing.T) {
	defer resetHandlers()

	origOutb := outbFn
	defer func() { outbFn = origOutb }()

	var ports []uint16
	outbFn = func(port uint16, _ uint8) {
		ports = append(ports, port)
	}

	Dispatch(&Frame{Int: uint32(IRQBase) + 8})

	if len(ports) != 2 || ports[0] != 0xA0 || ports[1] != 0x20 {
		t.Fatalf("expected slave then master EOI writes; got %v", ports)
	}
}

func TestDispatchSyscall(t *testing.T) {
	defer resetHandlers()

	HandleSyscall(func(f *Frame) {
		f.SetReturnValue(42)
	})

	f := &Frame{Int: uint32(SyscallVector)}
	Dispatch(f)

	if f.EAX != 42 {
		t.Fatalf("expected EAX to be 42; got %d", f.EAX)
	}
}

func TestDispatchUnknownSyscallReturnsMinusOne(t *testing.T) {
	defer resetHandlers()

	f := &Frame{Int: uint32(SyscallVector)}
	Dispatch(f)

	if f.EAX != ^uint32(0) {
		t.Fatalf("expected EAX to be -1; got %d", f.EAX)
	}
}
