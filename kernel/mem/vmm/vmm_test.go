package vmm

import (
	"bytes"
	"eduos/kernel"
	"eduos/kernel/cpu"
	"eduos/kernel/hal/multiboot"
	"eduos/kernel/kfmt"
	"eduos/kernel/mem"
	"eduos/kernel/mem/pmm"
	"eduos/kernel/trap"
	"strings"
	"testing"
	"unsafe"
)

func TestPageFaultHandler(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
		frameAllocator = nil
		mapFn = Map
		heapWindowBase, heapWindowLimit = 0, 0
	}()

	SetHeapWindow(0x40000000, 0x40000000+uintptr(mem.PageSize)*4)

	specs := []struct {
		name       string
		faultAddr  uintptr
		errCode    uint32
		cs         uint32
		allocError *kernel.Error
		mapError   *kernel.Error
		expHandled bool
	}{
		{"outside heap window", 0x1000, 0, 0x08, nil, nil, false},
		{"ring 3 fault", 0x40001000, 0, 0x1b, nil, nil, false},
		{"protection violation", 0x40001000, 1, 0x08, nil, nil, false},
		{"alloc fails", 0x40001000, 0, 0x08, &kernel.Error{Module: "test", Message: "oom"}, nil, false},
		{"map fails", 0x40001000, 0, 0x08, nil, &kernel.Error{Module: "test", Message: "map failed"}, false},
		{"serviced lazily", 0x40001000, 0, 0x08, nil, nil, true},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			if !spec.expHandled {
				defer func() {
					if recover() == nil {
						t.Fatal("expected pageFaultHandler to panic via kfmt.Panic")
					}
				}()
				var buf bytes.Buffer
				kfmt.SetOutputSink(&buf)
				defer kfmt.SetOutputSink(nil)
			}

			readCR2Fn = func() uintptr { return spec.faultAddr }
			frameAllocator = func() (pmm.Frame, *kernel.Error) { return pmm.Frame(1), spec.allocError }
			mapFn = func(_ Page, _ pmm.Frame, _ PageTableEntryFlag) *kernel.Error { return spec.mapError }

			f := &trap.Frame{Int: uint32(trap.PageFaultException), Err: spec.errCode, CS: spec.cs}
			handled := pageFaultHandler(f)

			if handled != spec.expHandled {
				t.Fatalf("expected handled=%v; got %v", spec.expHandled, handled)
			}
		})
	}
}

func TestGPFHandler(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	defer func() {
		if recover() == nil {
			t.Fatal("expected generalProtectionFaultHandler to panic via kfmt.Panic")
		}
		if got := buf.String(); !strings.Contains(got, "General protection fault") {
			t.Errorf("expected diagnostic output; got %q", got)
		}
	}()

	generalProtectionFaultHandler(&trap.Frame{Int: uint32(trap.GPFException), Err: 0})
}

func TestInit(t *testing.T) {
	defer func() {
		frameAllocator = nil
		activePDTFn = cpu.ActivePDT
		switchPDTFn = cpu.SwitchPDT
		translateFn = Translate
		mapTemporaryFn = MapTemporary
		unmapFn = Unmap
		visitElfSectionsFn = multiboot.VisitElfSections
	}()

	reservedPage := make([]byte, mem.PageSize)

	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&emptyInfoData[0])))

	t.Run("success", func(t *testing.T) {
		SetFrameAllocator(func() (pmm.Frame, *kernel.Error) {
			addr := uintptr(unsafe.Pointer(&reservedPage[0]))
			return pmm.Frame(addr >> mem.PageShift), nil
		})
		activePDTFn = func() uintptr {
			return uintptr(unsafe.Pointer(&reservedPage[0]))
		}
		switchPDTFn = func(_ uintptr) {}
		unmapFn = func(p Page) *kernel.Error { return nil }
		mapTemporaryFn = func(f pmm.Frame) (Page, *kernel.Error) { return Page(f), nil }
		visitElfSectionsFn = func(_ multiboot.ElfSectionVisitor) {}

		if err := Init(0); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("setupPDT fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}

		SetFrameAllocator(func() (pmm.Frame, *kernel.Error) {
			return pmm.InvalidFrame, expErr
		})

		if err := Init(0); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})
}

func TestSetupPDTForKernel(t *testing.T) {
	defer func() {
		frameAllocator = nil
		activePDTFn = cpu.ActivePDT
		switchPDTFn = cpu.SwitchPDT
		translateFn = Translate
		mapFn = Map
		mapTemporaryFn = MapTemporary
		unmapFn = Unmap
		earlyReserveLastUsed = tempMappingAddr
		visitElfSectionsFn = multiboot.VisitElfSections
	}()

	reservedPage := make([]byte, mem.PageSize)

	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&emptyInfoData[0])))

	t.Run("map kernel sections", func(t *testing.T) {
		SetFrameAllocator(func() (pmm.Frame, *kernel.Error) {
			addr := uintptr(unsafe.Pointer(&reservedPage[0]))
			return pmm.Frame(addr >> mem.PageShift), nil
		})
		activePDTFn = func() uintptr {
			return uintptr(unsafe.Pointer(&reservedPage[0]))
		}
		switchPDTFn = func(_ uintptr) {}
		translateFn = func(_ uintptr) (uintptr, *kernel.Error) { return 0xbadf000, nil }
		mapTemporaryFn = func(f pmm.Frame) (Page, *kernel.Error) { return Page(f), nil }
		visitElfSectionsFn = func(v multiboot.ElfSectionVisitor) {
			// address < VMA; should be ignored
			v(".debug", 0, 0, uint64(mem.PageSize>>1))
			v(".text", multiboot.ElfSectionExecutable, 0x10032, uint64(mem.PageSize))
			v(".data", multiboot.ElfSectionWritable, 0x2000, uint64(mem.PageSize))
			v(".rodata", 0, 0x3000, uint64(mem.PageSize<<1))
		}
		mapCount := 0
		mapFn = func(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
			defer func() { mapCount++ }()

			var expFlags PageTableEntryFlag
			switch mapCount {
			case 0, 1:
				expFlags = FlagPresent
			case 2:
				expFlags = FlagPresent | FlagRW
			case 3, 4:
				expFlags = FlagPresent
			}

			if (flags & expFlags) != expFlags {
				t.Errorf("[map call %d] expected flags to be %d; got %d", mapCount, expFlags, flags)
			}

			return nil
		}

		if err := setupPDTForKernel(0x123); err != nil {
			t.Fatal(err)
		}

		if exp := 5; mapCount != exp {
			t.Errorf("expected Map to be called %d times; got %d", exp, mapCount)
		}
	})

	t.Run("map of kernel sections fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map failed"}

		SetFrameAllocator(func() (pmm.Frame, *kernel.Error) {
			addr := uintptr(unsafe.Pointer(&reservedPage[0]))
			return pmm.Frame(addr >> mem.PageShift), nil
		})
		activePDTFn = func() uintptr {
			return uintptr(unsafe.Pointer(&reservedPage[0]))
		}
		switchPDTFn = func(_ uintptr) {}
		translateFn = func(_ uintptr) (uintptr, *kernel.Error) { return 0xbadf000, nil }
		mapTemporaryFn = func(f pmm.Frame) (Page, *kernel.Error) { return Page(f), nil }
		visitElfSectionsFn = func(v multiboot.ElfSectionVisitor) {
			v(".text", multiboot.ElfSectionExecutable, 0xbadc0fee, uint64(mem.PageSize>>1))
		}
		mapFn = func(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
			return expErr
		}

		if err := setupPDTForKernel(0); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})

	t.Run("copy allocator reservations to PDT", func(t *testing.T) {
		earlyReserveLastUsed = tempMappingAddr - uintptr(mem.PageSize)
		SetFrameAllocator(func() (pmm.Frame, *kernel.Error) {
			addr := uintptr(unsafe.Pointer(&reservedPage[0]))
			return pmm.Frame(addr >> mem.PageShift), nil
		})
		activePDTFn = func() uintptr {
			return uintptr(unsafe.Pointer(&reservedPage[0]))
		}
		switchPDTFn = func(_ uintptr) {}
		translateFn = func(_ uintptr) (uintptr, *kernel.Error) { return 0xbadf000, nil }
		unmapFn = func(p Page) *kernel.Error { return nil }
		mapTemporaryFn = func(f pmm.Frame) (Page, *kernel.Error) { return Page(f), nil }
		visitElfSectionsFn = func(_ multiboot.ElfSectionVisitor) {}
		mapFn = func(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
			if exp := PageFromAddress(earlyReserveLastUsed); page != exp {
				t.Errorf("expected Map to be called with page %d; got %d", exp, page)
			}

			if exp := pmm.Frame(0xbadf000 >> mem.PageShift); frame != exp {
				t.Errorf("expected Map to be called with frame %d; got %d", exp, frame)
			}

			if flags&(FlagPresent|FlagRW) != (FlagPresent | FlagRW) {
				t.Error("expected Map to be called FlagPresent | FlagRW")
			}
			return nil
		}

		if err := setupPDTForKernel(0); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("pdt init fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map temporary failed"}

		SetFrameAllocator(func() (pmm.Frame, *kernel.Error) {
			addr := uintptr(unsafe.Pointer(&reservedPage[0]))
			return pmm.Frame(addr >> mem.PageShift), nil
		})
		activePDTFn = func() uintptr { return 0 }
		mapTemporaryFn = func(f pmm.Frame) (Page, *kernel.Error) { return 0, expErr }

		if err := setupPDTForKernel(0); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})
}

var (
	emptyInfoData = []byte{
		0, 0, 0, 0, // size
		0, 0, 0, 0, // reserved
		0, 0, 0, 0, // tag with type zero and length zero
		0, 0, 0, 0,
	}
)
