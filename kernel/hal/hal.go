// Package hal wires together the fixed set of collaborator devices that the
// kernel depends on through narrow interfaces: the text console and the
// terminal that multiplexes kernel/user output onto it. Unlike the
// general-purpose device-discovery frameworks found in larger kernels, eduos
// targets a single known console (VGA text mode, as set up by the Multiboot
// bootloader) so hardware detection reduces to reading its geometry out of
// the Multiboot info block and constructing the two devices directly.
package hal

import (
	"eduos/device/tty"
	"eduos/device/video/console"
	"eduos/kernel"
	"eduos/kernel/hal/multiboot"
	"eduos/kernel/kfmt"
)

// managedDevices tracks the devices wired up by the HAL.
type managedDevices struct {
	activeConsole console.Device
	activeTTY     tty.Device
}

var devices managedDevices

// ActiveTTY returns the currently active TTY.
func ActiveTTY() tty.Device {
	return devices.activeTTY
}

// ActiveConsole returns the currently active console.
func ActiveConsole() console.Device {
	return devices.activeConsole
}

// DetectHardware reads the framebuffer description left behind by the
// bootloader, initializes the VGA text console and attaches a virtual
// terminal to it. It must be called once, after the VMM is available.
func DetectHardware() *kernel.Error {
	fbInfo := multiboot.GetFramebufferInfo()

	var cons *console.VgaTextConsole
	if fbInfo != nil && fbInfo.Type == multiboot.FramebufferTypeEGA {
		cons = console.NewVgaTextConsole(fbInfo.Width, fbInfo.Height, uintptr(fbInfo.PhysAddr))
	} else {
		// Fall back to the well-known VGA text-mode defaults when the
		// bootloader did not report a framebuffer tag.
		cons = console.NewVgaTextConsole(80, 25, 0xb8000)
	}

	if err := cons.Init(); err != nil {
		return err
	}
	devices.activeConsole = cons

	term := tty.NewVT(tty.DefaultTabWidth, tty.DefaultScrollback)
	term.AttachTo(cons)
	term.SetState(tty.StateActive)
	devices.activeTTY = term

	kfmt.SetOutputSink(term)

	return nil
}
