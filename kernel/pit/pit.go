// Package pit programs channel 0 of the legacy 8253/8254 programmable
// interval timer as the scheduler's tick source. Like kernel/pic, this is
// boot plumbing: once programmed, the PIT only ever shows up again as IRQ 0
// delivered through kernel/trap.
package pit

import "eduos/kernel/cpu"

const (
	channel0Data = 0x40
	commandPort  = 0x43

	// mode 3 (square wave generator), channel 0, access lo/hi byte.
	channel0Mode3 = 0x36

	// inputFrequencyHz is the PIT's fixed oscillator frequency.
	inputFrequencyHz = 1193182
)

var outbFn = cpu.Outb

// Init programs channel 0 to fire at hz Hz.
func Init(hz uint32) {
	divisor := uint16(inputFrequencyHz / hz)

	outbFn(commandPort, channel0Mode3)
	outbFn(channel0Data, uint8(divisor&0xFF))
	outbFn(channel0Data, uint8(divisor>>8))
}
