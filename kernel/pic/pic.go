// Package pic remaps the legacy 8259 programmable interrupt controller pair
// so that IRQs land on vectors 32-47 instead of colliding with the CPU
// exception vectors they occupy by default, and masks every line except the
// timer and keyboard. This is boot plumbing, not kernel logic: the actual
// dispatch once an IRQ arrives is handled by kernel/trap.
package pic

import "eduos/kernel/cpu"

const (
	masterCmd  = 0x20
	masterData = 0x21
	slaveCmd   = 0xA0
	slaveData  = 0xA1

	icw1Init       = 0x10
	icw1ICW4       = 0x01
	icw4_8086      = 0x01
	masterOffset   = 32
	slaveOffset    = 40
	slaveCascadeID = 2

	// bootMask leaves IRQ0 (timer) and IRQ1 (keyboard) unmasked; every other
	// line starts disabled until something registers a handler for it.
	bootMask = 0xFC
)

var outbFn = cpu.Outb

// Init remaps both controllers to masterOffset/slaveOffset and applies the
// boot interrupt mask.
func Init() {
	outbFn(masterCmd, icw1Init|icw1ICW4)
	outbFn(slaveCmd, icw1Init|icw1ICW4)
	outbFn(masterData, masterOffset)
	outbFn(slaveData, slaveOffset)
	outbFn(masterData, 1<<slaveCascadeID)
	outbFn(slaveData, slaveCascadeID)
	outbFn(masterData, icw4_8086)
	outbFn(slaveData, icw4_8086)

	outbFn(masterData, bootMask)
	outbFn(slaveData, 0xFF)
}
