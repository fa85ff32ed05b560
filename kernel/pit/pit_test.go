package pit

import (
	"testing"

	"eduos/kernel/cpu"
)

func TestInit(t *testing.T) {
	defer func() { outbFn = cpu.Outb }()

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

	Init(1000)

	if len(writes) != 3 {
		t.Fatalf("expected 3 port writes, got %d", len(writes))
	}
	if writes[0].port != commandPort || writes[0].val != channel0Mode3 {
		t.Fatalf("unexpected command write: %+v", writes[0])
	}

	divisor := uint16(writes[1].val) | uint16(writes[2].val)<<8
	wantDivisor := uint16(inputFrequencyHz / 1000)
	if divisor != wantDivisor {
		t.Fatalf("expected divisor %d, got %d", wantDivisor, divisor)
	}
}
