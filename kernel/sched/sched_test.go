package sched

import (
	"testing"

	"eduos/kernel/proc"
)

func resetRing() {
	ringHead, ringTail = nil, nil
	ticks = 0
}

func TestAddRemoveSingle(t *testing.T) {
	defer resetRing()
	resetRing()

	a := &proc.Task{PID: 1, State: proc.StateReady}
	Add(a)

	if ringHead != a || ringTail != a || a.SchedNext != a {
		t.Fatalf("expected a single-element self-looped ring, got head=%v tail=%v next=%v", ringHead, ringTail, a.SchedNext)
	}

	Remove(a)
	if ringHead != nil || ringTail != nil {
		t.Fatalf("expected an empty ring after removing the only task")
	}
}

func TestAddRemoveMultiple(t *testing.T) {
	defer resetRing()
	resetRing()

	a := &proc.Task{PID: 1, State: proc.StateReady}
	b := &proc.Task{PID: 2, State: proc.StateReady}
	c := &proc.Task{PID: 3, State: proc.StateReady}

	Add(a)
	Add(b)
	Add(c)

	if a.SchedNext != b || b.SchedNext != c || c.SchedNext != a {
		t.Fatalf("expected a circular ring a->b->c->a, got a->%v b->%v c->%v", a.SchedNext, b.SchedNext, c.SchedNext)
	}

	Remove(b)
	if a.SchedNext != c || c.SchedNext != a {
		t.Fatalf("expected b to be spliced out leaving a->c->a, got a->%v c->%v", a.SchedNext, c.SchedNext)
	}
	if ringTail != c {
		t.Fatalf("expected tail to remain c, got %v", ringTail)
	}
}

func TestPickNextSkipsNonReadyTasks(t *testing.T) {
	defer resetRing()
	resetRing()

	a := &proc.Task{PID: 1, State: proc.StateBlocked}
	b := &proc.Task{PID: 2, State: proc.StateReady}
	Add(a)
	Add(b)

	if got := pickNext(); got != b {
		t.Fatalf("expected pickNext to skip the blocked task and return b, got %v", got)
	}
}

func TestPickNextFallsBackToIdle(t *testing.T) {
	defer resetRing()
	resetRing()

	idle := &proc.Task{PID: 99, Name: "idle"}
	proc.SetIdleTask(idle)

	if got := pickNext(); got != idle {
		t.Fatalf("expected pickNext to return the idle task on an empty ring, got %v", got)
	}

	a := &proc.Task{PID: 1, State: proc.StateSleeping}
	Add(a)
	if got := pickNext(); got != idle {
		t.Fatalf("expected pickNext to fall back to idle when no ring task is Ready, got %v", got)
	}
}

func TestTickWakesSleepingTasks(t *testing.T) {
	defer resetRing()
	resetRing()

	a := &proc.Task{PID: 1, State: proc.StateSleeping, WakeTime: 5}
	Add(a)

	for i := 0; i < 5; i++ {
		Tick()
	}

	if a.State != proc.StateReady {
		t.Fatalf("expected task to become Ready once its wake time passed, got state %v after %d ticks", a.State, Ticks())
	}
}
