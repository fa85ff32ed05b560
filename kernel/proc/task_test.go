package proc

import (
	"testing"

	"eduos/kernel/mem/pmm"
)

// resetTaskTable wipes the global task table between tests; each test starts
// from a clean PID sequence so assertions don't depend on run order.
func resetTaskTable() {
	tasks = map[uint32]*Task{}
	nextPID = 1
	idleTask = nil
	current = nil
}

func TestNewTaskAssignsIncreasingPIDsAndRegistersInTheTable(t *testing.T) {
	defer resetTaskTable()
	resetTaskTable()

	a := newTask("a", 1, RingKernel, nil)
	b := newTask("b", 1, RingKernel, nil)

	if a.PID != 1 || b.PID != 2 {
		t.Fatalf("expected sequential PIDs 1, 2, got %d, %d", a.PID, b.PID)
	}
	if Lookup(a.PID) != a || Lookup(b.PID) != b {
		t.Fatalf("expected both tasks to be registered in the task table")
	}
	if a.State != StateReady {
		t.Fatalf("expected a freshly created task to start Ready, got %v", a.State)
	}
	if a.UserStackPhys != pmm.InvalidFrame {
		t.Fatalf("expected a new task's UserStackPhys to start out as the invalid-frame sentinel")
	}
}

func TestNewTaskLinksIntoParentsChildList(t *testing.T) {
	defer resetTaskTable()
	resetTaskTable()

	parent := newTask("parent", 1, RingKernel, nil)
	c1 := newTask("c1", 1, RingKernel, parent)
	c2 := newTask("c2", 1, RingKernel, parent)

	if parent.FirstChild != c2 {
		t.Fatalf("expected the most recently spawned child to be FirstChild, got %v", parent.FirstChild)
	}
	if c2.NextSibling != c1 {
		t.Fatalf("expected c2 to chain to c1 via NextSibling")
	}
	if c1.Parent != parent || c2.Parent != parent {
		t.Fatalf("expected both children to point back at their parent")
	}
}

func TestLookupReturnsNilForAnUnknownPID(t *testing.T) {
	defer resetTaskTable()
	resetTaskTable()

	if Lookup(999) != nil {
		t.Fatalf("expected Lookup on an unknown PID to return nil")
	}
}

func TestRemoveDropsATaskFromTheTable(t *testing.T) {
	defer resetTaskTable()
	resetTaskTable()

	a := newTask("a", 1, RingKernel, nil)
	remove(a)

	if Lookup(a.PID) != nil {
		t.Fatalf("expected the task to be gone from the table after remove")
	}
}

func TestSetIdleTaskAndIdleTask(t *testing.T) {
	defer resetTaskTable()
	resetTaskTable()

	idle := newTask("idle", 0, RingKernel, nil)
	SetIdleTask(idle)

	if IdleTask() != idle {
		t.Fatalf("expected IdleTask to return the task registered via SetIdleTask")
	}
}
