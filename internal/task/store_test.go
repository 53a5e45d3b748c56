package task

import (
	"errors"
	"testing"
	"time"

	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestStore_CreateGet(t *testing.T) {
	s := NewStore(time.Minute)
	defer s.Close()

	task, err := s.Create("t1", "c1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get("t1")
	if err != nil || got != task {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
	if _, err := s.Create("t1", "c1"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Create live duplicate = %v, want ErrDuplicate", err)
	}
}

func TestStore_ReplaceFinished(t *testing.T) {
	s := NewStore(time.Minute)
	defer s.Close()

	first, _ := s.Create("t1", "c1")
	first.Apply(protocol.StatusEvent("t1", "c1", protocol.TaskStateCompleted, "", true), time.Now())
	s.Release(first)

	second, err := s.Create("t1", "c1")
	if err != nil {
		t.Fatalf("Create after finish: %v", err)
	}
	if second == first {
		t.Fatal("expected a fresh task")
	}
	// The old removal timer must not delete the new task.
	if got, _ := s.Get("t1"); got != second {
		t.Error("new task missing")
	}
}

func TestStore_ReleaseAfterRetention(t *testing.T) {
	s := NewStore(30 * time.Millisecond)
	defer s.Close()

	task, _ := s.Create("t1", "c1")
	task.Apply(protocol.StatusEvent("t1", "c1", protocol.TaskStateFailed, "", true), time.Now())
	s.Release(task)

	if s.Len() != 1 {
		t.Fatal("task removed before retention elapsed")
	}
	waitForCondition(t, time.Second, func() bool { return s.Len() == 0 })
}

func TestStore_ReleaseWithoutRetention(t *testing.T) {
	s := NewStore(0)
	task, _ := s.Create("t1", "c1")
	s.Release(task)
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestStore_Active(t *testing.T) {
	s := NewStore(time.Minute)
	defer s.Close()

	s.Create("t1", "c1")
	done, _ := s.Create("t2", "c1")
	done.Apply(protocol.StatusEvent("t2", "c1", protocol.TaskStateCompleted, "", true), time.Now())

	if got := s.Active(); got != 1 {
		t.Errorf("Active = %d, want 1", got)
	}
}
