// Package task tracks the lifecycle of tasks served by this process.
//
// A task moves submitted → working → {input-required} → completed | failed |
// canceled. Terminal states are absorbing. Tasks live in memory only and are
// dropped a retention period after they finish.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

var (
	// ErrNotFound is returned for unknown task ids.
	ErrNotFound = errors.New("task not found")
	// ErrNotCancelable is returned when canceling a task in a terminal state.
	ErrNotCancelable = errors.New("task is not cancelable")
	// ErrTerminal is returned when an event arrives after the task finished.
	ErrTerminal = errors.New("task already reached a terminal state")
	// ErrDuplicate is returned when creating a task whose id is live.
	ErrDuplicate = errors.New("task id already in use")
)

// Task is one unit of work and its current state. It is safe for concurrent use.
type Task struct {
	ID        string
	ContextID string
	CreatedAt time.Time

	mu         sync.Mutex
	state      protocol.TaskState
	agent      string
	message    *protocol.Message
	updatedAt  time.Time
	finishedAt time.Time
	canceled   bool
	cancel     context.CancelFunc
	done       chan struct{}
}

func newTask(id, contextID string, now time.Time) *Task {
	return &Task{
		ID:        id,
		ContextID: contextID,
		CreatedAt: now,
		state:     protocol.TaskStateSubmitted,
		updatedAt: now,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (t *Task) State() protocol.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Agent returns the agent the task was routed to, if any.
func (t *Task) Agent() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agent
}

// SetAgent records the agent the task was routed to.
func (t *Task) SetAgent(name string) {
	t.mu.Lock()
	t.agent = name
	t.mu.Unlock()
}

// SetCancel installs the function that aborts the task's work. If the task
// was canceled before this call, fn runs immediately.
func (t *Task) SetCancel(fn context.CancelFunc) {
	t.mu.Lock()
	t.cancel = fn
	canceled := t.canceled
	t.mu.Unlock()
	if canceled && fn != nil {
		fn()
	}
}

// Canceled reports whether Cancel was called.
func (t *Task) Canceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Elapsed returns the time from creation to the terminal state, or to now
// while the task is still running.
func (t *Task) Elapsed(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.finishedAt.IsZero() {
		return t.finishedAt.Sub(t.CreatedAt)
	}
	return now.Sub(t.CreatedAt)
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel requests cancellation. The executor observes it through its context
// and emits the canceled terminal event.
func (t *Task) Cancel() error {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return ErrNotCancelable
	}
	t.canceled = true
	fn := t.cancel
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// Apply advances the state machine with ev. Artifact updates leave the state
// unchanged. Any event after a terminal state is rejected.
func (t *Task) Apply(ev protocol.Event, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return ErrTerminal
	}
	next := t.state
	if ev.Kind == protocol.KindStatusUpdate {
		next = ev.State()
		if !validTransition(t.state, next) {
			return fmt.Errorf("invalid task transition %s -> %s", t.state, next)
		}
		// A late "submitted" from an agent does not move the task back.
		if next == protocol.TaskStateSubmitted {
			next = t.state
		}
	}
	if ev.Final != next.Terminal() {
		return fmt.Errorf("event final=%t does not match state %s", ev.Final, next)
	}

	t.state = next
	t.updatedAt = now
	if ev.Status != nil && ev.Status.Message != nil {
		t.message = ev.Status.Message
	}
	if next.Terminal() {
		t.finishedAt = now
		close(t.done)
	}
	return nil
}

// Snapshot returns the task as a tasks/get result.
func (t *Task) Snapshot() protocol.TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := protocol.TaskSnapshot{
		ID:        t.ID,
		ContextID: t.ContextID,
		Kind:      "task",
		Status: protocol.TaskStatus{
			State:     t.state,
			Message:   t.message,
			Timestamp: t.updatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if t.agent != "" {
		snap.Metadata = map[string]any{"agent": t.agent}
	}
	return snap
}

func validTransition(from, to protocol.TaskState) bool {
	switch to {
	case protocol.TaskStateSubmitted, protocol.TaskStateWorking, protocol.TaskStateInputRequired,
		protocol.TaskStateCompleted, protocol.TaskStateFailed, protocol.TaskStateCanceled:
	default:
		return false
	}
	if from == protocol.TaskStateSubmitted || from == protocol.TaskStateWorking || from == protocol.TaskStateInputRequired {
		return true
	}
	return false
}
