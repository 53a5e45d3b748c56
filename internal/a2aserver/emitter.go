package a2aserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
	"github.com/vivars7/a2a-orchestrator/internal/task"
)

// ErrStreamClosed is returned by Emit once the final event was written.
var ErrStreamClosed = errors.New("task stream already ended")

// rejected marks an event the task cannot accept. Callers tell it apart from a
// failed write with errors.Is(err, orcherrors.ErrProtocol).
func rejected(err error) error {
	return orcherrors.Protocol("", orcherrors.ReasonProtocolError, "event rejected", err)
}

// Emitter delivers events of one task to its caller.
type Emitter interface {
	Emit(protocol.Event) error
}

// sseEmitter writes events as SSE frames and keeps the task state machine in
// step with what the caller has seen.
type sseEmitter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	rpcID   any
	task    *task.Task
	now     func() time.Time
	logger  *slog.Logger

	final  bool
	reason string
	broken error
	events int
	kinds  map[string]int
}

func newSSEEmitter(w http.ResponseWriter, flusher http.Flusher, rpcID any, t *task.Task, logger *slog.Logger) *sseEmitter {
	return &sseEmitter{
		w:       w,
		flusher: flusher,
		rpcID:   rpcID,
		task:    t,
		now:     time.Now,
		logger:  logger,
		kinds:   make(map[string]int),
	}
}

// Emit validates ev against the task, applies it and writes it. Invalid events
// fail with a protocol error and leave the task unchanged. Events after the
// final one are rejected. After a write failure the task state still
// advances but nothing more is written.
func (e *sseEmitter) Emit(ev protocol.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.final {
		return ErrStreamClosed
	}
	if ev.TaskID != e.task.ID || ev.ContextID != e.task.ContextID {
		return rejected(fmt.Errorf("event for task %s/%s on stream of %s/%s", ev.TaskID, ev.ContextID, e.task.ID, e.task.ContextID))
	}
	if err := ev.Validate(); err != nil {
		return rejected(err)
	}
	if err := e.task.Apply(ev, e.now()); err != nil {
		if errors.Is(err, task.ErrTerminal) {
			return ErrStreamClosed
		}
		return rejected(err)
	}
	if ev.Final {
		e.final = true
		e.reason = ev.ReasonCode()
	}
	if e.broken != nil {
		return e.broken
	}
	if err := protocol.WriteFrame(e.w, e.rpcID, ev); err != nil {
		e.broken = err
		e.logger.Debug("caller stream write failed", "task_id", e.task.ID, "error", err)
		return err
	}
	e.flusher.Flush()
	e.events++
	e.kinds[ev.Kind]++
	return nil
}

// finish emits the terminal event the executor left out, if any.
func (e *sseEmitter) finish(ev protocol.Event) (synthesized bool) {
	e.mu.Lock()
	done := e.final
	e.mu.Unlock()
	if done {
		return false
	}
	if err := e.Emit(ev); err != nil {
		e.logger.Debug("terminal event not delivered", "task_id", e.task.ID, "error", err)
	}
	return true
}

// Delivered returns the number of frames written, their kinds and the
// reason code of the final event.
func (e *sseEmitter) Delivered() (int, map[string]int, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events, e.kinds, e.reason
}
