package a2aclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

// Stream is the finite, non-restartable event sequence of one submitted task.
// Next must not be called concurrently; Close may be called from any goroutine.
type Stream struct {
	agent     string
	requestID string
	taskID    string
	contextID string

	body   io.ReadCloser
	frames *protocol.FrameReader
	ctx    context.Context
	cancel context.CancelCauseFunc

	events    int
	done      bool
	closeOnce sync.Once
}

// TaskID returns the id the task was submitted under.
func (s *Stream) TaskID() string { return s.taskID }

// ContextID returns the context id the task was submitted under.
func (s *Stream) ContextID() string { return s.contextID }

// Agent returns the name of the agent producing the stream.
func (s *Stream) Agent() string { return s.agent }

// Next returns the next event. After the final event it returns io.EOF.
//
// A connection that drops after at least one event yields a synthesized failed
// event with reason connection_lost. Malformed frames, rejected tasks, id
// mismatches and drops before the first event are protocol errors.
func (s *Stream) Next() (protocol.Event, error) {
	if s.done {
		return protocol.Event{}, io.EOF
	}

	data, err := s.frames.Next()
	if err != nil {
		s.done = true
		return s.endOfBody(err)
	}

	resp, ev, err := protocol.DecodeFrame(data)
	if err != nil {
		s.done = true
		var rpcErr *protocol.JSONRPCError
		if errors.As(err, &rpcErr) {
			return protocol.Event{}, orcherrors.Protocol(s.agent, orcherrors.ReasonAgentRejected,
				"agent rejected task: "+rpcErr.Message, rpcErr)
		}
		return protocol.Event{}, orcherrors.Protocol(s.agent, orcherrors.ReasonProtocolError, "malformed event frame", err)
	}

	if resp.ID != nil && fmt.Sprint(resp.ID) != s.requestID {
		s.done = true
		return protocol.Event{}, orcherrors.Protocol(s.agent, orcherrors.ReasonProtocolError,
			fmt.Sprintf("response id %v does not match request id %s", resp.ID, s.requestID), nil)
	}
	if ev.TaskID != s.taskID || ev.ContextID != s.contextID {
		s.done = true
		return protocol.Event{}, orcherrors.Protocol(s.agent, orcherrors.ReasonProtocolError,
			fmt.Sprintf("event ids %s/%s do not match task %s/%s", ev.TaskID, ev.ContextID, s.taskID, s.contextID), nil)
	}

	s.events++
	if ev.Final {
		s.done = true
	}
	return ev, nil
}

// endOfBody classifies the end of the response body before a final event.
func (s *Stream) endOfBody(err error) (protocol.Event, error) {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return protocol.Event{}, ctxErr
	}
	if errors.Is(err, protocol.ErrFrameTooLarge) {
		return protocol.Event{}, orcherrors.Protocol(s.agent, orcherrors.ReasonProtocolError, "event frame too large", err)
	}
	if s.events == 0 {
		return protocol.Event{}, orcherrors.Protocol(s.agent, orcherrors.ReasonConnectionLost,
			"stream ended before any event", err)
	}
	return protocol.FailedEvent(s.taskID, s.contextID, orcherrors.ReasonConnectionLost,
		"agent closed the stream before a final event"), nil
}

// Close releases the upstream connection. It is safe to call more than once
// and concurrently with a blocked Next, which then returns an error.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel(context.Canceled)
		err = s.body.Close()
	})
	return err
}
