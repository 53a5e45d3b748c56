// Package relay forwards one upstream task stream to the caller.
//
// A reader goroutine pulls events from the upstream source into a channel and
// the relay loop selects over that channel, the caller's context and two
// timers (idle gap between events and overall stream deadline). Whatever
// happens, the sink sees exactly one final event unless it stopped accepting
// writes, and no event follows it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vivars7/a2a-orchestrator/internal/config"
	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

// Source is an upstream event stream. Close must unblock a pending Next.
type Source interface {
	Next() (protocol.Event, error)
	Close() error
}

// Sink receives relayed events. Emit fails once the caller is gone. An event
// the sink refuses as invalid is reported with an error of the protocol kind.
type Sink interface {
	Emit(protocol.Event) error
}

// CancelFunc asks the upstream agent to cancel the task.
type CancelFunc func(ctx context.Context) error

// Config bounds a relayed stream.
type Config struct {
	StreamTimeout time.Duration
	IdleTimeout   time.Duration
	CancelTimeout time.Duration
}

// ConfigFrom extracts the relay settings from the root config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		StreamTimeout: cfg.Relay.StreamTimeout.Duration,
		IdleTimeout:   cfg.Relay.IdleTimeout.Duration,
		CancelTimeout: cfg.Relay.CancelTimeout.Duration,
	}
}

// Outcome summarizes a relayed stream.
type Outcome struct {
	State       protocol.TaskState
	Reason      string
	Events      int
	Synthesized bool
	Abandoned   bool
	FirstEvent  time.Duration
	Err         error
}

// Relay forwards task streams.
type Relay struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a relay.
func New(cfg Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = 5 * time.Second
	}
	return &Relay{cfg: cfg, logger: logger}
}

type readResult struct {
	ev  protocol.Event
	err error
}

// Forward relays src to sink for the task taskID/contextID until the final
// event, a failure, or ctx cancellation. It always closes src and waits for
// its reader goroutine before returning. cancelUpstream may be nil.
func (r *Relay) Forward(ctx context.Context, taskID, contextID string, src Source, sink Sink, cancelUpstream CancelFunc) Outcome {
	start := time.Now()
	logger := r.logger.With("task_id", taskID, "context_id", contextID)

	results := make(chan readResult)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			ev, err := src.Next()
			select {
			case results <- readResult{ev: ev, err: err}:
			case <-stop:
				return
			}
			if err != nil || ev.Final {
				return
			}
		}
	}()
	defer func() {
		close(stop)
		src.Close()
		wg.Wait()
	}()

	idle := newTimer(r.cfg.IdleTimeout)
	defer idle.Stop()
	overall := newTimer(r.cfg.StreamTimeout)
	defer overall.Stop()

	out := Outcome{}
	fail := func(reason, msg string, err error, cancel bool) Outcome {
		if cancel {
			r.cancelUpstream(ctx, logger, cancelUpstream)
		}
		logger.Warn("relayed stream failed", "reason", reason, "events", out.Events, "error", err)
		out.State = protocol.TaskStateFailed
		out.Reason = reason
		out.Synthesized = true
		out.Err = err
		if emitErr := sink.Emit(protocol.FailedEvent(taskID, contextID, reason, msg)); emitErr != nil {
			out.Abandoned = true
		}
		return out
	}

	for {
		select {
		case <-ctx.Done():
			return r.abandon(ctx, logger, &out, taskID, contextID, sink, cancelUpstream, true)

		case <-overall.C:
			return fail(orcherrors.ReasonUpstreamTimeout,
				fmt.Sprintf("agent stream exceeded %s", r.cfg.StreamTimeout),
				orcherrors.UpstreamTimeout("", "stream deadline exceeded", nil), true)

		case <-idle.C:
			return fail(orcherrors.ReasonUpstreamTimeout,
				fmt.Sprintf("agent sent no event for %s", r.cfg.IdleTimeout),
				orcherrors.UpstreamTimeout("", "stream idle timeout", nil), true)

		case res := <-results:
			if res.err != nil {
				if ctx.Err() != nil {
					return r.abandon(ctx, logger, &out, taskID, contextID, sink, cancelUpstream, true)
				}
				reason := orcherrors.ReasonOf(res.err)
				if errors.Is(res.err, context.DeadlineExceeded) {
					reason = orcherrors.ReasonUpstreamTimeout
				}
				cancel := reason == orcherrors.ReasonProtocolError || reason == orcherrors.ReasonUpstreamTimeout
				return fail(reason, res.err.Error(), res.err, cancel)
			}

			ev := res.ev
			if ev.TaskID != taskID || ev.ContextID != contextID {
				err := orcherrors.Protocol("", orcherrors.ReasonProtocolError,
					fmt.Sprintf("event ids %s/%s do not match task", ev.TaskID, ev.ContextID), nil)
				return fail(orcherrors.ReasonProtocolError, err.Error(), err, true)
			}

			if out.Events == 0 {
				out.FirstEvent = time.Since(start)
			}
			if err := sink.Emit(ev); err != nil {
				if errors.Is(err, orcherrors.ErrProtocol) {
					msg := "agent sent an invalid event: " + err.Error()
					if text := eventText(ev); text != "" {
						msg += " (agent said: " + text + ")"
					}
					return fail(orcherrors.ReasonProtocolError, msg, err, !ev.Final)
				}
				if ev.Final {
					out.State = ev.State()
					out.Reason = ev.ReasonCode()
					out.Err = err
					out.Abandoned = true
					return out
				}
				logger.Info("caller stopped accepting events", "error", err)
				return r.abandon(ctx, logger, &out, taskID, contextID, sink, cancelUpstream, false)
			}
			out.Events++

			if ev.Final {
				out.State = ev.State()
				out.Reason = ev.ReasonCode()
				return out
			}
			idle.Reset(r.cfg.IdleTimeout)
		}
	}
}

// abandon stops a stream the caller no longer wants: one bounded upstream
// cancel, then a canceled terminal event if the sink still accepts writes.
func (r *Relay) abandon(ctx context.Context, logger *slog.Logger, out *Outcome, taskID, contextID string, sink Sink, cancelUpstream CancelFunc, sinkWritable bool) Outcome {
	logger.Info("abandoning relayed stream", "events", out.Events)
	r.cancelUpstream(ctx, logger, cancelUpstream)

	out.State = protocol.TaskStateCanceled
	out.Reason = orcherrors.ReasonCallerCanceled
	out.Abandoned = true
	out.Err = ctx.Err()
	if sinkWritable {
		ev := protocol.StatusEvent(taskID, contextID, protocol.TaskStateCanceled, "task canceled", true)
		ev.Metadata = map[string]any{protocol.MetaReasonCode: orcherrors.ReasonCallerCanceled}
		if err := sink.Emit(ev); err == nil {
			out.Synthesized = true
			out.Abandoned = false
		}
	}
	return *out
}

// cancelUpstream runs fn under the cancel timeout, detached from ctx which may
// already be done.
func (r *Relay) cancelUpstream(ctx context.Context, logger *slog.Logger, fn CancelFunc) {
	if fn == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CancelTimeout)
	defer cancel()
	if err := fn(cctx); err != nil {
		logger.Warn("upstream cancel failed", "error", err)
	}
}

// eventText returns the text an upstream event carries, for failure messages.
func eventText(ev protocol.Event) string {
	if ev.Status != nil && ev.Status.Message != nil {
		return ev.Status.Message.Text()
	}
	if ev.Artifact == nil {
		return ""
	}
	var parts []string
	for _, p := range ev.Artifact.Parts {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// resettableTimer is a time.Timer that never fires when its duration is zero.
type resettableTimer struct {
	*time.Timer
	C <-chan time.Time
}

func newTimer(d time.Duration) *resettableTimer {
	if d <= 0 {
		t := time.NewTimer(time.Hour)
		t.Stop()
		return &resettableTimer{Timer: t, C: nil}
	}
	t := time.NewTimer(d)
	return &resettableTimer{Timer: t, C: t.C}
}

// Reset restarts the timer; a disabled timer stays disabled.
func (t *resettableTimer) Reset(d time.Duration) {
	if t.C == nil {
		return
	}
	t.Timer.Reset(d)
}
