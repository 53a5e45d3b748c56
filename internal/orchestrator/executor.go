// Package orchestrator is the Executor of the orchestrator node: it routes
// each submitted task to the best matching downstream agent and relays that
// agent's stream back to the caller.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/vivars7/a2a-orchestrator/internal/a2aclient"
	"github.com/vivars7/a2a-orchestrator/internal/a2aserver"
	"github.com/vivars7/a2a-orchestrator/internal/audit"
	"github.com/vivars7/a2a-orchestrator/internal/config"
	"github.com/vivars7/a2a-orchestrator/internal/ctxkeys"
	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
	"github.com/vivars7/a2a-orchestrator/internal/registry"
	"github.com/vivars7/a2a-orchestrator/internal/relay"
	"github.com/vivars7/a2a-orchestrator/internal/router"
)

// MetaTargetAgent is the message or params metadata key that names the agent
// a task must go to.
const MetaTargetAgent = "targetAgent"

// Routing reasons.
const (
	ReasonScore    = "score"
	ReasonDefault  = "default"
	ReasonExplicit = "explicit"
	ReasonNoMatch  = "no_match"
)

// Decision is the outcome of routing one task.
type Decision struct {
	Agent   *registry.AgentInfo
	Scored  router.Scored
	Reason  string
	Ranking []router.Scored
	// Unavailable lists agents left out because their card could not be obtained.
	Unavailable []error
}

// Options holds routing behavior from configuration.
type Options struct {
	IgnoreExplicitTarget bool
}

// OptionsFrom extracts orchestrator options from the root config.
func OptionsFrom(cfg *config.Config) Options {
	return Options{IgnoreExplicitTarget: cfg.Routing.IgnoreExplicitTarget}
}

// Executor routes and relays tasks. It implements a2aserver.Executor.
type Executor struct {
	registry *registry.Registry
	relay    *relay.Relay
	streams  *relay.StreamManager
	metrics  *audit.Metrics
	opts     Options
	logger   *slog.Logger
}

// New creates the orchestrator executor. metrics may be nil.
func New(reg *registry.Registry, rl *relay.Relay, streams *relay.StreamManager, opts Options, metrics *audit.Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: reg,
		relay:    rl,
		streams:  streams,
		metrics:  metrics,
		opts:     opts,
		logger:   logger,
	}
}

// Route selects the agent for text. A non-empty target naming an agent whose
// card is available bypasses scoring unless explicit targets are ignored.
func (e *Executor) Route(ctx context.Context, text, target string) (Decision, error) {
	cands, unavailable := e.registry.Snapshot(ctx)
	dec := Decision{Unavailable: unavailable}

	if target != "" && !e.opts.IgnoreExplicitTarget {
		for _, c := range cands {
			if c.Agent.Name == target {
				dec.Agent = c.Agent
				dec.Scored = router.Scored{Name: target, Score: 1}
				dec.Reason = ReasonExplicit
				return dec, nil
			}
		}
		if _, known := e.registry.Lookup(target); known {
			e.logger.Warn("explicit target unavailable, routing by keywords", "target", target)
		} else {
			e.logger.Warn("unknown explicit target, routing by keywords", "target", target)
		}
	}

	if len(cands) == 0 && len(unavailable) > 0 {
		return dec, unavailable[0]
	}

	profiles := registry.Profiles(cands)
	dec.Ranking = router.Rank(text, profiles)

	defaultName := ""
	if d := e.registry.Default(); d != nil {
		defaultName = d.Name
	}
	best, err := router.Select(text, profiles, defaultName)
	if err != nil {
		return dec, err
	}
	for _, c := range cands {
		if c.Agent.Name == best.Name {
			dec.Agent = c.Agent
			break
		}
	}
	dec.Scored = best
	dec.Reason = ReasonScore
	if best.Default {
		dec.Reason = ReasonDefault
	}
	return dec, nil
}

// Execute routes req, submits it to the chosen agent and relays its stream.
func (e *Executor) Execute(ctx context.Context, req *a2aserver.Request, emit a2aserver.Emitter) error {
	t := req.Task
	logger := e.logger.With("task_id", t.ID, "context_id", t.ContextID)
	entry, _ := ctxkeys.AuditEntryFrom(ctx)
	if entry == nil {
		entry = &ctxkeys.AuditEntry{}
	}

	dec, err := e.Route(ctx, req.Message.Text(), targetOf(req))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.recordRoute("", ReasonNoMatch)
		entry.RouteReason = ReasonNoMatch
		logger.Warn("task not routed", "error", err, "unavailable", len(dec.Unavailable))
		return e.fail(emit, t.ID, t.ContextID, err)
	}

	agent := dec.Agent
	t.SetAgent(agent.Name)
	entry.TargetAgent = agent.Name
	entry.RouteScore = dec.Scored.Score
	entry.RouteReason = dec.Reason
	e.recordRoute(agent.Name, dec.Reason)
	logger.Info("task routed",
		"agent", agent.Name,
		"reason", dec.Reason,
		"score", dec.Scored.Score,
		"matched", dec.Scored.Matched,
		"penalized", dec.Scored.Penalized,
	)

	if !e.streams.Acquire(agent.Name, agent.MaxStreams) {
		return e.fail(emit, t.ID, t.ContextID, orcherrors.Unavailable(agent.Name))
	}
	defer e.streams.Release(agent.Name)
	if e.metrics != nil {
		e.metrics.IncrActiveStreams(agent.Name)
		defer e.metrics.DecrActiveStreams(agent.Name)
	}

	header := req.Header
	if h, ok := ctxkeys.InboundHeaderFrom(ctx); ok {
		header = h
	}
	stream, err := agent.Client.Submit(ctx, a2aclient.SubmitRequest{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		Message:   req.Message,
		Metadata:  req.Metadata,
		Header:    header,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("submission failed", "agent", agent.Name, "error", err)
		return e.fail(emit, t.ID, t.ContextID, err)
	}

	out := e.relay.Forward(ctx, t.ID, t.ContextID, stream, emit, func(cctx context.Context) error {
		return agent.Client.Cancel(cctx, t.ID)
	})
	entry.FirstEvent = out.FirstEvent
	if e.metrics != nil && out.Events > 0 {
		e.metrics.RecordFirstEvent(agent.Name, out.FirstEvent)
	}
	logger.Debug("relay finished",
		"agent", agent.Name,
		"state", out.State,
		"events", out.Events,
		"synthesized", out.Synthesized,
		"abandoned", out.Abandoned,
	)
	if out.State == protocol.TaskStateCanceled {
		return nil
	}
	return out.Err
}

// fail emits the failed terminal event for err and returns err.
func (e *Executor) fail(emit a2aserver.Emitter, taskID, contextID string, err error) error {
	emit.Emit(protocol.FailedEvent(taskID, contextID, orcherrors.ReasonOf(err), failureText(err)))
	return err
}

func (e *Executor) recordRoute(agent, reason string) {
	if e.metrics != nil {
		e.metrics.RecordRoute(agent, reason)
	}
}

// failureText renders err for the caller, with the operator hint when one exists.
func failureText(err error) string {
	if oe, ok := orcherrors.As(err); ok && oe.Hint != "" {
		return err.Error() + ". " + oe.Hint
	}
	return err.Error()
}

// targetOf returns the explicit target agent from message or params metadata.
func targetOf(req *a2aserver.Request) string {
	if name := req.Message.MetadataString(MetaTargetAgent); name != "" {
		return name
	}
	if s, ok := req.Metadata[MetaTargetAgent].(string); ok {
		return s
	}
	return ""
}
