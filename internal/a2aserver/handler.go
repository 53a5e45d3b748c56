// Package a2aserver is the A2A protocol endpoint of a node: it serves the
// node's Agent Card, accepts JSON-RPC task submissions, answers them with an
// SSE stream fed by an Executor, and serves tasks/get and tasks/cancel from
// the in-memory task store.
package a2aserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vivars7/a2a-orchestrator/internal/audit"
	"github.com/vivars7/a2a-orchestrator/internal/ctxkeys"
	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
	"github.com/vivars7/a2a-orchestrator/internal/task"
)

// Request is a submitted task handed to the Executor.
type Request struct {
	Task     *task.Task
	Method   string
	Message  *protocol.Message
	Metadata map[string]any
	Header   http.Header
}

// Executor produces a task's events. It should end with a final event;
// if it returns without one the handler emits a terminal event itself.
// ctx is canceled when the caller disconnects or the task is canceled.
type Executor interface {
	Execute(ctx context.Context, req *Request, emit Emitter) error
}

// CardFunc returns the Agent Card to serve.
type CardFunc func() *protocol.AgentCard

// Config holds handler limits.
type Config struct {
	MaxBodyBytes int
	// CancelWait bounds how long tasks/cancel waits for the canceled
	// terminal state before answering.
	CancelWait time.Duration
}

// Handler serves the A2A endpoints.
type Handler struct {
	cfg     Config
	store   *task.Store
	exec    Executor
	card    CardFunc
	audit   *audit.Logger
	metrics *audit.Metrics
	logger  *slog.Logger
	taskMW  []func(http.Handler) http.Handler
	mux     chi.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithAudit logs an audit record per finished task.
func WithAudit(l *audit.Logger) Option {
	return func(h *Handler) { h.audit = l }
}

// WithMetrics records task metrics.
func WithMetrics(m *audit.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithTaskMiddleware wraps the JSON-RPC endpoint, e.g. with rate limiting.
// The card endpoint is not wrapped.
func WithTaskMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.taskMW = append(h.taskMW, mw...) }
}

// New builds the handler.
func New(cfg Config, store *task.Store, exec Executor, card CardFunc, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.CancelWait <= 0 {
		cfg.CancelWait = 5 * time.Second
	}
	h := &Handler{
		cfg:    cfg,
		store:  store,
		exec:   exec,
		card:   card,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/.well-known/agent-card.json", h.serveCard)
	r.Get("/.well-known/agent.json", h.serveCard)
	r.With(h.taskMW...).Post("/", h.serveRPC)
	h.mux = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) serveCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.card())
}

func (h *Handler) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, err := protocol.ReadBody(r.Body, h.cfg.MaxBodyBytes)
	if errors.Is(err, protocol.ErrBodyTooLarge) {
		orcherrors.WriteHTTPError(w, orcherrors.ErrBodyTooLarge)
		return
	}
	if err != nil {
		orcherrors.WriteJSONRPCError(w, orcherrors.Validation(orcherrors.CodeParseError, "reading request body"), nil)
		return
	}

	req, err := protocol.ParseRequest(body)
	if err != nil {
		var id any
		if req != nil {
			id = req.ID
		}
		orcherrors.WriteJSONRPCError(w, err, id)
		return
	}

	ctx := ctxkeys.WithRequestMeta(r.Context(), ctxkeys.RequestMeta{Method: req.Method, RPCID: req.ID})
	r = r.WithContext(ctx)

	switch {
	case protocol.IsStreamingMethod(req.Method):
		h.serveStream(w, r, req)
	case req.Method == protocol.MethodTasksGet:
		h.serveGet(w, req)
	case req.Method == protocol.MethodTasksCancel:
		h.serveCancel(w, req)
	default:
		orcherrors.WriteJSONRPCError(w, orcherrors.Validation(orcherrors.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)), req.ID)
	}
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, req *protocol.JSONRPCRequest) {
	var params protocol.SendMessageParams
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil {
		orcherrors.WriteJSONRPCError(w, orcherrors.Validation(orcherrors.CodeInvalidParams, "invalid params: expected an object with message"), req.ID)
		return
	}
	if params.Message == nil || len(params.Message.Parts) == 0 {
		orcherrors.WriteJSONRPCError(w, orcherrors.Validation(orcherrors.CodeInvalidParams, "invalid params: message with at least one part is required"), req.ID)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		orcherrors.WriteJSONRPCError(w, errors.New("response writer does not support streaming"), req.ID)
		return
	}

	taskID := firstNonEmpty(params.ID, params.Message.TaskID)
	if taskID == "" {
		taskID = protocol.NewID()
	}
	contextID := firstNonEmpty(params.ContextID, params.Message.ContextID)
	if contextID == "" {
		contextID = protocol.NewID()
	}

	t, err := h.store.Create(taskID, contextID)
	if err != nil {
		orcherrors.WriteJSONRPCError(w, orcherrors.Validation(orcherrors.CodeInvalidParams, fmt.Sprintf("invalid params: %v: %s", err, taskID)), req.ID)
		return
	}
	defer h.store.Release(t)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	t.SetCancel(cancel)

	entry := &ctxkeys.AuditEntry{
		TraceID:   middleware.GetReqID(r.Context()),
		TaskID:    taskID,
		ContextID: contextID,
		Method:    req.Method,
		StartTime: t.CreatedAt,
	}
	ctx = ctxkeys.WithAuditEntry(ctx, entry)
	ctx = ctxkeys.WithInboundHeader(ctx, r.Header.Clone())

	protocol.SetSSEHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := h.logger.With("task_id", taskID, "context_id", contextID)
	logger.Info("task started", "method", req.Method)

	em := newSSEEmitter(w, flusher, req.ID, t, logger)
	if err := em.Emit(protocol.StatusEvent(taskID, contextID, protocol.TaskStateWorking, "", false)); err != nil {
		logger.Debug("caller gone before first event", "error", err)
	}

	execErr := h.exec.Execute(ctx, &Request{
		Task:     t,
		Method:   req.Method,
		Message:  params.Message,
		Metadata: params.Metadata,
		Header:   r.Header,
	}, em)
	synthesized := em.finish(h.terminalEvent(ctx, t, execErr))

	h.finishTask(ctx, logger, t, em, entry, execErr, synthesized)
}

// terminalEvent builds the final event for an executor that returned without one.
func (h *Handler) terminalEvent(ctx context.Context, t *task.Task, execErr error) protocol.Event {
	if t.Canceled() || ctx.Err() != nil {
		ev := protocol.StatusEvent(t.ID, t.ContextID, protocol.TaskStateCanceled, "Task canceled", true)
		ev.Metadata = map[string]any{protocol.MetaReasonCode: orcherrors.ReasonCallerCanceled}
		return ev
	}
	if execErr != nil {
		return protocol.FailedEvent(t.ID, t.ContextID, orcherrors.ReasonOf(execErr), execErr.Error())
	}
	return protocol.FailedEvent(t.ID, t.ContextID, orcherrors.ReasonExecutorFailed, "executor ended without a final event")
}

func (h *Handler) finishTask(ctx context.Context, logger *slog.Logger, t *task.Task, em *sseEmitter, entry *ctxkeys.AuditEntry, execErr error, synthesized bool) {
	state := t.State()
	elapsed := t.Elapsed(time.Now())
	events, kinds, reason := em.Delivered()

	entry.State = string(state)
	entry.Reason = reason
	entry.StreamEvents = events
	entry.StreamDuration = elapsed
	if entry.TargetAgent == "" {
		entry.TargetAgent = t.Agent()
	}

	attrs := []any{
		"state", state,
		"agent", entry.TargetAgent,
		"events", events,
		"duration", elapsed,
	}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if synthesized {
		attrs = append(attrs, "synthesized", true)
	}
	if execErr != nil {
		attrs = append(attrs, "error", execErr)
		logger.Warn("task finished", attrs...)
	} else {
		logger.Info("task finished", attrs...)
	}

	if h.audit != nil {
		h.audit.LogTask(ctx)
	}
	if h.metrics != nil {
		h.metrics.RecordTask(entry.TargetAgent, string(state), elapsed)
		for kind, n := range kinds {
			h.metrics.RecordStreamEvents(entry.TargetAgent, kind, n)
		}
	}
}

func (h *Handler) serveGet(w http.ResponseWriter, req *protocol.JSONRPCRequest) {
	t, ok := h.lookup(w, req)
	if !ok {
		return
	}
	writeResult(w, req.ID, t.Snapshot())
}

func (h *Handler) serveCancel(w http.ResponseWriter, req *protocol.JSONRPCRequest) {
	t, ok := h.lookup(w, req)
	if !ok {
		return
	}
	if err := t.Cancel(); err != nil {
		orcherrors.WriteJSONRPCError(w, orcherrors.Validation(orcherrors.CodeTaskNotCancelable,
			fmt.Sprintf("task %s is %s and cannot be canceled", t.ID, t.State())), req.ID)
		return
	}
	h.logger.Info("task cancel requested", "task_id", t.ID)

	timer := time.NewTimer(h.cfg.CancelWait)
	defer timer.Stop()
	select {
	case <-t.Done():
	case <-timer.C:
		h.logger.Warn("task did not reach a terminal state after cancel", "task_id", t.ID, "wait", h.cfg.CancelWait)
	}
	writeResult(w, req.ID, t.Snapshot())
}

// lookup decodes TaskIDParams and finds the task, writing the error response
// when either fails.
func (h *Handler) lookup(w http.ResponseWriter, req *protocol.JSONRPCRequest) (*task.Task, bool) {
	var params protocol.TaskIDParams
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil || params.ID == "" {
		orcherrors.WriteJSONRPCError(w, orcherrors.Validation(orcherrors.CodeInvalidParams, "invalid params: id is required"), req.ID)
		return nil, false
	}
	t, err := h.store.Get(params.ID)
	if err != nil {
		orcherrors.WriteJSONRPCError(w, orcherrors.Validation(orcherrors.CodeTaskNotFound, fmt.Sprintf("task not found: %s", params.ID)), req.ID)
		return nil, false
	}
	return t, true
}

func writeResult(w http.ResponseWriter, id any, result any) {
	resp, err := protocol.NewResult(id, result)
	if err != nil {
		orcherrors.WriteJSONRPCError(w, err, id)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
