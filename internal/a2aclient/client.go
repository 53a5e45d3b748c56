// Package a2aclient submits tasks to A2A agents over JSON-RPC and exposes the
// SSE response as a stream of typed events.
package a2aclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/vivars7/a2a-orchestrator/internal/config"
	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

// errSubmitDeadline is the cancel cause when response headers miss the submission deadline.
var errSubmitDeadline = errors.New("submission deadline exceeded")

// bodyExcerptSize bounds the error body kept from a non-2xx response.
const bodyExcerptSize = 512

// Config describes one downstream agent.
type Config struct {
	Name           string
	URL            string
	Method         string
	Timeout        time.Duration
	MaxFrameBytes  int
	ForwardHeaders []string
}

// ConfigFrom builds a client config for one configured agent.
func ConfigFrom(agent config.AgentConfig, cfg *config.Config) Config {
	return Config{
		Name:           agent.Name,
		URL:            agent.URL,
		Method:         agent.Method,
		Timeout:        agent.Timeout.Duration,
		MaxFrameBytes:  cfg.Relay.MaxFrameBytes,
		ForwardHeaders: cfg.Security.ForwardHeaders,
	}
}

// Client talks to one agent.
type Client struct {
	cfg    Config
	stream *http.Client
	plain  *http.Client
	base   *slog.Logger
	logger *slog.Logger
}

// New creates a client. streamTransport carries task streams and should come
// from NewStreamTransport; a nil transport uses http.DefaultTransport.
func New(cfg Config, streamTransport http.RoundTripper, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Method == "" {
		cfg.Method = protocol.MethodMessageStream
	}
	if streamTransport == nil {
		streamTransport = http.DefaultTransport
	}
	return &Client{
		cfg:    cfg,
		stream: &http.Client{Transport: streamTransport},
		plain:  &http.Client{Transport: streamTransport, Timeout: 30 * time.Second},
		base:   logger,
		logger: logger.With("agent", cfg.Name),
	}
}

// Name returns the agent's name.
func (c *Client) Name() string { return c.cfg.Name }

// WithName returns a copy of c that logs and reports errors under name. The
// copy shares c's HTTP clients.
func (c *Client) WithName(name string) *Client {
	cp := *c
	cp.cfg.Name = name
	cp.logger = c.base.With("agent", name)
	return &cp
}

// URL returns the agent's base URL.
func (c *Client) URL() string { return c.cfg.URL }

// SubmitRequest is one task submission. Missing ids are generated.
type SubmitRequest struct {
	TaskID    string
	ContextID string
	Message   *protocol.Message
	Metadata  map[string]any

	// Header holds the caller's inbound headers; the configured
	// pass-through headers are forwarded from it.
	Header http.Header
}

// Submit sends the task and returns its event stream once the agent has
// answered with an event stream. The stream lives until the final event,
// ctx cancellation or Close.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Stream, error) {
	if req.Message == nil {
		return nil, orcherrors.Validation(orcherrors.CodeInvalidParams, "message is required")
	}
	if req.TaskID == "" {
		req.TaskID = protocol.NewID()
	}
	if req.ContextID == "" {
		req.ContextID = protocol.NewID()
	}

	msg := *req.Message
	if msg.MessageID == "" {
		msg.MessageID = protocol.NewID()
	}
	msg.Role = protocol.RoleUser
	msg.TaskID = req.TaskID
	msg.ContextID = req.ContextID

	rpcID := protocol.NewID()
	rpcReq, err := protocol.NewRequest(rpcID, c.cfg.Method, protocol.SendMessageParams{
		ID:        req.TaskID,
		ContextID: req.ContextID,
		Message:   &msg,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", c.cfg.Method, err)
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", c.cfg.Method, err)
	}

	streamCtx, cancel := context.WithCancelCause(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	forwardHeaders(httpReq.Header, req.Header, c.cfg.ForwardHeaders)

	var deadline *time.Timer
	if c.cfg.Timeout > 0 {
		deadline = time.AfterFunc(c.cfg.Timeout, func() { cancel(errSubmitDeadline) })
	}
	resp, err := c.stream.Do(httpReq)
	if deadline != nil {
		deadline.Stop()
	}
	if err != nil {
		cause := context.Cause(streamCtx)
		cancel(nil)
		if errors.Is(cause, errSubmitDeadline) {
			return nil, orcherrors.UpstreamTimeout(c.cfg.Name,
				fmt.Sprintf("no response within %s", c.cfg.Timeout), err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, orcherrors.Protocol(c.cfg.Name, orcherrors.ReasonConnectionLost, "submitting task", err)
	}

	if err := c.checkResponse(resp); err != nil {
		resp.Body.Close()
		cancel(nil)
		return nil, err
	}

	c.logger.Debug("task submitted", "task_id", req.TaskID, "context_id", req.ContextID, "method", c.cfg.Method)
	return &Stream{
		agent:     c.cfg.Name,
		requestID: rpcID,
		taskID:    req.TaskID,
		contextID: req.ContextID,
		body:      resp.Body,
		frames:    protocol.NewFrameReader(resp.Body, c.cfg.MaxFrameBytes),
		ctx:       streamCtx,
		cancel:    cancel,
	}, nil
}

// checkResponse turns a non-stream answer into a protocol error.
func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptSize))
		return orcherrors.Protocol(c.cfg.Name, orcherrors.ReasonProtocolError,
			fmt.Sprintf("agent returned HTTP %d", resp.StatusCode),
			fmt.Errorf("body: %s", strings.TrimSpace(string(excerpt))))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return nil
	}

	// Some agents answer a rejected request with a plain JSON-RPC error.
	data, _ := io.ReadAll(io.LimitReader(resp.Body, protocol.DefaultMaxFrameSize))
	var rpcResp protocol.JSONRPCResponse
	if json.Unmarshal(data, &rpcResp) == nil && rpcResp.Error != nil {
		return orcherrors.Protocol(c.cfg.Name, orcherrors.ReasonAgentRejected,
			"agent rejected task: "+rpcResp.Error.Message, rpcResp.Error)
	}
	return orcherrors.Protocol(c.cfg.Name, orcherrors.ReasonProtocolError,
		fmt.Sprintf("expected text/event-stream, got %q", resp.Header.Get("Content-Type")), nil)
}

// Cancel asks the agent to cancel taskID. It is best effort: callers bound it
// with ctx and only log the error.
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	rpcReq, err := protocol.NewRequest(protocol.NewID(), protocol.MethodTasksCancel, protocol.TaskIDParams{ID: taskID})
	if err != nil {
		return err
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating cancel request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.plain.Do(httpReq)
	if err != nil {
		return fmt.Errorf("canceling task %s on %s: %w", taskID, c.cfg.Name, err)
	}
	defer resp.Body.Close()

	var rpcResp protocol.JSONRPCResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, protocol.DefaultMaxFrameSize)).Decode(&rpcResp); err != nil {
		return fmt.Errorf("canceling task %s on %s: HTTP %d: %w", taskID, c.cfg.Name, resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("canceling task %s on %s: %w", taskID, c.cfg.Name, rpcResp.Error)
	}
	return nil
}
