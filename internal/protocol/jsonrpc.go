package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
)

// A2A JSON-RPC methods.
const (
	MethodMessageStream      = "message/stream"
	MethodMessageSend        = "message/send"
	MethodTasksSend          = "tasks/send"
	MethodTasksSendSubscribe = "tasks/sendSubscribe"
	MethodTasksGet           = "tasks/get"
	MethodTasksCancel        = "tasks/cancel"
)

// IsStreamingMethod reports whether method submits a task and answers with an SSE stream.
func IsStreamingMethod(method string) bool {
	switch method {
	case MethodMessageStream, MethodMessageSend, MethodTasksSend, MethodTasksSendSubscribe:
		return true
	}
	return false
}

// ParseRequest decodes and validates a JSON-RPC 2.0 request envelope.
// Failures are validation errors carrying -32700 (not JSON) or -32600
// (wrong version, missing id or method). The id, when readable, is returned
// even on failure so the error response can echo it.
func ParseRequest(body []byte) (*JSONRPCRequest, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, orcherrors.Validation(orcherrors.CodeParseError, fmt.Sprintf("parse error: %v", err))
	}

	if req.JSONRPC != JSONRPCVersion {
		return &req, orcherrors.Validation(orcherrors.CodeInvalidRequest, fmt.Sprintf("invalid request: jsonrpc must be %q, got %q", JSONRPCVersion, req.JSONRPC))
	}

	if !hasID(body) || req.ID == nil {
		return &req, orcherrors.Validation(orcherrors.CodeInvalidRequest, "invalid request: missing id")
	}

	switch req.ID.(type) {
	case string, float64:
	default:
		return &req, orcherrors.Validation(orcherrors.CodeInvalidRequest, "invalid request: id must be a string or number")
	}

	if req.Method == "" {
		return &req, orcherrors.Validation(orcherrors.CodeInvalidRequest, "invalid request: missing method")
	}

	return &req, nil
}

// hasID reports whether the top-level object contains an "id" member.
func hasID(body []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	raw, ok := fields["id"]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// NewRequest builds a JSON-RPC request with marshaled params.
func NewRequest(id any, method string, params any) (*JSONRPCRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	return &JSONRPCRequest{JSONRPC: JSONRPCVersion, Method: method, Params: raw, ID: id}, nil
}

// NewResult builds a JSON-RPC success response.
func NewResult(id any, result any) (*JSONRPCResponse, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Result: raw}, nil
}
