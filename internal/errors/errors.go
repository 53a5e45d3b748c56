// Package errors defines the orchestrator's error kinds.
// Every error carries a Kind for errors.Is matching, a JSON-RPC code, a reason
// code for failed terminal events, and a Hint for operator guidance.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery and reporting.
type Kind string

const (
	// KindDiscovery is an unreachable or malformed agent card.
	KindDiscovery Kind = "discovery"
	// KindNoMatch means no agent scored above zero and no default exists.
	KindNoMatch Kind = "no_match"
	// KindProtocol is a malformed JSON-RPC response or SSE frame from an agent.
	KindProtocol Kind = "protocol"
	// KindUpstreamTimeout is an exceeded deadline talking to an agent.
	KindUpstreamTimeout Kind = "upstream_timeout"
	// KindValidation is a malformed inbound JSON-RPC request.
	KindValidation Kind = "validation"
	// KindUnavailable means the agent cannot take more work right now.
	KindUnavailable Kind = "unavailable"
)

// Reason codes attached to synthesized failed terminal events.
const (
	ReasonUpstreamTimeout = "upstream_timeout"
	ReasonProtocolError   = "protocol_error"
	ReasonAgentRejected   = "agent_rejected"
	ReasonConnectionLost  = "connection_lost"
	ReasonNoMatch         = "no_match"
	ReasonDiscoveryFailed = "discovery_failed"
	ReasonAgentBusy       = "agent_busy"
	ReasonCallerCanceled  = "caller_canceled"
	ReasonExecutorFailed  = "executor_failed"
)

// Error is the base error type for all orchestrator errors.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Agent   string `json:"agent,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Agent != "" {
		msg = fmt.Sprintf("%s (agent %s)", msg, e.Agent)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the kind sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Kind sentinels for errors.Is.
var (
	ErrDiscovery       = &Error{Kind: KindDiscovery}
	ErrNoMatch         = &Error{Kind: KindNoMatch}
	ErrProtocol        = &Error{Kind: KindProtocol}
	ErrUpstreamTimeout = &Error{Kind: KindUpstreamTimeout}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrUnavailable     = &Error{Kind: KindUnavailable}
)

// Discovery wraps a card fetch failure for the agent at url.
func Discovery(url string, err error) *Error {
	return &Error{
		Kind:    KindDiscovery,
		Code:    CodeInternalError,
		Reason:  ReasonDiscoveryFailed,
		Message: fmt.Sprintf("discovering agent card at %s", url),
		Hint:    "Check that the agent serves its card and is reachable from the orchestrator",
		Err:     err,
	}
}

// NoMatch reports that no registered agent can handle the task.
func NoMatch(candidates int) *Error {
	return &Error{
		Kind:    KindNoMatch,
		Code:    CodeInternalError,
		Reason:  ReasonNoMatch,
		Message: fmt.Sprintf("no agent matched the task among %d candidates", candidates),
		Hint:    "Mention one of an agent's primary keywords or mark one agent default: true",
	}
}

// Protocol reports a malformed or rejected upstream exchange.
// reason is one of ReasonProtocolError, ReasonAgentRejected or ReasonConnectionLost.
func Protocol(agent, reason, message string, err error) *Error {
	if reason == "" {
		reason = ReasonProtocolError
	}
	return &Error{
		Kind:    KindProtocol,
		Code:    CodeInternalError,
		Reason:  reason,
		Message: message,
		Agent:   agent,
		Err:     err,
	}
}

// UpstreamTimeout reports an exceeded deadline while waiting on an agent.
func UpstreamTimeout(agent, message string, err error) *Error {
	return &Error{
		Kind:    KindUpstreamTimeout,
		Code:    CodeInternalError,
		Reason:  ReasonUpstreamTimeout,
		Message: message,
		Agent:   agent,
		Hint:    "The agent is slow. Raise agents[].timeout or relay.idle_timeout",
		Err:     err,
	}
}

// Unavailable reports that the agent's stream limit is reached.
func Unavailable(agent string) *Error {
	return &Error{
		Kind:    KindUnavailable,
		Code:    CodeInternalError,
		Reason:  ReasonAgentBusy,
		Message: "too many concurrent streams",
		Agent:   agent,
		Hint:    "Max streams per agent reached. Configure agents[].max_streams",
	}
}

// Validation reports a malformed inbound request with its JSON-RPC code.
func Validation(code int, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    code,
		Message: message,
	}
}

// ReasonOf returns the reason code of err, or ReasonProtocolError for errors
// that are not *Error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return ReasonProtocolError
}

// As is a shorthand for errors.As into *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
