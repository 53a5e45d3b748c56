// Package ctxkeys defines context keys for passing data through the request pipeline.
// All context keys are unexported to prevent collisions. Use the With*/From accessor pairs.
package ctxkeys

import (
	"context"
	"net/http"
	"time"
)

// ── Key types (unexported, collision-proof) ──

type auditEntryKey struct{}
type requestMetaKey struct{}
type inboundHeaderKey struct{}
type clientIPKey struct{}

// ── Data types ──

// AuditEntry holds audit log data accumulated while a task is served.
// The protocol server creates it; the executor fills in the routing fields.
type AuditEntry struct {
	TraceID     string
	TaskID      string
	ContextID   string
	Method      string // A2A method (message/stream, tasks/sendSubscribe, ...)
	TargetAgent string
	RouteScore  float64
	RouteReason string // "score", "default", "explicit"
	State       string // terminal task state
	Reason      string // reason code of a failed or canceled task
	StartTime   time.Time
	// Streaming-specific
	StreamEvents   int
	StreamDuration time.Duration
	FirstEvent     time.Duration
}

// Completed reports whether the task ended in the completed state.
func (e *AuditEntry) Completed() bool { return e.State == "completed" }

// RequestMeta holds the parsed JSON-RPC envelope of the inbound request.
type RequestMeta struct {
	Method string
	RPCID  any
}

// ── Getter/Setter (With*/From pattern) ──

// WithAuditEntry stores an AuditEntry pointer in the context.
func WithAuditEntry(ctx context.Context, entry *AuditEntry) context.Context {
	return context.WithValue(ctx, auditEntryKey{}, entry)
}

// AuditEntryFrom retrieves the AuditEntry pointer from the context.
func AuditEntryFrom(ctx context.Context) (*AuditEntry, bool) {
	entry, ok := ctx.Value(auditEntryKey{}).(*AuditEntry)
	return entry, ok
}

// WithRequestMeta stores RequestMeta in the context.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom retrieves RequestMeta from the context.
func RequestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}

// WithInboundHeader stores the caller's request headers so executors can
// pass credentials through to the agent they call.
func WithInboundHeader(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, inboundHeaderKey{}, h)
}

// InboundHeaderFrom retrieves the caller's request headers from the context.
func InboundHeaderFrom(ctx context.Context) (http.Header, bool) {
	h, ok := ctx.Value(inboundHeaderKey{}).(http.Header)
	return h, ok
}

// WithClientIP stores the resolved client IP in the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFrom retrieves the resolved client IP from the context.
func ClientIPFrom(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(clientIPKey{}).(string)
	return ip, ok
}
