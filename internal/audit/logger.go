package audit

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/vivars7/a2a-orchestrator/internal/ctxkeys"
)

// Logger provides OpenTelemetry-compatible structured audit logging,
// one record per finished task.
type Logger struct {
	slogger  *slog.Logger
	sampling atomic.Pointer[SamplingConfig]
}

// NewLogger creates an audit logger with the given sampling configuration.
func NewLogger(slogger *slog.Logger, sampling SamplingConfig) *Logger {
	l := &Logger{slogger: slogger}
	l.sampling.Store(&sampling)
	return l
}

// SetSampling replaces the sampling rates. Safe for concurrent use.
func (l *Logger) SetSampling(sampling SamplingConfig) {
	l.sampling.Store(&sampling)
}

// LogTask logs the audit entry from ctx.
// Uses OTel semantic convention field names.
func (l *Logger) LogTask(ctx context.Context) {
	entry, ok := ctxkeys.AuditEntryFrom(ctx)
	if !ok {
		return
	}

	completed := entry.Completed()
	if !l.sampling.Load().Sample(completed) {
		return
	}

	clientIP, _ := ctxkeys.ClientIPFrom(ctx)
	attrs := []slog.Attr{
		slog.String("trace_id", entry.TraceID),
		slog.Group("attributes",
			slog.String("a2a.method", entry.Method),
			slog.String("client.address", clientIP),
			slog.String("a2a.task_id", entry.TaskID),
			slog.String("a2a.context_id", entry.ContextID),
			slog.String("a2a.target_agent", entry.TargetAgent),
			slog.Float64("a2a.route.score", entry.RouteScore),
			slog.String("a2a.route.reason", entry.RouteReason),
			slog.String("a2a.state", entry.State),
			slog.String("a2a.reason_code", entry.Reason),
			slog.Time("a2a.start_time", entry.StartTime),
		),
	}

	if entry.StreamEvents > 0 {
		attrs = append(attrs, slog.Group("stream",
			slog.Int("events", entry.StreamEvents),
			slog.Int64("duration_ms", entry.StreamDuration.Milliseconds()),
			slog.Int64("first_event_ms", entry.FirstEvent.Milliseconds()),
		))
	}

	level := slog.LevelInfo
	if !completed {
		level = slog.LevelWarn
	}
	l.slogger.LogAttrs(ctx, level, "audit", attrs...)
}
