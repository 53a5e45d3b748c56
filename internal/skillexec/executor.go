// Package skillexec is the Executor of an agent node. It runs the configured
// command once per task, feeding the task text on stdin, and turns the
// command's lifetime into A2A events: periodic working heartbeats, one
// artifact with stdout, and a completed or failed final status.
package skillexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/vivars7/a2a-orchestrator/internal/a2aserver"
	"github.com/vivars7/a2a-orchestrator/internal/config"
	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

// Environment passed to the command.
const (
	EnvTaskID       = "A2A_TASK_ID"
	EnvContextID    = "A2A_CONTEXT_ID"
	EnvInstructions = "A2A_SKILL_INSTRUCTIONS"
)

const (
	stderrTail  = 2048
	waitDelay   = 2 * time.Second
	emptyResult = "Task completed successfully."
)

// Config describes the command an agent node runs.
type Config struct {
	Command      []string
	WorkDir      string
	Instructions string
	Heartbeat    time.Duration
	Timeout      time.Duration
	MaxOutput    int
}

// ConfigFrom extracts the node settings from the root config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Command:      cfg.Node.Command,
		WorkDir:      cfg.Node.WorkDir,
		Instructions: cfg.Node.Instructions,
		Heartbeat:    cfg.Node.Heartbeat.Duration,
		Timeout:      cfg.Node.Timeout.Duration,
		MaxOutput:    cfg.Node.MaxOutput,
	}
}

// Executor runs the node command for each task. It implements a2aserver.Executor.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a command executor.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("node.command is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, logger: logger}, nil
}

// Execute runs the command for req and emits its events.
func (e *Executor) Execute(ctx context.Context, req *a2aserver.Request, emit a2aserver.Emitter) error {
	t := req.Task
	logger := e.logger.With("task_id", t.ID, "context_id", t.ContextID)

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	stdout := &limitedBuffer{max: e.cfg.MaxOutput}
	stderr := &limitedBuffer{max: stderrTail, keepTail: true}

	cmd := exec.CommandContext(runCtx, e.cfg.Command[0], e.cfg.Command[1:]...) //nolint:gosec // command from trusted config
	cmd.Dir = e.cfg.WorkDir
	cmd.Env = append(os.Environ(),
		EnvTaskID+"="+t.ID,
		EnvContextID+"="+t.ContextID,
		EnvInstructions+"="+e.cfg.Instructions,
	)
	cmd.Stdin = strings.NewReader(req.Message.Text())
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Error("starting command failed", "command", e.cfg.Command[0], "error", err)
		return e.fail(emit, t.ID, t.ContextID, fmt.Sprintf("starting command: %v", err), err)
	}
	logger.Info("command started", "command", e.cfg.Command[0], "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var heartbeat <-chan time.Time
	if e.cfg.Heartbeat > 0 {
		ticker := time.NewTicker(e.cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-heartbeat:
			text := fmt.Sprintf("Still processing... (%ds elapsed, %d bytes received)",
				int(time.Since(start).Seconds()), stdout.Received())
			if err := emit.Emit(protocol.StatusEvent(t.ID, t.ContextID, protocol.TaskStateWorking, text, false)); err != nil {
				logger.Debug("heartbeat not delivered", "error", err)
			}
		}
	}
	elapsed := time.Since(start)

	// Caller gone or task canceled: the handler writes the canceled terminal.
	if ctx.Err() != nil {
		logger.Info("command stopped", "reason", ctx.Err(), "elapsed", elapsed)
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("command timed out", "timeout", e.cfg.Timeout)
		return e.fail(emit, t.ID, t.ContextID, fmt.Sprintf("command timed out after %s", e.cfg.Timeout), runCtx.Err())
	}
	if waitErr != nil {
		text := fmt.Sprintf("command failed: %v", waitErr)
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			text += ": " + tail
		}
		logger.Warn("command failed", "error", waitErr, "elapsed", elapsed)
		return e.fail(emit, t.ID, t.ContextID, text, waitErr)
	}

	result := stdout.String()
	if strings.TrimSpace(result) == "" {
		result = emptyResult
	}
	artifact := protocol.Artifact{
		ArtifactID: protocol.NewID(),
		Name:       "result",
		Parts:      []protocol.Part{protocol.TextPart(result)},
	}
	if stdout.Truncated() {
		artifact.Metadata = map[string]any{"truncated": true}
		logger.Warn("command output truncated", "max_output", e.cfg.MaxOutput, "received", stdout.Received())
	}
	if err := emit.Emit(protocol.ArtifactEvent(t.ID, t.ContextID, artifact)); err != nil {
		return err
	}
	logger.Info("command completed", "elapsed", elapsed, "bytes", stdout.Received())
	return emit.Emit(protocol.StatusEvent(t.ID, t.ContextID, protocol.TaskStateCompleted, "", true))
}

func (e *Executor) fail(emit a2aserver.Emitter, taskID, contextID, text string, err error) error {
	emit.Emit(protocol.FailedEvent(taskID, contextID, orcherrors.ReasonExecutorFailed, text))
	return err
}

// limitedBuffer keeps at most max bytes, either the head or the tail of what
// is written, and counts everything. max <= 0 keeps all.
type limitedBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	max      int
	keepTail bool
	received int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received += int64(len(p))
	switch {
	case b.max <= 0:
		b.buf.Write(p)
	case b.keepTail:
		b.buf.Write(p)
		if over := b.buf.Len() - b.max; over > 0 {
			b.buf.Next(over)
		}
	default:
		if room := b.max - b.buf.Len(); room > 0 {
			b.buf.Write(p[:min(room, len(p))])
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Received returns the number of bytes written so far, kept or not.
func (b *limitedBuffer) Received() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received
}

// Truncated reports whether bytes were dropped.
func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received > int64(b.buf.Len())
}
