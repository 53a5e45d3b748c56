// Package main is the entrypoint for the a2a-orchestrator: the orchestrator
// node, agent nodes and the operator commands around them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/vivars7/a2a-orchestrator/internal/a2aclient"
	"github.com/vivars7/a2a-orchestrator/internal/config"
	"github.com/vivars7/a2a-orchestrator/internal/orchestrator"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
	"github.com/vivars7/a2a-orchestrator/internal/router"
	"github.com/vivars7/a2a-orchestrator/internal/server"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const defaultConfigPath = "orchestrator.yaml"

// node is what the serve and agent commands run. *server.Server satisfies it.
type node interface {
	Start(ctx context.Context) error
	WatchConfig(r *config.Reloader)
	Logger() *slog.Logger
}

// nodeFactory creates a node from config. Tests inject a failing factory.
type nodeFactory func(*config.Config, string) (node, error)

func defaultNodeFactory(cfg *config.Config, version string) (node, error) {
	return server.New(cfg, version)
}

// CLI defines the command-line interface.
type CLI struct {
	Config  string           `short:"c" help:"Path to configuration file." default:"orchestrator.yaml"`
	EnvFile []string         `name:"env-file" help:"Extra .env files, loaded before the config directory's .env." type:"path"`
	Version kong.VersionFlag `help:"Print version and exit."`

	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the orchestrator (default)."`
	Agent    AgentCmd    `cmd:"" help:"Run an agent node around a content command."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`
	Route    RouteCmd    `cmd:"" help:"Explain how a request would be routed."`
	Send     SendCmd     `cmd:"" help:"Submit a task to a running node and print its stream."`
	Init     InitCmd     `cmd:"" help:"Write a configuration profile."`
}

// env is bound into every command's Run.
type env struct {
	cli     *CLI
	out     io.Writer
	newNode nodeFactory
}

// configPath returns the config file to read. A missing default file means
// configuration comes from the environment alone.
func (e *env) configPath() string {
	path := e.cli.Config
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			return ""
		}
	}
	return path
}

func (e *env) load(mode string) (*config.Config, string, error) {
	path := e.configPath()
	if err := config.LoadDotEnv(path, e.cli.EnvFile...); err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadMode(path, mode)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// exitCode carries kong's requested exit status out of a help or version flag.
type exitCode int

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	return runWith(args, os.Stdout, os.Stderr, defaultNodeFactory)
}

func runWith(args []string, stdout, stderr io.Writer, newNode nodeFactory) (code int) {
	defer func() {
		if r := recover(); r != nil {
			c, ok := r.(exitCode)
			if !ok {
				panic(r)
			}
			code = int(c)
		}
	}()

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("orchestrator"),
		kong.Description("A2A orchestrator: routes requests to content agents and relays their task streams."),
		kong.Vars{"version": "a2a-orchestrator " + Version},
		kong.Writers(stdout, stderr),
		kong.Exit(func(c int) { panic(exitCode(c)) }),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := kctx.Run(&env{cli: &cli, out: stdout, newNode: newNode}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// ServeCmd runs the orchestrator.
type ServeCmd struct{}

func (c *ServeCmd) Run(e *env) error {
	return serveNode(e, config.ModeOrchestrator)
}

// AgentCmd runs an agent node.
type AgentCmd struct{}

func (c *AgentCmd) Run(e *env) error {
	return serveNode(e, config.ModeAgent)
}

// serveNode starts a node with graceful shutdown on SIGINT/SIGTERM and, when
// enabled, config reload on SIGHUP and file changes.
func serveNode(e *env, mode string) error {
	cfg, path, err := e.load(mode)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	n, err := e.newNode(cfg, Version)
	if err != nil {
		return fmt.Errorf("initialization error: %w", err)
	}
	logger := n.Logger()
	logger.Info("starting a2a-orchestrator", "version", Version, "mode", cfg.Mode, "config", path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Reload.Enabled && path != "" {
		reloader := config.NewReloader(path, cfg, logger)
		n.WatchConfig(reloader)
		if err := reloader.Start(ctx); err != nil {
			logger.Warn("config reload disabled", "error", err)
		} else {
			defer reloader.Stop()
		}
	}

	return n.Start(ctx)
}

// ValidateCmd loads and validates the configuration file.
type ValidateCmd struct {
	Mode string `help:"Mode to validate for." enum:"orchestrator,agent" default:"orchestrator"`
}

func (c *ValidateCmd) Run(e *env) error {
	cfg, _, err := e.load(c.Mode)
	if err != nil {
		return err
	}
	if cfg.Mode == config.ModeAgent {
		fmt.Fprintf(e.out, "config valid: agent %s\n", cfg.Card.Name)
		return nil
	}
	fmt.Fprintf(e.out, "config valid: %d agents\n", len(cfg.Agents))
	return nil
}

// RouteCmd fetches the configured agents' cards and explains routing for a
// request without serving it.
type RouteCmd struct {
	Text    string        `arg:"" help:"Request text to route."`
	Target  string        `help:"Explicit target agent, as a client would send in metadata."`
	JSON    bool          `help:"Print the decision as JSON."`
	Timeout time.Duration `help:"Card discovery timeout." default:"15s"`
}

func (c *RouteCmd) Run(e *env) error {
	cfg, _, err := e.load(config.ModeOrchestrator)
	if err != nil {
		return err
	}
	cfg.Logging.Output = "stderr"
	if cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}

	srv, err := server.New(cfg, Version)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	dec, routeErr := srv.Explain(ctx, c.Text, c.Target)

	if c.JSON {
		if err := printDecisionJSON(e.out, dec, routeErr); err != nil {
			return err
		}
	} else {
		printDecision(e.out, dec, routeErr)
	}
	return routeErr
}

func printDecision(w io.Writer, dec orchestrator.Decision, routeErr error) {
	if routeErr != nil {
		fmt.Fprintf(w, "no route: %v\n", routeErr)
	} else {
		fmt.Fprintf(w, "route: %s (%s)\n", dec.Agent.Name, dec.Reason)
	}
	for _, s := range dec.Ranking {
		fmt.Fprintf(w, "  %s\n", s)
	}
	for _, err := range dec.Unavailable {
		fmt.Fprintf(w, "  unavailable: %v\n", err)
	}
}

func printDecisionJSON(w io.Writer, dec orchestrator.Decision, routeErr error) error {
	out := struct {
		Agent       string          `json:"agent,omitempty"`
		Reason      string          `json:"reason,omitempty"`
		Ranking     []router.Scored `json:"ranking"`
		Unavailable []string        `json:"unavailable,omitempty"`
		Error       string          `json:"error,omitempty"`
	}{Reason: dec.Reason, Ranking: dec.Ranking}
	if dec.Agent != nil {
		out.Agent = dec.Agent.Name
	}
	for _, err := range dec.Unavailable {
		out.Unavailable = append(out.Unavailable, err.Error())
	}
	if routeErr != nil {
		out.Error = routeErr.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// SendCmd submits a task over message/stream and prints its events.
type SendCmd struct {
	Text    string        `arg:"" help:"Request text."`
	URL     string        `help:"Base URL of the orchestrator or agent node." default:"http://localhost:8000"`
	Agent   string        `help:"Ask the orchestrator for a specific agent."`
	Raw     bool          `help:"Print each event as JSON."`
	Timeout time.Duration `help:"Time to wait for the stream to open." default:"30s"`
}

func (c *SendCmd) Run(e *env) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := a2aclient.New(a2aclient.Config{
		Name:    "node",
		URL:     c.URL,
		Method:  protocol.MethodMessageStream,
		Timeout: c.Timeout,
	}, a2aclient.NewStreamTransport(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req := a2aclient.SubmitRequest{
		Message: &protocol.Message{Role: protocol.RoleUser, Parts: []protocol.Part{protocol.TextPart(c.Text)}},
	}
	if c.Agent != "" {
		req.Metadata = map[string]any{orchestrator.MetaTargetAgent: c.Agent}
	}
	stream, err := client.Submit(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()
	fmt.Fprintf(e.out, "task %s\n", stream.TaskID())

	enc := json.NewEncoder(e.out)
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.Raw {
			enc.Encode(ev)
		} else {
			printEvent(e.out, ev)
		}
		if ev.Final && ev.State() == protocol.TaskStateFailed {
			return fmt.Errorf("task failed (%s)", ev.ReasonCode())
		}
	}
}

func printEvent(w io.Writer, ev protocol.Event) {
	if ev.Artifact != nil {
		for _, p := range ev.Artifact.Parts {
			if p.Text != "" {
				fmt.Fprintln(w, p.Text)
			}
		}
		return
	}
	line := "[" + string(ev.State()) + "]"
	if ev.Status != nil && ev.Status.Message != nil {
		if text := ev.Status.Message.Text(); text != "" {
			line += " " + text
		}
	}
	fmt.Fprintln(w, line)
}

// InitCmd writes a configuration profile.
type InitCmd struct {
	Profile string `help:"Configuration profile." enum:"dev,prod,agent" default:"dev"`
	Output  string `short:"o" help:"File to write." default:"orchestrator.yaml" type:"path"`
	Force   bool   `help:"Overwrite an existing file."`
}

func (c *InitCmd) Run(e *env) error {
	yaml, ok := config.Profile(c.Profile)
	if !ok {
		return fmt.Errorf("unknown profile %q (use %s)", c.Profile, strings.Join(config.Profiles, ", "))
	}
	if !c.Force {
		if _, err := os.Stat(c.Output); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", c.Output)
		}
	}
	if err := os.WriteFile(c.Output, []byte(yaml), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", c.Output, err)
	}
	fmt.Fprintf(e.out, "Generated %s with profile %q\n", c.Output, c.Profile)
	return nil
}
