// Package server assembles a node: the orchestrator (registry, router and
// relay behind the A2A endpoint) or an agent node (the command executor behind
// the same endpoint), plus health, metrics, gRPC health and config reload.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vivars7/a2a-orchestrator/internal/a2aclient"
	"github.com/vivars7/a2a-orchestrator/internal/a2aserver"
	"github.com/vivars7/a2a-orchestrator/internal/agentcard"
	"github.com/vivars7/a2a-orchestrator/internal/audit"
	"github.com/vivars7/a2a-orchestrator/internal/config"
	"github.com/vivars7/a2a-orchestrator/internal/discovery"
	orchgrpc "github.com/vivars7/a2a-orchestrator/internal/grpc"
	"github.com/vivars7/a2a-orchestrator/internal/health"
	"github.com/vivars7/a2a-orchestrator/internal/orchestrator"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
	"github.com/vivars7/a2a-orchestrator/internal/registry"
	"github.com/vivars7/a2a-orchestrator/internal/relay"
	"github.com/vivars7/a2a-orchestrator/internal/security"
	"github.com/vivars7/a2a-orchestrator/internal/skillexec"
	"github.com/vivars7/a2a-orchestrator/internal/task"
)

// Server is one orchestrator or agent node.
type Server struct {
	cfg      *config.Config
	version  string
	logger   *slog.Logger
	level    *slog.LevelVar
	listener net.Listener // if non-nil, Start uses this instead of creating one

	metrics     *audit.Metrics
	auditLogger *audit.Logger
	store       *task.Store
	streams     *relay.StreamManager
	resolver    *security.ClientIPResolver
	limiter     *security.IPRateLimiter
	health      *health.Handler
	a2a         *a2aserver.Handler
	grpcServer  *orchgrpc.Server

	// orchestrator mode only
	verifier  *discovery.JWSVerifier
	discovery *discovery.Client
	registry  *registry.Registry
	executor  *orchestrator.Executor

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a node from configuration. cfg.Mode selects the executor.
func New(cfg *config.Config, version string) (*Server, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Logging.Level))
	logger := buildLogger(cfg, level)

	metrics := audit.NewMetrics()
	metrics.SetBuildInfo(version, runtime.Version())

	s := &Server{
		cfg:         cfg,
		version:     version,
		logger:      logger,
		level:       level,
		metrics:     metrics,
		auditLogger: audit.NewLogger(logger, samplingFrom(cfg)),
		store:       task.NewStore(cfg.Relay.TaskRetention.Duration),
		streams:     relay.NewStreamManager(),
		resolver:    security.NewClientIPResolver(cfg.Listen.TrustedProxies),
	}
	s.limiter = security.NewIPRateLimiter(cfg.Security.RateLimit, s.resolver, logger)
	s.limiter.OnLimited(func(string) { metrics.RecordRateLimitHit("ip") })

	baseCard, err := agentcard.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("building agent card: %w", err)
	}

	var (
		exec    a2aserver.Executor
		cardFn  a2aserver.CardFunc
		checker health.AgentHealthChecker
		defName string
	)
	switch cfg.Mode {
	case config.ModeAgent:
		node, err := skillexec.New(skillexec.ConfigFrom(cfg), logger)
		if err != nil {
			return nil, err
		}
		exec = node
		cardFn = func() *protocol.AgentCard { return baseCard }
		checker = health.StaticChecker{baseCard.Name}
		defName = baseCard.Name
		logger.Info("agent node configured", "card", baseCard.Name, "command", cfg.Node.Command[0])

	default:
		s.verifier = discovery.NewJWSVerifier(discovery.JWSConfigFrom(cfg))
		s.discovery = discovery.New(discovery.ConfigFrom(cfg), s.verifier, logger)
		s.discovery.SetHTTPClient(&http.Client{Transport: a2aclient.NewHTTPTransport()})
		s.discovery.SetObserver(metrics)

		reg, err := registry.New(cfg, s.discovery, a2aclient.NewStreamTransport(), logger)
		if err != nil {
			return nil, err
		}
		s.registry = reg
		s.executor = orchestrator.New(reg, relay.New(relay.ConfigFrom(cfg), logger), s.streams,
			orchestrator.OptionsFrom(cfg), metrics, logger)
		exec = s.executor
		cardFn = func() *protocol.AgentCard { return reg.AggregateCard(*baseCard) }
		checker = reg
		if d := cfg.DefaultAgent(); d != nil {
			defName = d.Name
		}
		logger.Info("orchestrator configured", "agents", len(cfg.Agents), "default", defName)
	}

	s.health = health.NewHandler(checker, version, health.Config{
		LivenessPath:  cfg.Health.LivenessPath,
		ReadinessPath: cfg.Health.ReadinessPath,
		ReadinessMode: cfg.Health.ReadinessMode,
		DefaultAgent:  defName,
	})

	s.a2a = a2aserver.New(a2aserver.Config{
		MaxBodyBytes: cfg.Listen.MaxBodyBytes,
		CancelWait:   cfg.Relay.CancelTimeout.Duration,
	}, s.store, exec, cardFn, logger,
		a2aserver.WithAudit(s.auditLogger),
		a2aserver.WithMetrics(metrics),
		a2aserver.WithTaskMiddleware(s.limiter.Process),
	)

	if cfg.Listen.GRPCPort > 0 {
		s.grpcServer = orchgrpc.NewServer(s.ready, 0, logger)
		logger.Info("gRPC health configured", "port", cfg.Listen.GRPCPort)
	}
	return s, nil
}

// Logger returns the node's logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Explain fetches every agent card once and reports how text would be routed,
// without serving anything. Only orchestrator nodes route.
func (s *Server) Explain(ctx context.Context, text, target string) (orchestrator.Decision, error) {
	if s.executor == nil {
		return orchestrator.Decision{}, fmt.Errorf("routing is only available in %s mode", config.ModeOrchestrator)
	}
	if err := s.verifier.StartCache(ctx); err != nil {
		return orchestrator.Decision{}, fmt.Errorf("starting JWKS cache: %w", err)
	}
	s.registry.Start(ctx)
	defer s.registry.Stop()
	return s.executor.Route(ctx, text, target)
}

// Handler builds the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.resolver.Middleware)

	r.Handle(s.health.LivenessPath(), s.health)
	r.Handle(s.health.ReadinessPath(), s.health)
	r.Get("/metrics", s.metrics.Handler())
	if s.registry != nil {
		r.Get("/agents", s.handleAgents)
	}
	r.Mount("/", s.a2a)
	return r
}

// handleAgents reports each registered agent's discovery and health state.
func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Agents []registry.AgentStatus `json:"agents"`
	}{s.registry.Statuses()})
}

// Reloadables returns the components that follow config reloads.
func (s *Server) Reloadables() []config.Reloadable {
	subs := []config.Reloadable{
		config.ReloadFunc(s.reloadLogging),
		s.limiter,
	}
	if s.discovery != nil {
		subs = append(subs, s.discovery)
	}
	return subs
}

// WatchConfig attaches the node to r: reload subscribers and reload metrics.
func (s *Server) WatchConfig(r *config.Reloader) {
	for _, sub := range s.Reloadables() {
		r.Register(sub)
	}
	r.OnResult = func(result string) {
		s.metrics.RecordConfigReload(result != "invalid")
		if result == "success" {
			s.metrics.SetConfigReloadTime(time.Now())
		}
	}
}

func (s *Server) reloadLogging(cfg *config.Config) error {
	s.level.Set(parseLevel(cfg.Logging.Level))
	s.auditLogger.SetSampling(samplingFrom(cfg))
	return nil
}

func (s *Server) ready() bool {
	_, ok := s.health.Readiness()
	return ok
}

// Start begins listening and serving. It blocks until the context is canceled
// or an unrecoverable error occurs, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.registry != nil {
		if err := s.verifier.StartCache(ctx); err != nil {
			return fmt.Errorf("starting JWKS cache: %w", err)
		}
		s.registry.Start(ctx)
		if d := s.registry.Default(); d != nil {
			s.health.SetDefaultAgent(d.Name)
		}
	}

	listenAddr := net.JoinHostPort(s.cfg.Listen.Host, fmt.Sprint(s.cfg.Listen.Port))
	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", listenAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", listenAddr, err)
		}
		if s.cfg.Listen.MaxConnections > 0 {
			ln = newLimitedListener(ln, s.cfg.Listen.MaxConnections)
		}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String(), "mode", s.cfg.Mode)
		tls := s.cfg.Listen.TLS
		if tls.CertFile != "" {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	if s.grpcServer != nil {
		grpcAddr := net.JoinHostPort(s.cfg.Listen.Host, fmt.Sprint(s.cfg.Listen.GRPCPort))
		grpcLn, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			srv.Close()
			return fmt.Errorf("listening gRPC on %s: %w", grpcAddr, err)
		}
		go func() {
			errCh <- s.grpcServer.Serve(grpcLn)
		}()
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.stopComponents()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown.Timeout.Duration)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// Shutdown fails readiness, drains open task streams, stops the listeners
// and releases background work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetDraining()

	drainCtx, drainCancel := context.WithTimeout(ctx, s.cfg.Shutdown.DrainTimeout.Duration)
	defer drainCancel()
	if err := s.streams.DrainAll(drainCtx); err != nil {
		s.logger.Warn("drain timeout, some streams may be interrupted", "error", err, "open", s.streams.Total())
	}

	s.mu.Lock()
	hs := s.httpServer
	s.mu.Unlock()

	var shutdownErr error
	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("http server shutdown: %w", err)
		}
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	s.stopComponents()
	return shutdownErr
}

// Close releases background work for a node that was never started.
func (s *Server) Close() { s.stopComponents() }

func (s *Server) stopComponents() {
	if s.registry != nil {
		s.registry.Stop()
		s.discovery.Close()
	}
	s.limiter.Stop()
	s.store.Close()
}

func samplingFrom(cfg *config.Config) audit.SamplingConfig {
	return audit.SamplingConfig{
		Rate:      cfg.Logging.Audit.SamplingRate,
		ErrorRate: cfg.Logging.Audit.ErrorSamplingRate,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildLogger creates an slog.Logger based on configuration. level stays
// adjustable after construction.
func buildLogger(cfg *config.Config, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var output *os.File
	switch cfg.Logging.Output {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}

// ── LimitedListener ──

// limitedListener wraps a net.Listener to limit maximum concurrent connections.
type limitedListener struct {
	net.Listener
	sem chan struct{}
}

// newLimitedListener creates a listener that limits concurrent connections.
func newLimitedListener(l net.Listener, maxConns int) net.Listener {
	return &limitedListener{
		Listener: l,
		sem:      make(chan struct{}, maxConns),
	}
}

// Accept waits for and returns the next connection, blocking if at limit.
func (l *limitedListener) Accept() (net.Conn, error) {
	l.sem <- struct{}{}
	c, err := l.Listener.Accept()
	if err != nil {
		<-l.sem
		return nil, err
	}
	return &limitedConn{Conn: c, sem: l.sem}, nil
}

// limitedConn wraps a net.Conn to release the semaphore slot on close.
type limitedConn struct {
	net.Conn
	sem    chan struct{}
	closed sync.Once
}

// Close releases the connection and frees the semaphore slot.
func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.closed.Do(func() { <-c.sem })
	return err
}
