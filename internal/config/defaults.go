package config

import (
	"net/url"
	"time"
)

// ApplyDefaults fills zero-valued fields with defaults.
// It is called after YAML parsing and the environment overlay, before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeOrchestrator
	}

	// ── Listen ──
	if cfg.Listen.Host == "" {
		cfg.Listen.Host = "0.0.0.0"
	}
	if cfg.Listen.Port == 0 {
		if cfg.Mode == ModeAgent {
			cfg.Listen.Port = 8001
		} else {
			cfg.Listen.Port = 8000
		}
	}
	if cfg.Listen.MaxConnections == 0 {
		cfg.Listen.MaxConnections = 1000
	}
	if cfg.Listen.MaxBodyBytes == 0 {
		cfg.Listen.MaxBodyBytes = 1048576 // 1MB
	}
	if cfg.Listen.TrustedProxies == nil {
		cfg.Listen.TrustedProxies = []string{}
	}

	// ── Card ──
	applyCardDefaults(cfg)

	// ── Health ──
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = "/healthz"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/readyz"
	}
	if cfg.Health.ReadinessMode == "" {
		cfg.Health.ReadinessMode = "any_healthy"
	}

	// ── Discovery ──
	if cfg.Discovery.CardPath == "" {
		cfg.Discovery.CardPath = "/.well-known/agent-card.json"
	}
	if cfg.Discovery.Timeout.Duration == 0 {
		cfg.Discovery.Timeout.Duration = 10 * time.Second
	}
	if cfg.Discovery.TTL.Duration == 0 {
		cfg.Discovery.TTL.Duration = 5 * time.Minute
	}
	if cfg.Discovery.Grace.Duration == 0 {
		cfg.Discovery.Grace.Duration = time.Minute
	}
	if cfg.Discovery.MaxCardBytes == 0 {
		cfg.Discovery.MaxCardBytes = 1 << 20
	}

	// ── Relay ──
	if cfg.Relay.StreamTimeout.Duration == 0 {
		cfg.Relay.StreamTimeout.Duration = 10 * time.Minute
	}
	if cfg.Relay.IdleTimeout.Duration == 0 {
		cfg.Relay.IdleTimeout.Duration = 2 * time.Minute
	}
	if cfg.Relay.CancelTimeout.Duration == 0 {
		cfg.Relay.CancelTimeout.Duration = 5 * time.Second
	}
	if cfg.Relay.TaskRetention.Duration == 0 {
		cfg.Relay.TaskRetention.Duration = time.Minute
	}
	if cfg.Relay.MaxFrameBytes == 0 {
		cfg.Relay.MaxFrameBytes = 1 << 20
	}

	// ── Security ──
	if cfg.Security.CardSignature.CacheTTL.Duration == 0 {
		cfg.Security.CardSignature.CacheTTL.Duration = time.Hour
	}
	applyRateLimitDefaults(&cfg.Security.RateLimit)
	if cfg.Security.ForwardHeaders == nil {
		cfg.Security.ForwardHeaders = []string{"Authorization"}
	}

	// ── Node ──
	if cfg.Node.Heartbeat.Duration == 0 {
		cfg.Node.Heartbeat.Duration = 5 * time.Second
	}
	if cfg.Node.Timeout.Duration == 0 {
		cfg.Node.Timeout.Duration = 10 * time.Minute
	}
	if cfg.Node.MaxOutput == 0 {
		cfg.Node.MaxOutput = 4 << 20
	}

	// ── Logging ──
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	applyAuditDefaults(&cfg.Logging.Audit)

	// ── Shutdown ──
	if cfg.Shutdown.Timeout.Duration == 0 {
		cfg.Shutdown.Timeout.Duration = 30 * time.Second
	}
	if cfg.Shutdown.DrainTimeout.Duration == 0 {
		cfg.Shutdown.DrainTimeout.Duration = 15 * time.Second
	}

	// ── Reload ──
	if cfg.Reload.Debounce.Duration == 0 {
		cfg.Reload.Debounce.Duration = 2 * time.Second
	}

	// ── Per-Agent defaults ──
	for i := range cfg.Agents {
		applyAgentDefaults(&cfg.Agents[i])
	}
}

func applyCardDefaults(cfg *Config) {
	c := &cfg.Card
	if c.Name == "" && c.File == "" && cfg.Mode == ModeOrchestrator {
		c.Name = "a2a-orchestrator"
	}
	if c.Description == "" && cfg.Mode == ModeOrchestrator {
		c.Description = "Routes tasks to the best matching A2A agent and relays its stream"
	}
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = "0.2.0"
	}
	if c.PrimaryKeywords == nil {
		c.PrimaryKeywords = []string{}
	}
}

func applyRateLimitDefaults(rl *RateLimitConfig) {
	// enabled defaults to false; profiles turn it on.
	if rl.IP.PerIP == 0 {
		rl.IP.PerIP = 200
	}
	if rl.IP.Burst == 0 {
		rl.IP.Burst = 50
	}
	if rl.IP.CleanupInterval.Duration == 0 {
		rl.IP.CleanupInterval.Duration = 5 * time.Minute
	}
}

func applyAuditDefaults(a *AuditConfig) {
	if a.SamplingRate == 0 {
		a.SamplingRate = 1.0
	}
	if a.ErrorSamplingRate == 0 {
		a.ErrorSamplingRate = 1.0
	}
}

func applyAgentDefaults(a *AgentConfig) {
	if a.Name == "" {
		a.Name = nameFromURL(a.URL)
		a.AutoName = true
	}
	if a.Method == "" {
		a.Method = "message/stream"
	}
	if a.Timeout.Duration == 0 {
		a.Timeout.Duration = 30 * time.Second
	}
	if a.MaxStreams == 0 {
		a.MaxStreams = 10
	}
}

// nameFromURL derives a provisional agent name from its host. The registry
// replaces it with the card name when the agent was configured without one.
func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
