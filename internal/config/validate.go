package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Validate checks the configuration for errors. It collects ALL errors
// rather than stopping at the first one, returning them as a joined message.
func Validate(cfg *Config) error {
	var errs []string

	if !isValidMode(cfg.Mode) {
		errs = append(errs, fmt.Sprintf("mode must be one of: orchestrator, agent (got %q)", cfg.Mode))
	}

	// ── Agents ──
	if cfg.Mode == ModeOrchestrator && len(cfg.Agents) == 0 {
		errs = append(errs, "agents list must not be empty (configure agents or set A2A_AGENT_HOST)")
	}

	defaultCount := 0
	names := make(map[string]int, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.URL == "" {
			errs = append(errs, fmt.Sprintf("agents[%d]: url is required", i))
		} else if u, err := url.Parse(a.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Sprintf("agents[%d]: url must be an absolute http(s) URL (got %q)", i, a.URL))
		}
		if a.Name == "" {
			errs = append(errs, fmt.Sprintf("agents[%d]: name is required", i))
		} else if prev, dup := names[a.Name]; dup {
			errs = append(errs, fmt.Sprintf("agents[%d]: name %q duplicates agents[%d]", i, a.Name, prev))
		} else {
			names[a.Name] = i
		}
		if a.Default {
			defaultCount++
		}
		if a.Timeout.Duration < 0 {
			errs = append(errs, fmt.Sprintf("agents[%d]: timeout must be positive", i))
		}
		if a.MaxStreams < 1 {
			errs = append(errs, fmt.Sprintf("agents[%d]: max_streams must be positive (got %d)", i, a.MaxStreams))
		}
		if !isValidSendMethod(a.Method) {
			errs = append(errs, fmt.Sprintf("agents[%d]: method must be one of: message/stream, tasks/sendSubscribe (got %q)", i, a.Method))
		}
	}
	if defaultCount > 1 {
		errs = append(errs, fmt.Sprintf("at most one agent can be default (found %d)", defaultCount))
	}

	// ── Ports ──
	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listen.port must be 1-65535 (got %d)", cfg.Listen.Port))
	}
	if cfg.Listen.GRPCPort != 0 && (cfg.Listen.GRPCPort < 1 || cfg.Listen.GRPCPort > 65535) {
		errs = append(errs, fmt.Sprintf("listen.grpc_port must be 0 (disabled) or 1-65535 (got %d)", cfg.Listen.GRPCPort))
	}
	if cfg.Listen.GRPCPort != 0 && cfg.Listen.GRPCPort == cfg.Listen.Port {
		errs = append(errs, fmt.Sprintf("listen.grpc_port must differ from listen.port (both %d)", cfg.Listen.GRPCPort))
	}

	// ── Connection limits ──
	if cfg.Listen.MaxConnections < 1 {
		errs = append(errs, fmt.Sprintf("listen.max_connections must be positive (got %d)", cfg.Listen.MaxConnections))
	}
	if cfg.Listen.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Sprintf("listen.max_body_bytes must be positive (got %d)", cfg.Listen.MaxBodyBytes))
	}

	// ── Discovery & relay timing ──
	if !strings.HasPrefix(cfg.Discovery.CardPath, "/") {
		errs = append(errs, fmt.Sprintf("discovery.card_path must start with / (got %q)", cfg.Discovery.CardPath))
	}
	for _, d := range []struct {
		field string
		value Duration
	}{
		{"discovery.timeout", cfg.Discovery.Timeout},
		{"discovery.ttl", cfg.Discovery.TTL},
		{"discovery.grace", cfg.Discovery.Grace},
		{"relay.stream_timeout", cfg.Relay.StreamTimeout},
		{"relay.idle_timeout", cfg.Relay.IdleTimeout},
		{"relay.cancel_timeout", cfg.Relay.CancelTimeout},
		{"relay.task_retention", cfg.Relay.TaskRetention},
	} {
		if d.value.Duration < 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive (got %s)", d.field, d.value.Duration))
		}
	}

	// ── Readiness mode ──
	if !isValidReadinessMode(cfg.Health.ReadinessMode) {
		errs = append(errs, fmt.Sprintf("health.readiness_mode must be one of: any_healthy, default_healthy, all_healthy (got %q)", cfg.Health.ReadinessMode))
	}

	// ── Agent node ──
	if cfg.Mode == ModeAgent {
		if len(cfg.Node.Command) == 0 {
			errs = append(errs, "node.command is required in agent mode")
		}
		if cfg.Card.File == "" && cfg.Card.Name == "" {
			errs = append(errs, "card.name or card.file is required in agent mode")
		}
		if cfg.Card.File != "" {
			if _, err := os.Stat(cfg.Card.File); err != nil {
				errs = append(errs, fmt.Sprintf("card.file: %v", err))
			}
		}
	}

	// ── TLS files ──
	if cfg.Listen.TLS.CertFile != "" {
		if _, err := os.Stat(cfg.Listen.TLS.CertFile); err != nil {
			errs = append(errs, fmt.Sprintf("listen.tls.cert_file: %v", err))
		}
	}
	if cfg.Listen.TLS.KeyFile != "" {
		if _, err := os.Stat(cfg.Listen.TLS.KeyFile); err != nil {
			errs = append(errs, fmt.Sprintf("listen.tls.key_file: %v", err))
		}
	}

	// ── Card signature ──
	if cfg.Security.CardSignature.Require && len(cfg.Security.CardSignature.TrustedJWKSURLs) == 0 {
		errs = append(errs, "security.card_signature.require needs at least one trusted_jwks_urls entry")
	}

	// ── Logging ──
	if !isValidLogLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Sprintf("logging.level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level))
	}
	if !isValidLogFormat(cfg.Logging.Format) {
		errs = append(errs, fmt.Sprintf("logging.format must be one of: json, text (got %q)", cfg.Logging.Format))
	}

	// ── Sampling rates ──
	if cfg.Logging.Audit.SamplingRate < 0 || cfg.Logging.Audit.SamplingRate > 1.0 {
		errs = append(errs, fmt.Sprintf("logging.audit.sampling_rate must be between 0.0 and 1.0 (got %f)", cfg.Logging.Audit.SamplingRate))
	}
	if cfg.Logging.Audit.ErrorSamplingRate < 0 || cfg.Logging.Audit.ErrorSamplingRate > 1.0 {
		errs = append(errs, fmt.Sprintf("logging.audit.error_sampling_rate must be between 0.0 and 1.0 (got %f)", cfg.Logging.Audit.ErrorSamplingRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidMode(m string) bool {
	switch m {
	case ModeOrchestrator, ModeAgent:
		return true
	}
	return false
}

func isValidSendMethod(m string) bool {
	switch m {
	case "message/stream", "tasks/sendSubscribe":
		return true
	}
	return false
}

func isValidReadinessMode(m string) bool {
	switch m {
	case "any_healthy", "default_healthy", "all_healthy":
		return true
	}
	return false
}

func isValidLogLevel(l string) bool {
	switch l {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidLogFormat(f string) bool {
	switch f {
	case "json", "text":
		return true
	}
	return false
}
