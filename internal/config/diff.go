package config

import (
	"fmt"
	"reflect"
)

// Change describes a single configuration field that differs between two configs.
type Change struct {
	Field      string      // dot-separated field path (e.g., "security.rate_limit.ip.per_ip")
	OldValue   interface{} // previous value
	NewValue   interface{} // new value
	Reloadable bool        // whether this change can be applied without restart
}

// Diff compares two Config values and returns a list of changes.
// Each change is annotated with whether it is reloadable at runtime.
// The agent registry is fixed at startup, so agent changes need a restart.
func Diff(old, new *Config) []Change {
	var changes []Change

	// ── Non-reloadable: process shape ──
	diffField(&changes, "mode", old.Mode, new.Mode, false)
	diffField(&changes, "listen.host", old.Listen.Host, new.Listen.Host, false)
	diffField(&changes, "listen.port", old.Listen.Port, new.Listen.Port, false)
	diffField(&changes, "listen.grpc_port", old.Listen.GRPCPort, new.Listen.GRPCPort, false)
	diffField(&changes, "listen.max_connections", old.Listen.MaxConnections, new.Listen.MaxConnections, false)
	diffField(&changes, "listen.max_body_bytes", old.Listen.MaxBodyBytes, new.Listen.MaxBodyBytes, false)
	diffField(&changes, "listen.tls.cert_file", old.Listen.TLS.CertFile, new.Listen.TLS.CertFile, false)
	diffField(&changes, "listen.tls.key_file", old.Listen.TLS.KeyFile, new.Listen.TLS.KeyFile, false)
	diffStringSlice(&changes, "listen.trusted_proxies", old.Listen.TrustedProxies, new.Listen.TrustedProxies, false)
	diffField(&changes, "external_url", old.ExternalURL, new.ExternalURL, false)
	diffField(&changes, "card", old.Card, new.Card, false)

	// ── Non-reloadable: agents ──
	diffAgents(&changes, old.Agents, new.Agents)

	// ── Reloadable: discovery cache timing ──
	diffField(&changes, "discovery.ttl", old.Discovery.TTL.Duration, new.Discovery.TTL.Duration, true)
	diffField(&changes, "discovery.grace", old.Discovery.Grace.Duration, new.Discovery.Grace.Duration, true)
	diffField(&changes, "discovery.timeout", old.Discovery.Timeout.Duration, new.Discovery.Timeout.Duration, false)
	diffField(&changes, "discovery.card_path", old.Discovery.CardPath, new.Discovery.CardPath, false)

	// ── Non-reloadable: relay, routing, node ──
	diffField(&changes, "relay", old.Relay, new.Relay, false)
	diffField(&changes, "routing.ignore_explicit_target", old.Routing.IgnoreExplicitTarget, new.Routing.IgnoreExplicitTarget, false)
	diffField(&changes, "node", old.Node, new.Node, false)

	// ── Reloadable: security.rate_limit ──
	diffField(&changes, "security.rate_limit.enabled", old.Security.RateLimit.Enabled, new.Security.RateLimit.Enabled, true)
	diffField(&changes, "security.rate_limit.ip.per_ip", old.Security.RateLimit.IP.PerIP, new.Security.RateLimit.IP.PerIP, true)
	diffField(&changes, "security.rate_limit.ip.burst", old.Security.RateLimit.IP.Burst, new.Security.RateLimit.IP.Burst, true)
	diffField(&changes, "security.rate_limit.ip.cleanup_interval", old.Security.RateLimit.IP.CleanupInterval.Duration, new.Security.RateLimit.IP.CleanupInterval.Duration, false)

	// ── Non-reloadable: security (card signature, forwarded headers) ──
	diffField(&changes, "security.card_signature.require", old.Security.CardSignature.Require, new.Security.CardSignature.Require, false)
	diffStringSlice(&changes, "security.card_signature.trusted_jwks_urls", old.Security.CardSignature.TrustedJWKSURLs, new.Security.CardSignature.TrustedJWKSURLs, false)
	diffStringSlice(&changes, "security.forward_headers", old.Security.ForwardHeaders, new.Security.ForwardHeaders, false)

	// ── Reloadable: logging ──
	diffField(&changes, "logging.level", old.Logging.Level, new.Logging.Level, true)
	diffField(&changes, "logging.format", old.Logging.Format, new.Logging.Format, false)
	diffField(&changes, "logging.output", old.Logging.Output, new.Logging.Output, false)
	diffField(&changes, "logging.audit.sampling_rate", old.Logging.Audit.SamplingRate, new.Logging.Audit.SamplingRate, true)
	diffField(&changes, "logging.audit.error_sampling_rate", old.Logging.Audit.ErrorSamplingRate, new.Logging.Audit.ErrorSamplingRate, true)

	// ── Non-reloadable: health, shutdown ──
	diffField(&changes, "health.readiness_mode", old.Health.ReadinessMode, new.Health.ReadinessMode, false)
	diffField(&changes, "shutdown.timeout", old.Shutdown.Timeout.Duration, new.Shutdown.Timeout.Duration, false)
	diffField(&changes, "shutdown.drain_timeout", old.Shutdown.DrainTimeout.Duration, new.Shutdown.DrainTimeout.Duration, false)

	return changes
}

// diffField appends a Change if old != new using reflect.DeepEqual for comparison.
func diffField(changes *[]Change, field string, oldVal, newVal interface{}, reloadable bool) {
	if !reflect.DeepEqual(oldVal, newVal) {
		*changes = append(*changes, Change{
			Field:      field,
			OldValue:   oldVal,
			NewValue:   newVal,
			Reloadable: reloadable,
		})
	}
}

// diffStringSlice compares two string slices and appends a Change if they differ.
func diffStringSlice(changes *[]Change, field string, oldVal, newVal []string, reloadable bool) {
	if len(oldVal) == 0 && len(newVal) == 0 {
		return
	}
	diffField(changes, field, oldVal, newVal, reloadable)
}

// diffAgents compares agent lists in order. Order matters: it is the
// routing tie-break.
func diffAgents(changes *[]Change, oldAgents, newAgents []AgentConfig) {
	n := len(oldAgents)
	if len(newAgents) > n {
		n = len(newAgents)
	}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(oldAgents):
			*changes = append(*changes, Change{
				Field:    fmt.Sprintf("agents[%s]", newAgents[i].Name),
				NewValue: newAgents[i].URL,
			})
		case i >= len(newAgents):
			*changes = append(*changes, Change{
				Field:    fmt.Sprintf("agents[%s]", oldAgents[i].Name),
				OldValue: oldAgents[i].URL,
			})
		default:
			o, nw := oldAgents[i], newAgents[i]
			diffField(changes, fmt.Sprintf("agents[%d].name", i), o.Name, nw.Name, false)
			diffField(changes, fmt.Sprintf("agents[%s].url", o.Name), o.URL, nw.URL, false)
			diffField(changes, fmt.Sprintf("agents[%s].default", o.Name), o.Default, nw.Default, false)
			diffField(changes, fmt.Sprintf("agents[%s].method", o.Name), o.Method, nw.Method, false)
			diffField(changes, fmt.Sprintf("agents[%s].timeout", o.Name), o.Timeout.Duration, nw.Timeout.Duration, false)
			diffField(changes, fmt.Sprintf("agents[%s].max_streams", o.Name), o.MaxStreams, nw.MaxStreams, false)
		}
	}
}
