// Package config handles YAML configuration parsing, environment overlays,
// defaults, and validation for the a2a-orchestrator and its agent nodes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Process modes.
const (
	ModeOrchestrator = "orchestrator"
	ModeAgent        = "agent"
)

// Config is the root configuration for a2a-orchestrator.
type Config struct {
	Mode        string          `yaml:"mode"`
	Listen      ListenConfig    `yaml:"listen"`
	ExternalURL string          `yaml:"external_url"`
	Card        CardConfig      `yaml:"card"`
	Health      HealthConfig    `yaml:"health"`
	Agents      []AgentConfig   `yaml:"agents"`
	Discovery   DiscoveryConfig `yaml:"discovery"`
	Routing     RoutingConfig   `yaml:"routing"`
	Relay       RelayConfig     `yaml:"relay"`
	Security    SecurityConfig  `yaml:"security"`
	Node        NodeConfig      `yaml:"node"`
	Logging     LoggingConfig   `yaml:"logging"`
	Shutdown    ShutdownConfig  `yaml:"shutdown"`
	Reload      ReloadConfig    `yaml:"reload"`
}

// ListenConfig defines the listener address and connection limits.
type ListenConfig struct {
	Host           string    `yaml:"host"`
	Port           int       `yaml:"port"`
	GRPCPort       int       `yaml:"grpc_port"`
	MaxConnections int       `yaml:"max_connections"`
	MaxBodyBytes   int       `yaml:"max_body_bytes"`
	TrustedProxies []string  `yaml:"trusted_proxies"`
	TLS            TLSConfig `yaml:"tls"`
}

// TLSConfig holds optional TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// CardConfig describes the Agent Card this process serves.
// In agent mode File, when set, replaces every other field.
type CardConfig struct {
	Name            string            `yaml:"name"`
	Description     string            `yaml:"description"`
	Version         string            `yaml:"version"`
	ProtocolVersion string            `yaml:"protocol_version"`
	Organization    string            `yaml:"organization"`
	PrimaryKeywords []string          `yaml:"primary_keywords"`
	Skills          []CardSkillConfig `yaml:"skills"`
	File            string            `yaml:"file"`
}

// CardSkillConfig is one skill entry of the served card.
type CardSkillConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Examples    []string `yaml:"examples"`
}

// HealthConfig defines health check endpoint paths and readiness behavior.
type HealthConfig struct {
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
	ReadinessMode string `yaml:"readiness_mode"`
}

// AgentConfig describes a downstream A2A agent. Configuration order is the
// routing tie-break order.
type AgentConfig struct {
	Name       string   `yaml:"name"`
	URL        string   `yaml:"url"`
	Default    bool     `yaml:"default"`
	Method     string   `yaml:"method"`
	Timeout    Duration `yaml:"timeout"`
	MaxStreams int      `yaml:"max_streams"`

	// AutoName is set when Name was derived from the URL.
	AutoName bool `yaml:"-"`
}

// DiscoveryConfig controls Agent Card fetching and caching.
type DiscoveryConfig struct {
	CardPath     string   `yaml:"card_path"`
	Timeout      Duration `yaml:"timeout"`
	TTL          Duration `yaml:"ttl"`
	Grace        Duration `yaml:"grace"`
	MaxCardBytes int      `yaml:"max_card_bytes"`
}

// RoutingConfig holds routing behavior that is not per-agent.
type RoutingConfig struct {
	IgnoreExplicitTarget bool `yaml:"ignore_explicit_target"`
}

// RelayConfig bounds a relayed task stream.
type RelayConfig struct {
	StreamTimeout Duration `yaml:"stream_timeout"`
	IdleTimeout   Duration `yaml:"idle_timeout"`
	CancelTimeout Duration `yaml:"cancel_timeout"`
	TaskRetention Duration `yaml:"task_retention"`
	MaxFrameBytes int      `yaml:"max_frame_bytes"`
}

// SecurityConfig groups inbound protection and credential passthrough.
type SecurityConfig struct {
	CardSignature  CardSignatureConfig `yaml:"card_signature"`
	RateLimit      RateLimitConfig     `yaml:"rate_limit"`
	ForwardHeaders []string            `yaml:"forward_headers"`
}

// CardSignatureConfig controls JWS signature verification for Agent Cards.
type CardSignatureConfig struct {
	Require         bool     `yaml:"require"`
	TrustedJWKSURLs []string `yaml:"trusted_jwks_urls"`
	CacheTTL        Duration `yaml:"cache_ttl"`
}

// RateLimitConfig defines inbound per-IP rate limiting on the task endpoint.
type RateLimitConfig struct {
	Enabled bool         `yaml:"enabled"`
	IP      IPRateConfig `yaml:"ip"`
}

// IPRateConfig defines per-IP rate limiting with burst and cleanup settings.
type IPRateConfig struct {
	PerIP           int      `yaml:"per_ip"`
	Burst           int      `yaml:"burst"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// NodeConfig configures the agent-node executor that runs the content engine.
type NodeConfig struct {
	Command      []string `yaml:"command"`
	WorkDir      string   `yaml:"work_dir"`
	Instructions string   `yaml:"instructions"`
	Heartbeat    Duration `yaml:"heartbeat"`
	Timeout      Duration `yaml:"timeout"`
	MaxOutput    int      `yaml:"max_output"`
}

// LoggingConfig defines log output format and audit sampling.
type LoggingConfig struct {
	Level  string      `yaml:"level"`
	Format string      `yaml:"format"`
	Output string      `yaml:"output"`
	Audit  AuditConfig `yaml:"audit"`
}

// AuditConfig controls OTel-compatible audit log sampling rates.
type AuditConfig struct {
	SamplingRate      float64 `yaml:"sampling_rate"`
	ErrorSamplingRate float64 `yaml:"error_sampling_rate"`
}

// ShutdownConfig defines graceful shutdown and SSE drain timeouts.
type ShutdownConfig struct {
	Timeout      Duration `yaml:"timeout"`
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// ReloadConfig controls config hot-reload behavior (SIGHUP and file watching).
type ReloadConfig struct {
	Enabled   bool     `yaml:"enabled"`
	WatchFile bool     `yaml:"watch_file"`
	Debounce  Duration `yaml:"debounce"`
}

// DefaultAgent returns the agent marked default, or nil.
func (c *Config) DefaultAgent() *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].Default {
			return &c.Agents[i]
		}
	}
	return nil
}

// Duration is a time.Duration that supports YAML string parsing (e.g., "60s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration, parsing strings like "60s" or "5m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Load reads and parses a configuration file, overlays the environment,
// applies defaults, and validates. An empty path starts from an empty
// config so a node can run from environment variables alone.
func Load(path string) (*Config, error) {
	return LoadMode(path, "")
}

// LoadMode is Load with the process mode forced, as the CLI subcommands do.
func LoadMode(path, mode string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if mode != "" {
		cfg.Mode = mode
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
