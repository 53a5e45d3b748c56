package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadMinimalOrchestrator(t *testing.T) {
	path := writeFile(t, t.TempDir(), "orchestrator.yaml", `agents:
  - name: blog_agent
    url: http://localhost:8001
    default: true
  - url: http://localhost:8002/
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != ModeOrchestrator {
		t.Errorf("Mode = %q, want orchestrator", cfg.Mode)
	}
	if cfg.Listen.Port != 8000 {
		t.Errorf("Listen.Port = %d, want 8000", cfg.Listen.Port)
	}
	if cfg.Discovery.CardPath != "/.well-known/agent-card.json" {
		t.Errorf("Discovery.CardPath = %q", cfg.Discovery.CardPath)
	}
	if cfg.Discovery.TTL.Duration != 5*time.Minute {
		t.Errorf("Discovery.TTL = %v, want 5m", cfg.Discovery.TTL.Duration)
	}
	if cfg.Relay.CancelTimeout.Duration != 5*time.Second {
		t.Errorf("Relay.CancelTimeout = %v, want 5s", cfg.Relay.CancelTimeout.Duration)
	}
	if cfg.Agents[1].Name != "localhost:8002" || !cfg.Agents[1].AutoName {
		t.Errorf("Agents[1] name = %q auto=%v, want derived localhost:8002", cfg.Agents[1].Name, cfg.Agents[1].AutoName)
	}
	if cfg.Agents[0].AutoName {
		t.Error("Agents[0] has a configured name, AutoName should be false")
	}
	if cfg.Agents[0].Method != "message/stream" {
		t.Errorf("Agents[0].Method = %q", cfg.Agents[0].Method)
	}
	if d := cfg.DefaultAgent(); d == nil || d.Name != "blog_agent" {
		t.Errorf("DefaultAgent() = %+v, want blog_agent", d)
	}
}

func TestLoadDurations(t *testing.T) {
	path := writeFile(t, t.TempDir(), "o.yaml", `agents:
  - name: a
    url: http://a:1
    timeout: 45s
discovery:
  ttl: 90s
  grace: 2m
relay:
  idle_timeout: 500ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents[0].Timeout.Duration != 45*time.Second {
		t.Errorf("timeout = %v", cfg.Agents[0].Timeout.Duration)
	}
	if cfg.Discovery.TTL.Duration != 90*time.Second || cfg.Discovery.Grace.Duration != 2*time.Minute {
		t.Errorf("discovery = %v/%v", cfg.Discovery.TTL.Duration, cfg.Discovery.Grace.Duration)
	}
	if cfg.Relay.IdleTimeout.Duration != 500*time.Millisecond {
		t.Errorf("idle_timeout = %v", cfg.Relay.IdleTimeout.Duration)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeFile(t, t.TempDir(), "o.yaml", "discovery:\n  ttl: forever\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("err = %v, want invalid duration", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadModeAgentWithEnv(t *testing.T) {
	t.Setenv(EnvAgentPort, "8002")
	t.Setenv(EnvSkillInstructions, ".copilot_skills/ppt/SKILL.md")

	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", `card:
  name: ppt_agent
  description: Builds slide decks
  primary_keywords: [ppt, presentation, slides]
node:
  command: [cat]
`)
	cfg, err := LoadMode(path, ModeAgent)
	if err != nil {
		t.Fatalf("LoadMode: %v", err)
	}
	if cfg.Mode != ModeAgent {
		t.Errorf("Mode = %q, want agent", cfg.Mode)
	}
	if cfg.Listen.Port != 8002 {
		t.Errorf("Listen.Port = %d, want 8002 from AGENT_PORT", cfg.Listen.Port)
	}
	if cfg.Node.Instructions != ".copilot_skills/ppt/SKILL.md" {
		t.Errorf("Node.Instructions = %q", cfg.Node.Instructions)
	}
	if cfg.Node.Heartbeat.Duration != 5*time.Second {
		t.Errorf("Node.Heartbeat = %v, want 5s", cfg.Node.Heartbeat.Duration)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Agents: []AgentConfig{
			{Name: "a", URL: "ftp://a", Default: true},
			{Name: "a", URL: "", Default: true},
		},
		Logging: LoggingConfig{Level: "verbose"},
	}
	ApplyDefaults(cfg)
	cfg.Listen.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"configuration errors:",
		"agents[0]: url must be an absolute http(s) URL",
		"agents[1]: url is required",
		`agents[1]: name "a" duplicates agents[0]`,
		"at most one agent can be default (found 2)",
		"listen.port must be 1-65535",
		"logging.level must be one of",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateOrchestratorNeedsAgents(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "agents list must not be empty") {
		t.Errorf("err = %v, want empty agents error", err)
	}
}

func TestValidateAgentModeNeedsCommandAndCard(t *testing.T) {
	cfg := &Config{Mode: ModeAgent}
	ApplyDefaults(cfg)
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"node.command is required", "card.name or card.file is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateCardSignatureNeedsJWKS(t *testing.T) {
	cfg := &Config{Agents: []AgentConfig{{Name: "a", URL: "http://a"}}}
	cfg.Security.CardSignature.Require = true
	ApplyDefaults(cfg)
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "trusted_jwks_urls") {
		t.Errorf("err = %v, want trusted_jwks_urls error", err)
	}
}

func TestProfilesAreValid(t *testing.T) {
	for _, name := range Profiles {
		t.Run(name, func(t *testing.T) {
			yamlText, ok := Profile(name)
			if !ok {
				t.Fatalf("Profile(%q) not found", name)
			}
			dir := t.TempDir()
			path := writeFile(t, dir, "o.yaml", yamlText)
			if _, err := Load(path); err != nil {
				t.Errorf("profile %s does not load: %v", name, err)
			}
		})
	}
	if _, ok := Profile("staging"); ok {
		t.Error("Profile(staging) should not exist")
	}
}
