package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables consumed on top of the YAML file.
const (
	EnvAgentHosts        = "A2A_AGENT_HOST"
	EnvAgentPort         = "AGENT_PORT"
	EnvSkillInstructions = "SKILL_INSTRUCTIONS"
	EnvExternalURL       = "A2A_EXTERNAL_URL"
	EnvLogLevel          = "LOG_LEVEL"
)

// LoadDotEnv loads environment variables from .env files: explicit paths
// first, then .env in the config file's directory, then ./.env.
// Existing environment variables are NOT overwritten.
func LoadDotEnv(configPath string, paths ...string) error {
	for _, path := range paths {
		if path != "" {
			if err := loadIfExists(path); err != nil {
				return err
			}
		}
	}

	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			if err := loadIfExists(filepath.Join(filepath.Dir(abs), ".env")); err != nil {
				return err
			}
		}
	}

	return loadIfExists(".env")
}

// loadIfExists loads a .env file if it exists.
func loadIfExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg:
//   - A2A_AGENT_HOST: comma-separated agent base URLs, appended in order
//     unless the URL is already configured
//   - AGENT_PORT: listen.port
//   - SKILL_INSTRUCTIONS: node.instructions
//   - A2A_EXTERNAL_URL: external_url
//   - LOG_LEVEL: logging.level
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if hosts, ok := lookup(EnvAgentHosts); ok {
		known := make(map[string]bool, len(cfg.Agents))
		for _, a := range cfg.Agents {
			known[normalizeURL(a.URL)] = true
		}
		for _, h := range strings.Split(hosts, ",") {
			h = strings.TrimSpace(h)
			if h == "" || known[normalizeURL(h)] {
				continue
			}
			known[normalizeURL(h)] = true
			cfg.Agents = append(cfg.Agents, AgentConfig{URL: h})
		}
	}

	if port, ok := lookup(EnvAgentPort); ok && port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvAgentPort, port)
		}
		cfg.Listen.Port = p
	}

	if v, ok := lookup(EnvSkillInstructions); ok && v != "" {
		cfg.Node.Instructions = v
	}
	if v, ok := lookup(EnvExternalURL); ok && v != "" {
		cfg.ExternalURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	return nil
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
