package config

import (
	"testing"
	"time"
)

func findChange(changes []Change, field string) (Change, bool) {
	for _, c := range changes {
		if c.Field == field {
			return c, true
		}
	}
	return Change{}, false
}

func TestDiff_IdenticalConfigs(t *testing.T) {
	cfg := &Config{
		Listen: ListenConfig{Host: "0.0.0.0", Port: 8000},
		Agents: []AgentConfig{{Name: "a", URL: "http://localhost:9000"}},
	}
	ApplyDefaults(cfg)
	changes := Diff(cfg, cfg)
	if len(changes) != 0 {
		t.Errorf("identical configs should produce 0 changes, got %d", len(changes))
		for _, c := range changes {
			t.Logf("  change: %s old=%v new=%v", c.Field, c.OldValue, c.NewValue)
		}
	}
}

func TestDiff_AgentChangesNeedRestart(t *testing.T) {
	old := &Config{
		Agents: []AgentConfig{{Name: "a", URL: "http://localhost:9000"}},
	}
	new := &Config{
		Agents: []AgentConfig{
			{Name: "a", URL: "http://localhost:9999"},
			{Name: "b", URL: "http://localhost:9001"},
		},
	}
	changes := Diff(old, new)

	added, ok := findChange(changes, "agents[b]")
	if !ok {
		t.Fatal("expected change for agent addition 'b'")
	}
	if added.OldValue != nil || added.Reloadable {
		t.Errorf("addition = %+v, want OldValue nil and not reloadable", added)
	}
	url, ok := findChange(changes, "agents[a].url")
	if !ok {
		t.Fatal("expected change for agents[a].url")
	}
	if url.Reloadable {
		t.Error("agent url change should require restart")
	}
}

func TestDiff_AgentRemoval(t *testing.T) {
	old := &Config{
		Agents: []AgentConfig{
			{Name: "a", URL: "http://localhost:9000"},
			{Name: "b", URL: "http://localhost:9001"},
		},
	}
	new := &Config{
		Agents: []AgentConfig{{Name: "a", URL: "http://localhost:9000"}},
	}
	removed, ok := findChange(Diff(old, new), "agents[b]")
	if !ok {
		t.Fatal("expected change for agent removal 'b'")
	}
	if removed.NewValue != nil {
		t.Errorf("removal NewValue = %v, want nil", removed.NewValue)
	}
}

func TestDiff_ReloadableFields(t *testing.T) {
	old := &Config{}
	ApplyDefaults(old)
	new := &Config{}
	ApplyDefaults(new)
	new.Logging.Level = "debug"
	new.Logging.Audit.SamplingRate = 0.5
	new.Discovery.TTL.Duration = 10 * time.Second
	new.Security.RateLimit.IP.PerIP = 10
	new.Listen.Port = 9999
	new.Relay.IdleTimeout.Duration = time.Second

	tests := []struct {
		field      string
		reloadable bool
	}{
		{"logging.level", true},
		{"logging.audit.sampling_rate", true},
		{"discovery.ttl", true},
		{"security.rate_limit.ip.per_ip", true},
		{"listen.port", false},
		{"relay", false},
	}
	changes := Diff(old, new)
	if len(changes) != len(tests) {
		t.Errorf("got %d changes, want %d", len(changes), len(tests))
	}
	for _, tt := range tests {
		c, ok := findChange(changes, tt.field)
		if !ok {
			t.Errorf("missing change for %s", tt.field)
			continue
		}
		if c.Reloadable != tt.reloadable {
			t.Errorf("%s reloadable = %v, want %v", tt.field, c.Reloadable, tt.reloadable)
		}
	}
}

func TestDiff_NilAndEmptySlicesEqual(t *testing.T) {
	old := &Config{Security: SecurityConfig{ForwardHeaders: nil}}
	new := &Config{Security: SecurityConfig{ForwardHeaders: []string{}}}
	if _, ok := findChange(Diff(old, new), "security.forward_headers"); ok {
		t.Error("nil and empty forward_headers should not differ")
	}
}
