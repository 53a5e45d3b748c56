// Package registry holds the static set of downstream agents the orchestrator
// routes to. It is built once from configuration and is read-only afterwards;
// only per-agent health flags change at runtime.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vivars7/a2a-orchestrator/internal/a2aclient"
	"github.com/vivars7/a2a-orchestrator/internal/config"
	"github.com/vivars7/a2a-orchestrator/internal/discovery"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
	"github.com/vivars7/a2a-orchestrator/internal/router"
)

// AgentInfo binds one configured agent to its protocol client. Its card is
// always read through the discovery cache.
type AgentInfo struct {
	Index      int
	Name       string
	URL        string
	Default    bool
	MaxStreams int
	Client     *a2aclient.Client

	autoName   bool
	healthy    atomic.Bool
	lastPolled atomic.Int64
}

// Healthy reports whether the agent's last card fetch succeeded.
func (a *AgentInfo) Healthy() bool { return a.healthy.Load() }

// AgentStatus exposes agent state for readiness and the CLI.
type AgentStatus struct {
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Default    bool      `json:"default,omitempty"`
	Healthy    bool      `json:"healthy"`
	Degraded   bool      `json:"degraded"`
	Keywords   []string  `json:"keywords,omitempty"`
	SkillCount int       `json:"skills_count"`
	LastPolled time.Time `json:"last_polled,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Candidate is an agent with the card obtained for one routing call.
type Candidate struct {
	Agent *AgentInfo
	Card  *protocol.AgentCard
}

// Registry is the ordered, immutable set of agents.
type Registry struct {
	agents    []*AgentInfo
	byName    map[string]*AgentInfo
	discovery *discovery.Client
	interval  time.Duration
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the registry in configuration order. transport carries task
// streams for every agent client.
func New(cfg *config.Config, disc *discovery.Client, transport http.RoundTripper, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		byName:    make(map[string]*AgentInfo, len(cfg.Agents)),
		discovery: disc,
		interval:  cfg.Discovery.TTL.Duration,
		logger:    logger,
	}
	for i, a := range cfg.Agents {
		if _, dup := r.byName[a.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", a.Name)
		}
		info := &AgentInfo{
			Index:      i,
			Name:       a.Name,
			URL:        a.URL,
			Default:    a.Default,
			MaxStreams: a.MaxStreams,
			Client:     a2aclient.New(a2aclient.ConfigFrom(a, cfg), transport, logger),
			autoName:   a.AutoName,
		}
		r.agents = append(r.agents, info)
		r.byName[a.Name] = info
	}
	return r, nil
}

// Start fetches every card once, adopts card names for agents whose name was
// derived from their URL, and keeps the cache warm in the background. It must
// return before the registry is shared between goroutines.
func (r *Registry) Start(ctx context.Context) {
	r.resolve(ctx)

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	if r.interval <= 0 {
		return
	}
	for _, a := range r.agents {
		r.wg.Add(1)
		go r.poll(ctx, a)
	}
}

// Stop halts background polling.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// resolve performs the startup fetch.
func (r *Registry) resolve(ctx context.Context) {
	urls := make([]string, len(r.agents))
	for i, a := range r.agents {
		urls[i] = a.URL
	}
	cards, errs := r.discovery.DiscoverAll(ctx, urls)

	for i, a := range r.agents {
		r.markPolled(a, errs[i])
		if errs[i] != nil {
			r.logger.Warn("agent card unavailable at startup", "agent", a.Name, "url", a.URL, "error", errs[i])
			continue
		}
		card := cards[i]
		r.logger.Info("agent card fetched",
			"agent", a.Name,
			"card_name", card.Name,
			"keywords", len(card.Keywords()),
			"skills", len(card.Skills),
		)
		if a.autoName && card.Name != "" && card.Name != a.Name {
			if _, taken := r.byName[card.Name]; taken {
				r.logger.Warn("card name already in use, keeping derived name", "agent", a.Name, "card_name", card.Name)
				continue
			}
			delete(r.byName, a.Name)
			a.Name = card.Name
			a.Client = a.Client.WithName(card.Name)
			r.byName[a.Name] = a
		}
	}
}

func (r *Registry) poll(ctx context.Context, a *AgentInfo) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := r.discovery.Get(ctx, a.URL)
			r.markPolled(a, err)
		}
	}
}

func (r *Registry) markPolled(a *AgentInfo, err error) {
	a.lastPolled.Store(time.Now().UnixNano())
	healthy := err == nil && !r.discovery.Degraded(a.URL)
	if was := a.healthy.Swap(healthy); was != healthy {
		r.logger.Info("agent health changed", "agent", a.Name, "healthy", healthy)
	}
}

// Lookup returns the agent with the given name.
func (r *Registry) Lookup(name string) (*AgentInfo, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Default returns the agent marked default, or nil.
func (r *Registry) Default() *AgentInfo {
	for _, a := range r.agents {
		if a.Default {
			return a
		}
	}
	return nil
}

// Snapshot obtains every agent's card through the discovery cache,
// concurrently. Agents without a card are left out; their errors are returned.
func (r *Registry) Snapshot(ctx context.Context) ([]Candidate, []error) {
	urls := make([]string, len(r.agents))
	for i, a := range r.agents {
		urls[i] = a.URL
	}
	cards, errs := r.discovery.DiscoverAll(ctx, urls)

	var (
		out      []Candidate
		failures []error
	)
	for i, a := range r.agents {
		r.markPolled(a, errs[i])
		if errs[i] != nil {
			failures = append(failures, fmt.Errorf("agent %s: %w", a.Name, errs[i]))
			continue
		}
		out = append(out, Candidate{Agent: a, Card: cards[i]})
	}
	return out, failures
}

// Profiles converts candidates to router input, preserving order.
func Profiles(cands []Candidate) []router.Profile {
	out := make([]router.Profile, len(cands))
	for i, c := range cands {
		out[i] = router.Profile{Name: c.Agent.Name, Keywords: c.Card.Keywords()}
	}
	return out
}

// HealthyAgents returns the names of healthy agents in configuration order.
func (r *Registry) HealthyAgents() []string {
	var names []string
	for _, a := range r.agents {
		if a.Healthy() {
			names = append(names, a.Name)
		}
	}
	return names
}

// AllAgentNames returns every agent name in configuration order.
func (r *Registry) AllAgentNames() []string {
	names := make([]string, len(r.agents))
	for i, a := range r.agents {
		names[i] = a.Name
	}
	return names
}

// Statuses reports every agent's state without fetching.
func (r *Registry) Statuses() []AgentStatus {
	out := make([]AgentStatus, 0, len(r.agents))
	for _, a := range r.agents {
		st := AgentStatus{
			Name:     a.Name,
			URL:      a.URL,
			Default:  a.Default,
			Healthy:  a.Healthy(),
			Degraded: r.discovery.Degraded(a.URL),
		}
		if ns := a.lastPolled.Load(); ns > 0 {
			st.LastPolled = time.Unix(0, ns)
		}
		if card, ok := r.discovery.Peek(a.URL); ok {
			st.Keywords = card.Keywords()
			st.SkillCount = len(card.Skills)
		}
		st.LastError = r.discovery.StatusOf(a.URL).LastError
		out = append(out, st)
	}
	return out
}
