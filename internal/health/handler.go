// Package health serves liveness and readiness for a node. Readiness is
// computed from agent health according to the configured readiness mode and
// is shared with the gRPC health service.
package health

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync/atomic"
)

// Readiness modes.
const (
	ModeAnyHealthy     = "any_healthy"
	ModeDefaultHealthy = "default_healthy"
	ModeAllHealthy     = "all_healthy"
)

// AgentHealthChecker is what readiness needs from the agent registry.
type AgentHealthChecker interface {
	HealthyAgents() []string
	AllAgentNames() []string // all agents regardless of health
}

// StaticChecker reports a fixed set of always-healthy names. An agent node
// uses it for itself.
type StaticChecker []string

// HealthyAgents returns every name.
func (s StaticChecker) HealthyAgents() []string { return s }

// AllAgentNames returns every name.
func (s StaticChecker) AllAgentNames() []string { return s }

// Config selects the endpoint paths and readiness rule.
type Config struct {
	LivenessPath  string
	ReadinessPath string
	ReadinessMode string
	DefaultAgent  string // for default_healthy
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	checker  AgentHealthChecker
	version  string
	cfg      Config
	draining atomic.Bool
	defAgent atomic.Pointer[string]
}

// NewHandler creates a health check handler.
func NewHandler(checker AgentHealthChecker, version string, cfg Config) *Handler {
	if cfg.LivenessPath == "" {
		cfg.LivenessPath = "/healthz"
	}
	if cfg.ReadinessPath == "" {
		cfg.ReadinessPath = "/readyz"
	}
	h := &Handler{checker: checker, version: version, cfg: cfg}
	h.SetDefaultAgent(cfg.DefaultAgent)
	return h
}

// SetDefaultAgent replaces the agent default_healthy looks for, once the
// registry has resolved card-derived names.
func (h *Handler) SetDefaultAgent(name string) { h.defAgent.Store(&name) }

// SetDraining marks the node as shutting down; readiness fails from then on.
func (h *Handler) SetDraining() { h.draining.Store(true) }

// LivenessPath returns the configured liveness path.
func (h *Handler) LivenessPath() string { return h.cfg.LivenessPath }

// ReadinessPath returns the configured readiness path.
func (h *Handler) ReadinessPath() string { return h.cfg.ReadinessPath }

// ServeHTTP routes to the appropriate health endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case h.cfg.LivenessPath:
		h.handleLiveness(w, r)
	case h.cfg.ReadinessPath:
		h.handleReadiness(w, r)
	default:
		http.NotFound(w, r)
	}
}

// LivenessResponse is the JSON response for the liveness path.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadinessResponse is the JSON response for the readiness path.
type ReadinessResponse struct {
	Status        string   `json:"status"`
	Mode          string   `json:"mode"`
	HealthyAgents int      `json:"healthy_agents"`
	TotalAgents   int      `json:"total_agents"`
	Unhealthy     []string `json:"unhealthy,omitempty"`
}

// Readiness evaluates the readiness rule.
func (h *Handler) Readiness() (ReadinessResponse, bool) {
	healthy := h.checker.HealthyAgents()
	all := h.checker.AllAgentNames()

	resp := ReadinessResponse{
		Mode:          h.cfg.ReadinessMode,
		HealthyAgents: len(healthy),
		TotalAgents:   len(all),
	}
	for _, name := range all {
		if !slices.Contains(healthy, name) {
			resp.Unhealthy = append(resp.Unhealthy, name)
		}
	}

	var ready bool
	switch h.cfg.ReadinessMode {
	case ModeDefaultHealthy:
		def := *h.defAgent.Load()
		ready = def != "" && slices.Contains(healthy, def)
	case ModeAllHealthy:
		ready = len(all) > 0 && len(healthy) == len(all)
	default:
		resp.Mode = ModeAnyHealthy
		ready = len(healthy) > 0
	}

	switch {
	case h.draining.Load():
		resp.Status = "draining"
		ready = false
	case ready:
		resp.Status = "ready"
	default:
		resp.Status = "not_ready"
	}
	return resp, ready
}

func (h *Handler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(LivenessResponse{
		Status:  "ok",
		Version: h.version,
	})
}

func (h *Handler) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	resp, ready := h.Readiness()
	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}
