package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockChecker struct {
	healthy []string
	all     []string
}

func (m *mockChecker) HealthyAgents() []string { return m.healthy }
func (m *mockChecker) AllAgentNames() []string { return m.all }

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	h := NewHandler(&mockChecker{}, "v0.5.0", Config{})
	rec := get(h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp LivenessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "v0.5.0" {
		t.Errorf("liveness = %+v", resp)
	}
}

func TestReadiness_Modes(t *testing.T) {
	tests := []struct {
		name         string
		mode         string
		defaultAgent string
		healthy      []string
		all          []string
		wantCode     int
		wantMode     string
	}{
		{"any some healthy", ModeAnyHealthy, "", []string{"blog_agent"}, []string{"blog_agent", "ppt_agent"}, http.StatusOK, ModeAnyHealthy},
		{"any none healthy", ModeAnyHealthy, "", nil, []string{"blog_agent"}, http.StatusServiceUnavailable, ModeAnyHealthy},
		{"all up", ModeAllHealthy, "", []string{"a", "b"}, []string{"a", "b"}, http.StatusOK, ModeAllHealthy},
		{"all some down", ModeAllHealthy, "", []string{"a"}, []string{"a", "b"}, http.StatusServiceUnavailable, ModeAllHealthy},
		{"all no agents", ModeAllHealthy, "", nil, nil, http.StatusServiceUnavailable, ModeAllHealthy},
		{"default up", ModeDefaultHealthy, "blog_agent", []string{"blog_agent"}, []string{"blog_agent", "ppt_agent"}, http.StatusOK, ModeDefaultHealthy},
		{"default down", ModeDefaultHealthy, "blog_agent", []string{"ppt_agent"}, []string{"blog_agent", "ppt_agent"}, http.StatusServiceUnavailable, ModeDefaultHealthy},
		{"default unset", ModeDefaultHealthy, "", []string{"ppt_agent"}, []string{"ppt_agent"}, http.StatusServiceUnavailable, ModeDefaultHealthy},
		{"unknown mode falls back to any", "bogus", "", []string{"a"}, []string{"a"}, http.StatusOK, ModeAnyHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockChecker{healthy: tt.healthy, all: tt.all}, "v1.0.0", Config{
				ReadinessMode: tt.mode,
				DefaultAgent:  tt.defaultAgent,
			})
			rec := get(h, "/readyz")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var resp ReadinessResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Mode != tt.wantMode {
				t.Errorf("mode = %q, want %q", resp.Mode, tt.wantMode)
			}
			if resp.HealthyAgents != len(tt.healthy) || resp.TotalAgents != len(tt.all) {
				t.Errorf("counts = %d/%d", resp.HealthyAgents, resp.TotalAgents)
			}
		})
	}
}

func TestReadiness_ListsUnhealthy(t *testing.T) {
	h := NewHandler(&mockChecker{
		healthy: []string{"blog_agent"},
		all:     []string{"blog_agent", "ppt_agent"},
	}, "v1.0.0", Config{ReadinessMode: ModeAnyHealthy})

	resp, ready := h.Readiness()
	if !ready || resp.Status != "ready" {
		t.Errorf("readiness = %+v, %v", resp, ready)
	}
	if len(resp.Unhealthy) != 1 || resp.Unhealthy[0] != "ppt_agent" {
		t.Errorf("unhealthy = %v", resp.Unhealthy)
	}
}

func TestReadiness_Draining(t *testing.T) {
	h := NewHandler(StaticChecker{"blog_agent"}, "v1.0.0", Config{})
	if rec := get(h, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("before drain status = %d", rec.Code)
	}

	h.SetDraining()
	rec := get(h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("draining status = %d", rec.Code)
	}
	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "draining" {
		t.Errorf("status = %q", resp.Status)
	}
	if rec := get(h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("liveness while draining = %d", rec.Code)
	}
}

func TestConfiguredPaths(t *testing.T) {
	h := NewHandler(StaticChecker{"node"}, "v1.0.0", Config{LivenessPath: "/live", ReadinessPath: "/ready"})
	if rec := get(h, "/live"); rec.Code != http.StatusOK {
		t.Errorf("/live = %d", rec.Code)
	}
	if rec := get(h, "/ready"); rec.Code != http.StatusOK {
		t.Errorf("/ready = %d", rec.Code)
	}
	if rec := get(h, "/healthz"); rec.Code != http.StatusNotFound {
		t.Errorf("/healthz = %d, want 404", rec.Code)
	}
}

func TestReadiness_SetDefaultAgent(t *testing.T) {
	checker := &mockChecker{healthy: []string{"blog_agent"}, all: []string{"blog_agent"}}
	h := NewHandler(checker, "v1.0.0", Config{ReadinessMode: ModeDefaultHealthy, DefaultAgent: "blog"})
	if _, ready := h.Readiness(); ready {
		t.Fatal("provisional default name should not match")
	}
	h.SetDefaultAgent("blog_agent")
	if _, ready := h.Readiness(); !ready {
		t.Error("resolved default agent is healthy")
	}
}
