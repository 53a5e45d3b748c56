package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vivars7/a2a-orchestrator/internal/config"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
	"github.com/vivars7/a2a-orchestrator/internal/registry"
)

// fakeAgent serves a card and completes every task with one artifact.
func fakeAgent(t *testing.T, name string, keywords ...string) *httptest.Server {
	t.Helper()
	card := protocol.AgentCard{
		Name:               name,
		Description:        name,
		Version:            "1.0.0",
		URL:                "http://localhost",
		Protocol:           "a2a",
		ProtocolVersion:    "0.2.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		PrimaryKeywords:    keywords,
		Skills:             []protocol.AgentSkill{{ID: name + "-skill", Name: name, Tags: []string{}}},
		Capabilities:       &protocol.AgentCapabilities{Streaming: true},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(card)
			return
		}
		var req protocol.JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		var params protocol.SendMessageParams
		json.Unmarshal(req.Params, &params)

		protocol.SetSSEHeaders(w.Header())
		protocol.WriteFrame(w, req.ID, protocol.ArtifactEvent(params.ID, params.ContextID, protocol.Artifact{
			ArtifactID: "a1",
			Parts:      []protocol.Part{protocol.TextPart(name + " did it")},
		}))
		protocol.WriteFrame(w, req.ID, protocol.StatusEvent(params.ID, params.ContextID, protocol.TaskStateCompleted, "", true))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// testConfig creates a minimal orchestrator config pointing to the given agents.
func testConfig(agents ...config.AgentConfig) *config.Config {
	cfg := &config.Config{Mode: config.ModeOrchestrator, Agents: agents}
	config.ApplyDefaults(cfg)
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "error"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg, "test-version")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.stopComponents)
	return srv
}

func streamTask(t *testing.T, url, text string) []protocol.Event {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "message/stream",
		"params": map[string]any{
			"message": map[string]any{
				"messageId": "m1",
				"role":      "user",
				"parts":     []any{map[string]any{"kind": "text", "text": text}},
			},
		},
	})
	resp, err := http.Post(url+"/", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d body = %s", resp.StatusCode, b)
	}

	fr := protocol.NewFrameReader(resp.Body, 0)
	var events []protocol.Event
	for {
		data, err := fr.Next()
		if err != nil {
			return events
		}
		_, ev, err := protocol.DecodeFrame(data)
		if err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		events = append(events, ev)
	}
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t, testConfig(config.AgentConfig{Name: "blog_agent", URL: "http://127.0.0.1:1"}))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestServer_OrchestratorEndToEnd(t *testing.T) {
	blog := fakeAgent(t, "blog_agent", "blog", "article")
	ppt := fakeAgent(t, "ppt_agent", "ppt", "slides")
	cfg := testConfig(
		config.AgentConfig{URL: blog.URL, Default: true},
		config.AgentConfig{URL: ppt.URL},
	)
	srv := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Not ready until the registry has fetched cards.
	resp, _ := http.Get(ts.URL + "/readyz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz before start = %d", resp.StatusCode)
	}

	srv.registry.Start(context.Background())
	resp, _ = http.Get(ts.URL + "/readyz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz after start = %d", resp.StatusCode)
	}

	t.Run("aggregated card", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/.well-known/agent-card.json")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var card protocol.AgentCard
		if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
			t.Fatal(err)
		}
		if card.Name != "a2a-orchestrator" || len(card.Skills) != 2 {
			t.Errorf("card = %s with %d skills", card.Name, len(card.Skills))
		}
		if err := card.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("routes to card-named agent", func(t *testing.T) {
		events := streamTask(t, ts.URL, "prepare slides for the keynote")
		if len(events) == 0 {
			t.Fatal("no events")
		}
		last := events[len(events)-1]
		if !last.Final || last.State() != protocol.TaskStateCompleted {
			t.Fatalf("last = %+v", last)
		}
		found := false
		for _, ev := range events {
			if ev.Artifact != nil && ev.Artifact.Parts[0].Text == "ppt_agent did it" {
				found = true
			}
		}
		if !found {
			t.Errorf("ppt_agent artifact not relayed: %+v", events)
		}
	})

	t.Run("agent status", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/agents")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out struct {
			Agents []registry.AgentStatus `json:"agents"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		if len(out.Agents) != 2 {
			t.Fatalf("agents = %+v", out.Agents)
		}
		blog := out.Agents[0]
		if blog.Name != "blog_agent" || !blog.Default || !blog.Healthy || blog.Degraded {
			t.Errorf("blog status = %+v", blog)
		}
		if len(blog.Keywords) != 2 || blog.SkillCount != 1 {
			t.Errorf("blog card summary = %v / %d skills", blog.Keywords, blog.SkillCount)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		for _, want := range []string{
			`orchestrator_tasks_total{agent="ppt_agent",state="completed"} 1`,
			`orchestrator_routing_decisions_total{agent="ppt_agent",reason="score"} 1`,
			"orchestrator_build_info",
		} {
			if !strings.Contains(string(body), want) {
				t.Errorf("metrics missing %s", want)
			}
		}
	})
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig(config.AgentConfig{Name: "blog_agent", URL: "http://127.0.0.1:1"})
	cfg.Security.RateLimit.Enabled = true
	cfg.Security.RateLimit.IP.PerIP = 1
	cfg.Security.RateLimit.IP.Burst = 1
	srv := newTestServer(t, cfg)
	h := srv.Handler()

	post := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{"id":"x"}}`))
		req.RemoteAddr = "192.0.2.7:4000"
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := post(); code == http.StatusTooManyRequests {
		t.Fatal("first request limited")
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", code)
	}

	// Health stays reachable.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
}

func TestServer_AgentMode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cfg := &config.Config{
		Mode: config.ModeAgent,
		Card: config.CardConfig{Name: "echo_agent", Description: "echoes", PrimaryKeywords: []string{"echo"}},
		Node: config.NodeConfig{Command: []string{"sh", "-c", "cat"}},
	}
	config.ApplyDefaults(cfg)
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "error"

	srv := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, _ := http.Get(ts.URL + "/readyz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("agent node readyz = %d", resp.StatusCode)
	}

	events := streamTask(t, ts.URL, "hello node")
	var text string
	for _, ev := range events {
		if ev.Artifact != nil {
			text = ev.Artifact.Parts[0].Text
		}
	}
	if text != "hello node" {
		t.Errorf("artifact = %q", text)
	}
	if last := events[len(events)-1]; last.State() != protocol.TaskStateCompleted {
		t.Errorf("final = %s", last.State())
	}
}

func TestServer_WatchConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	write := func(level string) {
		yaml := "agents:\n  - name: blog_agent\n    url: http://127.0.0.1:1\nlogging:\n  output: stderr\n  level: " + level + "\n"
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("error")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	srv := newTestServer(t, cfg)

	reloader := config.NewReloader(path, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.WatchConfig(reloader)

	write("debug")
	if _, err := reloader.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := srv.level.Level(); got != slog.LevelDebug {
		t.Errorf("level after reload = %v", got)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	blog := fakeAgent(t, "blog_agent", "blog")
	cfg := testConfig(config.AgentConfig{Name: "blog_agent", URL: blog.URL})
	srv, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	url := "http://" + ln.Addr().String()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("server never became ready")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down within 5 seconds")
	}
	if _, ready := srv.health.Readiness(); ready {
		t.Error("readiness should fail after shutdown")
	}
}

func TestServer_LimitedListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	limited := newLimitedListener(ln, 2)

	var mu sync.Mutex
	activeConns, maxActive := 0, 0
	connReady := make(chan struct{}, 3)
	holdConns := make(chan struct{})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		activeConns++
		maxActive = max(maxActive, activeConns)
		mu.Unlock()

		connReady <- struct{}{}
		<-holdConns

		mu.Lock()
		activeConns--
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Handler: handler}
	go srv.Serve(limited)
	defer srv.Close()

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 5 * time.Second}
			if resp, err := client.Get("http://" + ln.Addr().String() + "/"); err == nil {
				resp.Body.Close()
			}
		}()
	}

	<-connReady
	<-connReady
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	current := activeConns
	mu.Unlock()
	if current != 2 {
		t.Errorf("expected 2 active connections, got %d", current)
	}

	close(holdConns)
	wg.Wait()
	if maxActive > 2 {
		t.Errorf("max concurrent connections should be <= 2, got %d", maxActive)
	}
}

func TestLimitedConn_CloseOnce(t *testing.T) {
	sem := make(chan struct{}, 10)
	sem <- struct{}{}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	done := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		done <- c
	}()
	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	serverConn := <-done
	defer serverConn.Close()

	lc := &limitedConn{Conn: clientConn, sem: sem}
	lc.Close()
	lc.Close()
	if len(sem) != 0 {
		t.Errorf("expected semaphore to be empty after close, got %d", len(sem))
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
