package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vivars7/a2a-orchestrator/internal/config"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

// fakeNode records what serveNode did with it.
type fakeNode struct {
	started  bool
	watched  bool
	startErr error
}

func (n *fakeNode) Start(ctx context.Context) error { n.started = true; return n.startErr }
func (n *fakeNode) WatchConfig(*config.Reloader)    { n.watched = true }
func (n *fakeNode) Logger() *slog.Logger            { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func factoryFor(n *fakeNode) nodeFactory {
	return func(*config.Config, string) (node, error) { return n, nil }
}

func runCLI(t *testing.T, newNode nodeFactory, args ...string) (int, string, string) {
	t.Helper()
	if newNode == nil {
		newNode = defaultNodeFactory
	}
	var stdout, stderr bytes.Buffer
	code := runWith(args, &stdout, &stderr, newNode)
	return code, stdout.String(), stderr.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func cardHandler(name string, keywords ...string) http.HandlerFunc {
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
		Skills:             []protocol.AgentSkill{},
		Capabilities:       &protocol.AgentCapabilities{Streaming: true},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(card)
	}
}

func TestRunHelp(t *testing.T) {
	code, out, _ := runCLI(t, nil, "--help")
	if code != 0 {
		t.Errorf("expected exit code 0 for --help, got %d", code)
	}
	for _, cmd := range []string{"serve", "agent", "validate", "route", "send", "init"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("help does not mention %q", cmd)
		}
	}
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runCLI(t, nil, "--version")
	if code != 0 {
		t.Errorf("expected exit code 0 for --version, got %d", code)
	}
	if !strings.Contains(out, "a2a-orchestrator "+Version) {
		t.Errorf("version output = %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if code, _, _ := runCLI(t, nil, "nonexistent"); code != 1 {
		t.Errorf("expected exit code 1 for unknown command, got %d", code)
	}
}

func TestRunValidate(t *testing.T) {
	valid := writeConfig(t, "agents:\n  - name: blog_agent\n    url: http://localhost:8001\n")
	invalid := writeConfig(t, "agents:\n  - name: blog_agent\n    url: ftp://localhost\n")
	agent := writeConfig(t, "card:\n  name: blog_agent\nnode:\n  command: [cat]\n")

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{"missing file", []string{"--config", "nonexistent.yaml", "validate"}, 1, ""},
		{"valid", []string{"--config", valid, "validate"}, 0, "config valid: 1 agents"},
		{"invalid url", []string{"--config", invalid, "validate"}, 1, ""},
		{"agent mode", []string{"--config", agent, "validate", "--mode", "agent"}, 0, "config valid: agent blog_agent"},
		{"agent config as orchestrator", []string{"--config", agent, "validate"}, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := runCLI(t, nil, tt.args...)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (stderr %s)", code, tt.wantCode, errOut)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("stdout = %q, want %q", out, tt.wantOut)
			}
		})
	}
}

func TestRunValidate_EnvOnly(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(config.EnvAgentHosts, "http://localhost:8001, http://localhost:8002")

	code, out, errOut := runCLI(t, nil, "validate")
	if code != 0 {
		t.Fatalf("exit code = %d (stderr %s)", code, errOut)
	}
	if !strings.Contains(out, "2 agents") {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunValidate_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	envFile := filepath.Join(dir, "agents.env")
	if err := os.WriteFile(envFile, []byte(config.EnvAgentHosts+"=http://localhost:8001\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv sets process env; restore it after the test.
	t.Setenv(config.EnvAgentHosts, "")
	os.Unsetenv(config.EnvAgentHosts)

	code, out, errOut := runCLI(t, nil, "--env-file", envFile, "validate")
	if code != 0 {
		t.Fatalf("exit code = %d (stderr %s)", code, errOut)
	}
	if !strings.Contains(out, "1 agents") {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunInit(t *testing.T) {
	for _, profile := range config.Profiles {
		t.Run(profile, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), profile+".yaml")
			if code, _, errOut := runCLI(t, nil, "init", "--profile", profile, "--output", out); code != 0 {
				t.Fatalf("init exit code = %d (stderr %s)", code, errOut)
			}

			mode := config.ModeOrchestrator
			if profile == "agent" {
				mode = config.ModeAgent
			}
			if _, err := config.LoadMode(out, mode); err != nil {
				t.Errorf("generated %s profile does not load: %v", profile, err)
			}
		})
	}
}

func TestRunInit_RefusesOverwrite(t *testing.T) {
	out := filepath.Join(t.TempDir(), "orchestrator.yaml")
	os.WriteFile(out, []byte("keep me"), 0o600)

	code, _, errOut := runCLI(t, nil, "init", "--output", out)
	if code != 1 || !strings.Contains(errOut, "already exists") {
		t.Errorf("exit code = %d stderr = %q", code, errOut)
	}
	if data, _ := os.ReadFile(out); string(data) != "keep me" {
		t.Error("existing file was overwritten")
	}

	if code, _, _ := runCLI(t, nil, "init", "--output", out, "--force"); code != 0 {
		t.Errorf("--force exit code = %d", code)
	}
}

func TestRunInit_InvalidProfile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "orchestrator.yaml")
	if code, _, _ := runCLI(t, nil, "init", "--profile", "staging", "--output", out); code != 1 {
		t.Errorf("expected exit code 1 for unknown profile, got %d", code)
	}
	if _, err := os.Stat(out); err == nil {
		t.Error("file written for an unknown profile")
	}
}

func TestRunServe(t *testing.T) {
	path := writeConfig(t, "agents:\n  - name: blog_agent\n    url: http://localhost:8001\nreload:\n  enabled: true\n  watch_file: false\n")

	t.Run("starts node and watches config", func(t *testing.T) {
		n := &fakeNode{}
		if code, _, errOut := runCLI(t, factoryFor(n), "--config", path, "serve"); code != 0 {
			t.Fatalf("exit code = %d (stderr %s)", code, errOut)
		}
		if !n.started || !n.watched {
			t.Errorf("started = %v watched = %v", n.started, n.watched)
		}
	})

	t.Run("serve is the default command", func(t *testing.T) {
		n := &fakeNode{}
		if code, _, _ := runCLI(t, factoryFor(n), "--config", path); code != 0 || !n.started {
			t.Errorf("exit code = %d started = %v", code, n.started)
		}
	})

	t.Run("start error", func(t *testing.T) {
		n := &fakeNode{startErr: errors.New("address in use")}
		code, _, errOut := runCLI(t, factoryFor(n), "--config", path, "serve")
		if code != 1 || !strings.Contains(errOut, "address in use") {
			t.Errorf("exit code = %d stderr = %q", code, errOut)
		}
	})

	t.Run("factory error", func(t *testing.T) {
		failing := func(*config.Config, string) (node, error) { return nil, errors.New("boom") }
		code, _, errOut := runCLI(t, failing, "--config", path, "serve")
		if code != 1 || !strings.Contains(errOut, "initialization error") {
			t.Errorf("exit code = %d stderr = %q", code, errOut)
		}
	})

	t.Run("agent without command", func(t *testing.T) {
		n := &fakeNode{}
		if code, _, _ := runCLI(t, factoryFor(n), "--config", path, "agent"); code != 1 || n.started {
			t.Errorf("exit code = %d started = %v", code, n.started)
		}
	})
}

func TestRunRoute(t *testing.T) {
	blog := httptest.NewServer(cardHandler("blog_agent", "blog", "article"))
	defer blog.Close()
	ppt := httptest.NewServer(cardHandler("ppt_agent", "slides", "ppt"))
	defer ppt.Close()

	path := writeConfig(t, "agents:\n  - url: "+blog.URL+"\n    default: true\n  - url: "+ppt.URL+"\n")

	code, out, errOut := runCLI(t, nil, "--config", path, "route", "make slides about go")
	if code != 0 {
		t.Fatalf("exit code = %d (stderr %s)", code, errOut)
	}
	if !strings.HasPrefix(out, "route: ppt_agent (score)") {
		t.Errorf("route output = %q", out)
	}
	if !strings.Contains(out, "ppt_agent 0.5 +[slides]") {
		t.Errorf("ranking missing from %q", out)
	}

	code, out, _ = runCLI(t, nil, "--config", path, "route", "--json", "what is the weather")
	if code != 0 {
		t.Fatalf("json exit code = %d", code)
	}
	var dec struct {
		Agent  string `json:"agent"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(out), &dec); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if dec.Agent != "blog_agent" || dec.Reason != "default" {
		t.Errorf("decision = %+v", dec)
	}
}

// sseNode answers message/stream with a working status, one artifact and
// the given terminal state.
func sseNode(t *testing.T, final protocol.TaskState) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		var params protocol.SendMessageParams
		json.Unmarshal(req.Params, &params)
		if params.Metadata["targetAgent"] != "ppt_agent" {
			t.Errorf("metadata = %v", params.Metadata)
		}

		protocol.SetSSEHeaders(w.Header())
		protocol.WriteFrame(w, req.ID, protocol.StatusEvent(params.ID, params.ContextID, protocol.TaskStateWorking, "routing", false))
		if final == protocol.TaskStateFailed {
			protocol.WriteFrame(w, req.ID, protocol.FailedEvent(params.ID, params.ContextID, "no_match", "no agent matched"))
			return
		}
		protocol.WriteFrame(w, req.ID, protocol.ArtifactEvent(params.ID, params.ContextID, protocol.Artifact{
			ArtifactID: "a1",
			Parts:      []protocol.Part{protocol.TextPart("# Slides")},
		}))
		protocol.WriteFrame(w, req.ID, protocol.StatusEvent(params.ID, params.ContextID, final, "", true))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunSend(t *testing.T) {
	node := sseNode(t, protocol.TaskStateCompleted)
	code, out, errOut := runCLI(t, nil, "send", "--url", node.URL, "--agent", "ppt_agent", "make slides")
	if code != 0 {
		t.Fatalf("exit code = %d (stderr %s)", code, errOut)
	}
	for _, want := range []string{"task ", "[working] routing", "# Slides", "[completed]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunSend_Failed(t *testing.T) {
	node := sseNode(t, protocol.TaskStateFailed)
	code, out, errOut := runCLI(t, nil, "send", "--url", node.URL, "--agent", "ppt_agent", "hello")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "[failed] no agent matched") || !strings.Contains(errOut, "no_match") {
		t.Errorf("stdout = %q stderr = %q", out, errOut)
	}
}
