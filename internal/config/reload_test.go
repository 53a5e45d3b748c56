package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// testSubscriber implements Reloadable for testing.
type testSubscriber struct {
	mu        sync.Mutex
	calls     int
	lastCfg   *Config
	returnErr error
}

func (s *testSubscriber) OnConfigReload(newCfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastCfg = newCfg
	return s.returnErr
}

func (s *testSubscriber) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *testSubscriber) lastConfig() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCfg
}

// syncBuffer is a bytes.Buffer safe for the reloader goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	h := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), buf
}

// writeConfigWithLevel writes a valid YAML config with a specific log level.
func writeConfigWithLevel(t *testing.T, path string, level string) {
	t.Helper()
	content := fmt.Sprintf(`agents:
  - name: blog_agent
    url: http://localhost:8001
logging:
  level: %s
`, level)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
}

func newReloaderFor(t *testing.T, level string) (*Reloader, string, *syncBuffer) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "orchestrator.yaml")
	writeConfigWithLevel(t, cfgPath, level)
	initialCfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("loading initial config: %v", err)
	}
	logger, buf := newTestLogger()
	return NewReloader(cfgPath, initialCfg, logger), cfgPath, buf
}

func waitForCalls(t *testing.T, sub *testSubscriber, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for sub.callCount() < n {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %d reload notifications (got %d)", n, sub.callCount())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestReloader_ManualReload(t *testing.T) {
	reloader, cfgPath, _ := newReloaderFor(t, "info")
	sub := &testSubscriber{}
	reloader.Register(sub)

	var results []string
	reloader.OnResult = func(r string) { results = append(results, r) }

	writeConfigWithLevel(t, cfgPath, "debug")

	changes, err := reloader.Reload()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(changes) != 1 || changes[0].Field != "logging.level" {
		t.Errorf("changes = %+v, want only logging.level", changes)
	}
	if sub.callCount() != 1 {
		t.Errorf("subscriber called %d times, want 1", sub.callCount())
	}
	if sub.lastConfig().Logging.Level != "debug" {
		t.Errorf("subscriber got logging.level=%q, want debug", sub.lastConfig().Logging.Level)
	}
	if reloader.Current().Logging.Level != "debug" {
		t.Errorf("current logging.level=%q, want debug", reloader.Current().Logging.Level)
	}
	if len(results) != 1 || results[0] != "success" {
		t.Errorf("results = %v, want [success]", results)
	}
}

func TestReloader_InvalidConfigRetainsOld(t *testing.T) {
	reloader, cfgPath, _ := newReloaderFor(t, "info")
	sub := &testSubscriber{}
	reloader.Register(sub)

	if err := os.WriteFile(cfgPath, []byte("agents: []\n"), 0644); err != nil {
		t.Fatalf("writing invalid config: %v", err)
	}

	if _, err := reloader.Reload(); err == nil {
		t.Fatal("expected error for invalid config")
	}
	if sub.callCount() != 0 {
		t.Errorf("subscriber called %d times on invalid reload, want 0", sub.callCount())
	}
	if got := reloader.Current(); got.Agents[0].URL != "http://localhost:8001" {
		t.Errorf("config should be retained, got URL %q", got.Agents[0].URL)
	}
}

func TestReloader_NoChanges_NoNotification(t *testing.T) {
	reloader, _, logBuf := newReloaderFor(t, "info")
	sub := &testSubscriber{}
	reloader.Register(sub)

	if _, err := reloader.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if sub.callCount() != 0 {
		t.Errorf("subscriber called %d times with no changes, want 0", sub.callCount())
	}
	if !strings.Contains(logBuf.String(), "no changes detected") {
		t.Error("expected 'no changes detected' log message")
	}
}

func TestReloader_AgentChangeWarned(t *testing.T) {
	reloader, cfgPath, logBuf := newReloaderFor(t, "info")

	content := `agents:
  - name: blog_agent
    url: http://localhost:9999
logging:
  level: info
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := reloader.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !strings.Contains(logBuf.String(), "requires restart") {
		t.Error("expected warning about agent change requiring restart")
	}
}

func TestReloader_SubscriberError_ContinuesOthers(t *testing.T) {
	reloader, cfgPath, logBuf := newReloaderFor(t, "info")

	errSub := &testSubscriber{returnErr: fmt.Errorf("subscriber broke")}
	okSub := &testSubscriber{}
	reloader.Register(errSub)
	reloader.Register(okSub)

	writeConfigWithLevel(t, cfgPath, "warn")
	if _, err := reloader.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if errSub.callCount() != 1 || okSub.callCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", errSub.callCount(), okSub.callCount())
	}
	if !strings.Contains(logBuf.String(), "subscriber reload failed") {
		t.Error("expected log entry for failed subscriber")
	}
}

func TestReloader_ReloadFuncAdapter(t *testing.T) {
	reloader, cfgPath, _ := newReloaderFor(t, "info")
	var got string
	reloader.Register(ReloadFunc(func(c *Config) error {
		got = c.Logging.Level
		return nil
	}))
	writeConfigWithLevel(t, cfgPath, "error")
	if _, err := reloader.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got != "error" {
		t.Errorf("ReloadFunc saw level %q, want error", got)
	}
}

func TestReloader_KeepsAgentMode(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "node.yaml")
	write := func(level string) {
		content := fmt.Sprintf("card:\n  name: n\nnode:\n  command: [cat]\nlogging:\n  level: %s\n", level)
		if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
			t.Fatalf("writing config: %v", err)
		}
	}
	write("info")
	initialCfg, err := LoadMode(cfgPath, ModeAgent)
	if err != nil {
		t.Fatalf("LoadMode: %v", err)
	}
	logger, _ := newTestLogger()
	reloader := NewReloader(cfgPath, initialCfg, logger)

	write("debug")
	if _, err := reloader.Reload(); err != nil {
		t.Fatalf("reload in agent mode failed: %v", err)
	}
	if reloader.Current().Mode != ModeAgent {
		t.Errorf("Mode = %q after reload, want agent", reloader.Current().Mode)
	}
}

func TestReloader_SIGHUP(t *testing.T) {
	reloader, cfgPath, _ := newReloaderFor(t, "info")
	reloader.watchFile = false

	sub := &testSubscriber{}
	reloader.Register(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer reloader.Stop()

	writeConfigWithLevel(t, cfgPath, "debug")

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("finding process: %v", err)
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		t.Fatalf("sending SIGHUP: %v", err)
	}

	waitForCalls(t, sub, 1)
	if got := reloader.Current().Logging.Level; got != "debug" {
		t.Errorf("after SIGHUP, logging.level = %q, want debug", got)
	}
}

func TestReloader_FileWatch(t *testing.T) {
	reloader, cfgPath, _ := newReloaderFor(t, "info")
	reloader.watchFile = true
	reloader.debounce = 100 * time.Millisecond

	sub := &testSubscriber{}
	reloader.Register(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer reloader.Stop()

	time.Sleep(50 * time.Millisecond)
	writeConfigWithLevel(t, cfgPath, "warn")

	waitForCalls(t, sub, 1)
	if got := reloader.Current().Logging.Level; got != "warn" {
		t.Errorf("after file change, logging.level = %q, want warn", got)
	}
}

func TestReloader_FileWatchAtomicReplace(t *testing.T) {
	reloader, cfgPath, _ := newReloaderFor(t, "info")
	reloader.watchFile = true
	reloader.debounce = 100 * time.Millisecond

	sub := &testSubscriber{}
	reloader.Register(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer reloader.Stop()

	time.Sleep(50 * time.Millisecond)
	tmp := filepath.Join(filepath.Dir(cfgPath), "next.yaml")
	writeConfigWithLevel(t, tmp, "error")
	if err := os.Rename(tmp, cfgPath); err != nil {
		t.Fatalf("rename: %v", err)
	}

	waitForCalls(t, sub, 1)
	if got := reloader.Current().Logging.Level; got != "error" {
		t.Errorf("after replace, logging.level = %q, want error", got)
	}
}

func TestReloader_StartMissingFile(t *testing.T) {
	cfg := &Config{}
	cfg.Reload.WatchFile = true
	logger, _ := newTestLogger()
	reloader := NewReloader(filepath.Join(t.TempDir(), "missing.yaml"), cfg, logger)
	if err := reloader.Start(context.Background()); err == nil {
		reloader.Stop()
		t.Fatal("expected error watching a missing file")
	}
}

func TestReloader_StopWithoutStart(t *testing.T) {
	reloader, _, _ := newReloaderFor(t, "info")
	reloader.Stop()
}
