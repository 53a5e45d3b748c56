package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloadable is implemented by components that can update their config at runtime.
type Reloadable interface {
	// OnConfigReload is called after a valid config with at least one change
	// has been stored. Errors are logged; other subscribers are still notified.
	OnConfigReload(newCfg *Config) error
}

// ReloadFunc adapts a function to Reloadable.
type ReloadFunc func(newCfg *Config) error

// OnConfigReload calls f(newCfg).
func (f ReloadFunc) OnConfigReload(newCfg *Config) error { return f(newCfg) }

// Reloader watches for config changes and coordinates reloads.
// It supports SIGHUP signals and optional file-system watching with debounce.
type Reloader struct {
	configPath string
	mode       string
	current    atomic.Pointer[Config]
	logger     *slog.Logger
	debounce   time.Duration
	watchFile  bool

	// OnResult, if set, observes every reload attempt ("success", "invalid", "noop").
	OnResult func(result string)

	mu          sync.RWMutex
	subscribers []Reloadable
	cancel      context.CancelFunc
	watcher     *fsnotify.Watcher
	stopped     chan struct{}
	sigChan     chan os.Signal
}

// NewReloader creates a Reloader for the given config file path.
// Reloads keep initialCfg's mode.
func NewReloader(configPath string, initialCfg *Config, logger *slog.Logger) *Reloader {
	r := &Reloader{
		configPath: configPath,
		mode:       initialCfg.Mode,
		logger:     logger,
		debounce:   initialCfg.Reload.Debounce.Duration,
		watchFile:  initialCfg.Reload.WatchFile && configPath != "",
		stopped:    make(chan struct{}),
	}
	r.current.Store(initialCfg)
	return r
}

// Register adds a component to receive reload notifications.
func (r *Reloader) Register(sub Reloadable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, sub)
}

// Current returns the current active configuration. Safe for concurrent use.
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// Start begins watching for config changes via SIGHUP and optional file
// watching. It returns immediately; the watch loop runs until ctx is
// cancelled or Stop is called.
func (r *Reloader) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.sigChan = make(chan os.Signal, 1)
	signal.Notify(r.sigChan, syscall.SIGHUP)

	if r.watchFile {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			signal.Stop(r.sigChan)
			return fmt.Errorf("creating file watcher: %w", err)
		}
		// The directory is watched so that editors and deploy tools that
		// replace the file atomically keep triggering reloads.
		if _, err := os.Stat(r.configPath); err != nil {
			watcher.Close()
			signal.Stop(r.sigChan)
			return fmt.Errorf("watching config file %q: %w", r.configPath, err)
		}
		if err := watcher.Add(filepath.Dir(r.configPath)); err != nil {
			watcher.Close()
			signal.Stop(r.sigChan)
			return fmt.Errorf("watching config dir of %q: %w", r.configPath, err)
		}
		r.watcher = watcher
		r.logger.Info("config file watcher started", "path", r.configPath, "debounce", r.debounce)
	}

	go r.run(ctx)
	return nil
}

// Stop shuts down the reloader, stopping signal and file watchers.
func (r *Reloader) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.stopped
}

// Reload reads the config file, validates it, diffs it against the current
// config, warns about changes that need a restart, and notifies subscribers.
// An invalid file leaves the current config in place and returns the error.
func (r *Reloader) Reload() ([]Change, error) {
	r.logger.Info("config reload triggered", "path", r.configPath)

	newCfg, err := LoadMode(r.configPath, r.mode)
	if err != nil {
		r.logger.Error("config reload failed: invalid config, keeping current",
			"error", err,
			"path", r.configPath,
		)
		r.observe("invalid")
		return nil, fmt.Errorf("config reload: %w", err)
	}

	changes := Diff(r.current.Load(), newCfg)
	if len(changes) == 0 {
		r.logger.Info("config reload: no changes detected")
		r.observe("noop")
		return nil, nil
	}

	restart := 0
	for _, c := range changes {
		attrs := []any{
			"field", c.Field,
			"old", fmt.Sprintf("%v", c.OldValue),
			"new", fmt.Sprintf("%v", c.NewValue),
		}
		if c.Reloadable {
			r.logger.Info("config change applied", attrs...)
		} else {
			restart++
			r.logger.Warn("config change requires restart (ignored)", attrs...)
		}
	}
	if restart > 0 {
		r.logger.Warn("some config changes require a restart to take effect", "count", restart)
	}

	r.current.Store(newCfg)

	r.mu.RLock()
	subs := make([]Reloadable, len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.OnConfigReload(newCfg); err != nil {
			r.logger.Error("subscriber reload failed",
				"error", err,
				"subscriber", fmt.Sprintf("%T", sub),
			)
		}
	}

	r.logger.Info("config reloaded", "changes", len(changes), "path", r.configPath)
	r.observe("success")
	return changes, nil
}

func (r *Reloader) observe(result string) {
	if r.OnResult != nil {
		r.OnResult(result)
	}
}

// run is the main loop that listens for SIGHUP and file change events.
func (r *Reloader) run(ctx context.Context) {
	defer close(r.stopped)
	defer signal.Stop(r.sigChan)
	if r.watcher != nil {
		defer r.watcher.Close()
	}

	var (
		debounceTimer *time.Timer
		debounceCh    <-chan time.Time
		target        = filepath.Clean(r.configPath)
	)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case sig := <-r.sigChan:
			r.logger.Info("received signal, reloading config", "signal", sig)
			if _, err := r.Reload(); err != nil {
				r.logger.Error("SIGHUP reload failed", "error", err)
			}

		case event, ok := <-r.watcherEvents():
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.NewTimer(r.debounce)
				debounceCh = debounceTimer.C
			}

		case err, ok := <-r.watcherErrors():
			if !ok {
				return
			}
			r.logger.Error("file watcher error", "error", err)

		case <-debounceCh:
			debounceCh = nil
			debounceTimer = nil
			r.logger.Info("config file changed, reloading", "path", r.configPath)
			if _, err := r.Reload(); err != nil {
				r.logger.Error("file watch reload failed", "error", err)
			}
		}
	}
}

// watcherEvents returns the watcher's event channel, or a nil channel if no watcher.
func (r *Reloader) watcherEvents() <-chan fsnotify.Event {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Events
}

// watcherErrors returns the watcher's error channel, or a nil channel if no watcher.
func (r *Reloader) watcherErrors() <-chan error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Errors
}
