package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the live configuration. Readers get an immutable *Config via
// Get; reloads replace it atomically and notify OnChange subscribers.
type Manager struct {
	current  atomic.Pointer[Config]
	path     string
	logger   *slog.Logger
	debounce time.Duration

	watchMu sync.Mutex
	watcher *fsnotify.Watcher

	mu        sync.Mutex
	listeners []func(*Config)
	status    Status
}

// Status describes the currently loaded configuration.
type Status struct {
	Path        string    `json:"path"`
	Checksum    string    `json:"checksum"`
	LoadedAt    time.Time `json:"loaded_at"`
	ReloadCount int       `json:"reload_count"`
	// PendingRestart lists sections changed on disk that only take effect
	// after the process restarts.
	PendingRestart []string `json:"pending_restart,omitempty"`
}

// NewManager loads path and returns a manager for it.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{path: path, logger: logger, debounce: 500 * time.Millisecond}

	cfg, sum, err := m.read()
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	m.status = Status{Path: path, Checksum: sum, LoadedAt: time.Now(), ReloadCount: 1}
	return m, nil
}

// Get returns the current configuration. Callers must not modify it.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// OnChange registers fn to run after every reload that changed the file.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Status returns the path, checksum and load history of the configuration.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.PendingRestart = append([]string(nil), s.PendingRestart...)
	return s
}

// Reload re-reads the file and publishes it. An invalid file leaves the
// current configuration in place; an unchanged file is a no-op.
func (m *Manager) Reload() error {
	next, sum, err := m.read()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if sum == m.status.Checksum {
		m.mu.Unlock()
		return nil
	}
	pending := mergeSections(m.status.PendingRestart, RestartRequired(m.current.Load(), next))
	m.current.Store(next)
	m.status.Checksum = sum
	m.status.LoadedAt = time.Now()
	m.status.ReloadCount++
	m.status.PendingRestart = pending
	listeners := append([]func(*Config){}, m.listeners...)
	m.mu.Unlock()

	if len(pending) > 0 {
		m.logger.Warn("configuration sections changed that need a restart", "sections", pending)
	}
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

func (m *Manager) read() (*Config, string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, "", fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(data)
	return cfg, hex.EncodeToString(sum[:]), nil
}

// Watch reloads the file when it changes until ctx is canceled. The parent
// directory is watched so that atomic replaces (rename over the file, or a
// Kubernetes ConfigMap symlink swap) are seen as well as in-place writes.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	m.watchMu.Lock()
	m.watcher = w
	m.watchMu.Unlock()

	go m.watch(ctx, w)
	return nil
}

func (m *Manager) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close() //nolint:errcheck // shutting down

	name := filepath.Base(m.path)
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !relevant(ev, name) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(m.debounce, m.reloadFromWatch)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// relevant reports whether ev may have changed the watched file. ConfigMap
// mounts swap a "..data" symlink rather than touching the file itself.
func relevant(ev fsnotify.Event, name string) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(ev.Name)
	return base == name || base == "..data"
}

func (m *Manager) reloadFromWatch() {
	before := m.Status().Checksum
	if err := m.Reload(); err != nil {
		m.logger.Error("failed to reload config, keeping current", "error", err)
		return
	}
	if after := m.Status().Checksum; after != before {
		m.logger.Info("configuration reloaded", "checksum", after)
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watcher == nil {
		return nil
	}
	err := m.watcher.Close()
	m.watcher = nil
	return err
}

// RestartRequired names the sections that differ between prev and next and
// are only read at startup.
func RestartRequired(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	checks := []struct {
		section string
		a, b    any
	}{
		{"server", prev.Server, next.Server},
		{"cache.enabled", prev.Cache.Enabled, next.Cache.Enabled},
		{"cache.prefix", prev.Cache.Prefix, next.Cache.Prefix},
		{"cache.memory", prev.Cache.Memory, next.Cache.Memory},
		{"cache.redis", prev.Cache.Redis, next.Cache.Redis},
		{"secrets", prev.Secrets, next.Secrets},
		{"logging", prev.Logging, next.Logging},
		{"metrics", prev.Metrics, next.Metrics},
		{"tracing", prev.Tracing, next.Tracing},
	}
	var out []string
	for _, c := range checks {
		if !reflect.DeepEqual(c.a, c.b) {
			out = append(out, c.section)
		}
	}
	return out
}

func mergeSections(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
