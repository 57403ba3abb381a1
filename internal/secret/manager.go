package secret

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Manager routes references to providers by URI scheme.
type Manager struct {
	providers map[string]*CachedProvider
	ttl       time.Duration
	mu        sync.RWMutex
}

// NewManager creates a manager whose providers cache values for ttl.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		providers: make(map[string]*CachedProvider),
		ttl:       ttl,
	}
}

// Register registers a provider for a scheme such as "vault" or "env".
func (m *Manager) Register(scheme string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[scheme] = NewCachedProvider(provider, m.ttl)
}

// IsReference reports whether value uses the scheme://path form.
func IsReference(value string) bool {
	scheme, _, ok := strings.Cut(value, "://")
	return ok && scheme != "" && !strings.ContainsAny(scheme, " /")
}

// Get resolves ref. Values without a scheme are returned unchanged.
func (m *Manager) Get(ctx context.Context, ref string) (string, error) {
	if !IsReference(ref) {
		return ref, nil
	}
	scheme, path, _ := strings.Cut(ref, "://")

	m.mu.RLock()
	provider, ok := m.providers[scheme]
	m.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("no secret provider registered for scheme: %s", scheme)
	}

	val, err := provider.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret: %w", scheme, err)
	}
	return val, nil
}

// Refresh forgets every cached value so the next Get refetches it.
func (m *Manager) Refresh() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		p.Forget("")
	}
}

// Close closes all registered providers.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []string
	for scheme, p := range m.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", scheme, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to close providers: %s", strings.Join(errs, "; "))
	}
	return nil
}
