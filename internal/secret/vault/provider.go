// Package vault reads secrets from HashiCorp Vault KV engines.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	vault "github.com/hashicorp/vault/api"
)

// defaultKey is read when a reference names no field.
const defaultKey = "value"

// loginAttempts bounds retries of a login that failed on a 5xx or transport error.
const loginAttempts = 3

// Provider implements secret.Provider for HashiCorp Vault.
// Tokens obtained by approle or cert login are renewed in the background
// and re-acquired by logging in again once they can no longer be renewed.
type Provider struct {
	client *vault.Client
	cfg    Config
	logger *slog.Logger

	stop chan struct{}
	done sync.WaitGroup
}

// Config holds connection and authentication settings.
type Config struct {
	Address    string `yaml:"address"`
	Namespace  string `yaml:"namespace"`
	AuthMethod string `yaml:"auth_method"` // token (default), approle, cert
	Token      string `yaml:"token"`
	RoleID     string `yaml:"role_id"`
	SecretID   string `yaml:"secret_id"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

func (c Config) method() string {
	if c.AuthMethod == "" {
		return "token"
	}
	return c.AuthMethod
}

func (c Config) tls() *vault.TLSConfig {
	if c.ClientCert == "" && c.ClientKey == "" && c.CACert == "" {
		return nil
	}
	return &vault.TLSConfig{ClientCert: c.ClientCert, ClientKey: c.ClientKey, CACert: c.CACert}
}

// New creates a Vault provider and authenticates it.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vc := vault.DefaultConfig()
	vc.Address = cfg.Address
	// Logins retry in login; reads fail fast and the secret manager caches them.
	vc.MaxRetries = 0
	if tls := cfg.tls(); tls != nil {
		if err := vc.ConfigureTLS(tls); err != nil {
			return nil, fmt.Errorf("configure vault tls: %w", err)
		}
	}
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	p := &Provider{client: client, cfg: cfg, logger: logger, stop: make(chan struct{})}

	if cfg.method() == "token" {
		if cfg.Token == "" {
			return nil, errors.New("vault token auth requires a token")
		}
		client.SetToken(cfg.Token)
		return p, nil
	}

	auth, err := p.login(context.Background())
	if err != nil {
		return nil, err
	}
	p.done.Add(1)
	go p.keepAlive(auth)
	return p, nil
}

// login performs the configured auth method, retrying server-side failures.
func (p *Provider) login(ctx context.Context) (*vault.SecretAuth, error) {
	var path string
	var body map[string]any
	switch p.cfg.method() {
	case "approle":
		path = "auth/approle/login"
		body = map[string]any{"role_id": p.cfg.RoleID, "secret_id": p.cfg.SecretID}
	case "cert":
		path = "auth/cert/login"
	default:
		return nil, fmt.Errorf("unknown vault auth method: %s", p.cfg.AuthMethod)
	}

	var auth *vault.SecretAuth
	op := func() error {
		s, err := p.client.Logical().WriteWithContext(ctx, path, body)
		if err != nil {
			var respErr *vault.ResponseError
			if errors.As(err, &respErr) && respErr.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}
		if s == nil || s.Auth == nil || s.Auth.ClientToken == "" {
			return backoff.Permanent(errors.New("vault login returned no auth info"))
		}
		auth = s.Auth
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, loginAttempts-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("vault login (%s): %w", p.cfg.method(), err)
	}
	p.client.SetToken(auth.ClientToken)
	return auth, nil
}

// keepAlive renews auth until it expires, then logs in again.
func (p *Provider) keepAlive(auth *vault.SecretAuth) {
	defer p.done.Done()
	for {
		if !p.watch(auth) {
			return
		}
		next, err := p.login(context.Background())
		if err != nil {
			p.logger.Error("vault re-login failed, secrets will be served from cache until restart", "error", err)
			return
		}
		p.logger.Info("vault token re-acquired", "method", p.cfg.method())
		auth = next
	}
}

// watch blocks while auth stays valid. It reports whether a new login is needed.
func (p *Provider) watch(auth *vault.SecretAuth) bool {
	if !auth.Renewable {
		timer := time.NewTimer(leaseRemaining(auth))
		defer timer.Stop()
		select {
		case <-p.stop:
			return false
		case <-timer.C:
			return true
		}
	}

	watcher, err := p.client.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
		Secret: &vault.Secret{Auth: auth},
	})
	if err != nil {
		p.logger.Error("vault lifetime watcher", "error", err)
		return false
	}
	go watcher.Start()
	defer watcher.Stop()

	for {
		select {
		case <-p.stop:
			return false
		case err := <-watcher.DoneCh():
			if err != nil {
				p.logger.Warn("vault token renewal stopped", "error", err)
			}
			return true
		case <-watcher.RenewCh():
			p.logger.Debug("vault token renewed")
		}
	}
}

// leaseRemaining is how long a non-renewable token should be used before
// logging in again: 90% of its lease, or forever when the lease is unbounded.
func leaseRemaining(auth *vault.SecretAuth) time.Duration {
	if auth.LeaseDuration <= 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(auth.LeaseDuration) * time.Second * 9 / 10
}

// ref is a parsed "mount/path#key" secret reference.
type ref struct {
	path string
	key  string
}

func parseRef(s string) (ref, error) {
	r := ref{path: s, key: defaultKey}
	if i := strings.LastIndex(s, "#"); i != -1 {
		r.path, r.key = s[:i], s[i+1:]
	}
	r.path = strings.Trim(r.path, "/")
	if r.path == "" {
		return ref{}, fmt.Errorf("vault reference %q has no path", s)
	}
	if r.key == "" {
		return ref{}, fmt.Errorf("vault reference %q has an empty key", s)
	}
	return r, nil
}

// Get reads a secret. The reference format is "mount/path#key"; key defaults to "value".
// KV v1 and v2 payloads are both accepted.
func (p *Provider) Get(ctx context.Context, reference string) (string, error) {
	r, err := parseRef(reference)
	if err != nil {
		return "", err
	}

	s, err := p.client.Logical().ReadWithContext(ctx, r.path)
	if err != nil {
		return "", fmt.Errorf("read vault secret %q: %w", r.path, err)
	}
	if s == nil || s.Data == nil {
		return "", fmt.Errorf("secret %q not found", r.path)
	}

	fields := s.Data
	if nested, ok := fields["data"].(map[string]any); ok {
		fields = nested
	}

	raw, ok := fields[r.key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", r.key, r.path)
	}
	val, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("key %q in secret %q is %T, want string", r.key, r.path, raw)
	}
	return strings.TrimSpace(val), nil
}

// Close stops background token maintenance.
func (p *Provider) Close() error {
	close(p.stop)
	p.done.Wait()
	return nil
}
