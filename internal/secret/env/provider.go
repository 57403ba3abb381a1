// Package env reads secrets from environment variables.
//
// A reference "env://NAME" resolves to $NAME. When NAME is unset and
// NAME_FILE is set, the secret is read from that file instead, which is how
// Docker and Kubernetes secrets are usually mounted.
package env

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider implements secret.Provider for environment variables.
type Provider struct {
	lookup   func(string) (string, bool)
	readFile func(string) ([]byte, error)
}

func New() *Provider {
	return &Provider{lookup: os.LookupEnv, readFile: os.ReadFile}
}

// Get returns the value named by path with surrounding whitespace removed.
func (p *Provider) Get(_ context.Context, path string) (string, error) {
	val, ok := p.lookup(path)
	if !ok {
		file, fileOK := p.lookup(path + "_FILE")
		if !fileOK {
			return "", fmt.Errorf("environment variable %q not set", path)
		}
		data, err := p.readFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s_FILE: %w", path, err)
		}
		val = string(data)
	}

	val = strings.TrimSpace(val)
	if val == "" {
		return "", fmt.Errorf("environment variable %q is empty", path)
	}
	return val, nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}
