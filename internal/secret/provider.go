// Package secret resolves credential references such as "env://OPENAI_API_KEY"
// or "vault://secret/data/openai#api_key" into their values.
package secret

import "context"

// Provider is one secret backend, addressed by the part of a reference
// after "<scheme>://".
type Provider interface {
	Get(ctx context.Context, path string) (string, error)
	Close() error
}
