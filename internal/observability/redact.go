package observability

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Redactor masks credentials in log output: provider keys, Vault tokens,
// bearer and api-key headers, Redis URL passwords and any literal secret
// registered with AddSecret.
type Redactor struct {
	mu      sync.RWMutex
	rules   []redactRule
	secrets *strings.Replacer
	values  []string
}

type redactRule struct {
	re   *regexp.Regexp
	repl string
}

var defaultRules = []redactRule{
	{regexp.MustCompile(`sk-proj-[A-Za-z0-9\-_]{20,}`), "[REDACTED_OPENAI_PROJECT_KEY]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[REDACTED_OPENAI_KEY]"},
	{regexp.MustCompile(`hv[sbr]\.[A-Za-z0-9\-_]{20,}`), "[REDACTED_VAULT_TOKEN]"},
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-_.]+`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)(authorization|api-key):\s*(?:(?:basic|bearer)\s+)?\S+`), "$1: [REDACTED]"},
	{regexp.MustCompile(`(rediss?://[^:/@\s]*:)[^@\s]+@`), "${1}[REDACTED]@"},
}

// minSecretLen keeps short values such as "true" or port numbers from
// being treated as secrets.
const minSecretLen = 8

// NewRedactor returns a Redactor with the default rules.
func NewRedactor() *Redactor {
	return &Redactor{rules: append([]redactRule(nil), defaultRules...)}
}

// AddPattern adds a regular expression rule.
func (r *Redactor) AddPattern(pattern, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile redaction pattern: %w", err)
	}
	r.mu.Lock()
	r.rules = append(r.rules, redactRule{re: re, repl: replacement})
	r.mu.Unlock()
	return nil
}

// AddSecret masks every literal occurrence of value, such as a resolved
// admin token. Values shorter than eight bytes are ignored.
func (r *Redactor) AddSecret(value string) {
	if len(value) < minSecretLen {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, value)
	pairs := make([]string, 0, 2*len(r.values))
	for _, v := range r.values {
		pairs = append(pairs, v, "[REDACTED]")
	}
	r.secrets = strings.NewReplacer(pairs...)
}

// Redact applies literal secrets first, then every rule.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.secrets != nil {
		s = r.secrets.Replace(s)
	}
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return s
}

// sensitiveKey reports whether an attribute name names a credential.
// Words are matched whole, so "total_tokens" is not sensitive but "admin_token" is.
func sensitiveKey(key string) bool {
	key = strings.ToLower(key)
	if strings.Contains(key, "api_key") || strings.Contains(key, "api-key") {
		return true
	}
	for _, w := range strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == '.' }) {
		switch w {
		case "apikey", "token", "secret", "password", "authorization":
			return true
		}
	}
	return false
}
