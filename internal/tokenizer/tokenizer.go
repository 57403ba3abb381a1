// Package tokenizer counts tokens in embedding inputs.
//
// Estimate is the heuristic used for input validation. Counter gives exact
// counts with tiktoken when an encoding can be loaded for the model.
package tokenizer

import (
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is shared by every OpenAI embedding model.
const fallbackEncoding = "cl100k_base"

// Estimate returns ceil(length/4), where length counts UTF-16 code units:
// characters outside the Basic Multilingual Plane (most emoji) count twice.
func Estimate(text string) int {
	return (utf16Len(text) + 3) / 4
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// Estimator counts tokens with Estimate.
type Estimator struct{}

func (Estimator) CountTokens(text string) int {
	return Estimate(text)
}

// Counter counts tokens with the tiktoken encoding of one model. The
// encoding is loaded on first use; when none can be loaded (unknown model,
// no network for the BPE download) Counter degrades to Estimate.
type Counter struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewCounter returns a Counter for model. Provider prefixes such as
// "azure/" are ignored.
func NewCounter(model string) *Counter {
	return &Counter{model: baseModel(model)}
}

// CountTokens returns the token count of text.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(c.load)
	if c.enc == nil {
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Exact reports whether counts come from tiktoken rather than the estimate.
func (c *Counter) Exact() bool {
	c.once.Do(c.load)
	return c.enc != nil
}

func (c *Counter) load() {
	if enc, err := tiktoken.EncodingForModel(c.model); err == nil {
		c.enc = enc
		return
	}
	if enc, err := tiktoken.GetEncoding(fallbackEncoding); err == nil {
		c.enc = enc
	}
}

func baseModel(model string) string {
	if i := strings.LastIndexByte(model, '/'); i >= 0 && i < len(model)-1 {
		return model[i+1:]
	}
	return model
}
