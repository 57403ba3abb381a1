// Package httputil reads upstream HTTP payloads with a size cap.
package httputil

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// MaxEmbeddingResponseBytes caps provider responses. A full batch of
// 2048 large vectors encodes to well under this.
const MaxEmbeddingResponseBytes int64 = 256 << 20

// ErrBodyTooLarge is returned when a body exceeds the cap.
var ErrBodyTooLarge = errors.New("response body too large")

// ReadLimited reads at most limit bytes from r. A non-positive limit reads everything.
// When the body is longer, the first limit bytes are returned with ErrBodyTooLarge.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}

	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > limit {
		return body[:limit], ErrBodyTooLarge
	}
	return body, nil
}

// DecodeJSON reads up to limit bytes from r into v.
func DecodeJSON(r io.Reader, limit int64, v any) error {
	body, err := ReadLimited(r, limit)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
