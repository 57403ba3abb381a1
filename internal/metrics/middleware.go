package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request count and latency. The route label is the
// matched ServeMux pattern and the cache label is the X-Cache outcome the
// embeddings handler reports, so hit ratios can be read per route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := sanitizeLabel(r.Pattern)
		HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status), cacheOutcome(w.Header())).Inc()
		HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func cacheOutcome(h http.Header) string {
	switch v := h.Get("X-Cache"); v {
	case "HIT", "MISS", "PARTIAL":
		return strings.ToLower(v)
	default:
		return "none"
	}
}

const maxLabelLen = 64

// sanitizeLabel bounds a label value to printable pattern characters.
func sanitizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > maxLabelLen {
		v = v[:maxLabelLen]
	}
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("-_.:/ {}", r):
			return r
		}
		return '_'
	}, v)
	out = strings.Trim(out, "_ ")
	if out == "" {
		return "unknown"
	}
	return out
}
