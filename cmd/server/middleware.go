package main

import (
	"net/http"

	"github.com/blueberrycongee/embedcache/internal/metrics"
	"github.com/blueberrycongee/embedcache/internal/observability"
)

// wrapMiddleware applies metrics and request ID handling. The request ID is
// outermost so every later layer sees it.
func wrapMiddleware(next http.Handler) http.Handler {
	handler := metrics.Middleware(next)
	handler = observability.RequestIDMiddleware(handler)
	return handler
}
