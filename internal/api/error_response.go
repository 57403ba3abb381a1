package api //nolint:revive // package name is intentional

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/embedcache/pkg/errors"
)

// ErrorResponse is the OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Message: message, Type: errType}})
}

// writeEmbeddingError maps pipeline failures onto the error envelope.
// Messages of non-validation failures are not forwarded to the caller.
func writeEmbeddingError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if stderrors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "timeout_error", "embedding request timed out")
		return
	}
	var embErr *errors.EmbeddingError
	if !stderrors.As(err, &embErr) {
		logger.Error("embedding request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	status := embErr.HTTPStatusCode()
	message := embErr.Message
	errType := "invalid_request_error"
	switch embErr.Code {
	case errors.CodeRateLimit:
		errType = "rate_limit_error"
	case errors.CodeInvalidAPIKey:
		// Upstream credentials are ours, not the caller's.
		status = http.StatusBadGateway
		errType = "upstream_error"
		message = "upstream provider rejected credentials"
	case errors.CodeGeneric:
		errType = "upstream_error"
		status = http.StatusBadGateway
		message = "embedding provider request failed"
	}

	logger.Warn("embedding request failed", "code", embErr.Code, "status", status, "error", err)
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{
		Message: message,
		Type:    errType,
		Code:    string(embErr.Code),
	}})
}
