package web

// errors.go provides unified error response handling for the web layer.
//
// Handlers call respondError with the technical error; the full detail is
// logged with the request ID for correlation and the client receives a
// sanitized JSON envelope. Sentinel errors from the domain packages map to
// their HTTP status here, in one place.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fabworks/bomcheck/internal/bom"
	"github.com/fabworks/bomcheck/internal/logging"
	"github.com/fabworks/bomcheck/internal/sheet"
	"github.com/fabworks/bomcheck/internal/store"
	"github.com/fabworks/bomcheck/internal/stream"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// respondError logs err and writes its client-facing message with the
// status mapped from the error type.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classifyError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err,
	)

	writeError(w, status, message)
}

// classifyError maps domain sentinel errors to an HTTP status and a safe
// client message. Unknown errors stay generic 500s so internal detail never
// leaks to the client.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, sheet.ErrParse):
		return http.StatusInternalServerError, err.Error()
	case errors.Is(err, bom.ErrNoPartNumberMapping):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "uploaded file not found, upload it again"
	case errors.Is(err, store.ErrBadName):
		return http.StatusBadRequest, "invalid file name"
	case errors.Is(err, stream.ErrTooManyStreams):
		return http.StatusTooManyRequests, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError writes a JSON error envelope with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// writeJSON encodes v as JSON. Encoding errors are logged since headers are
// already sent.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", "error", err)
	}
}
