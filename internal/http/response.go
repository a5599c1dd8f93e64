package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"orti/internal/amqp"
	"orti/internal/core"
	applog "orti/internal/log"
	"orti/internal/middleware/recovery"
	"orti/internal/sheets"
)

var (
	// errBadRequest marks bodies and parameters that could not be parsed.
	errBadRequest = errors.New("bad request")

	// errQueueUnavailable means no job publisher is configured or the
	// broker circuit is open.
	errQueueUnavailable = errors.New("import queue unavailable")
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

const (
	errTypeBadRequest  = "bad_request"
	errTypeNotFound    = "not_found"
	errTypeInvalid     = "invalid_value"
	errTypeUnreadable  = "unreadable_source"
	errTypeConflict    = "conflict"
	errTypeUnavailable = "unavailable"
	errTypeRateLimited = "rate_limited"
	errTypeInternal    = "internal"
)

// statusFor maps domain errors to an HTTP status and error type.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, errTypeBadRequest
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrUnresolvedLabel):
		return http.StatusNotFound, errTypeNotFound
	case errors.Is(err, sheets.ErrUnreadableSource):
		return http.StatusUnprocessableEntity, errTypeUnreadable
	case errors.Is(err, core.ErrInvalidValue):
		return http.StatusUnprocessableEntity, errTypeInvalid
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, errTypeConflict
	case errors.Is(err, core.ErrBackingStoreUnavailable),
		errors.Is(err, errQueueUnavailable),
		errors.Is(err, amqp.ErrCircuitOpen):
		return http.StatusServiceUnavailable, errTypeUnavailable
	}
	return http.StatusInternalServerError, errTypeInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the status mapped from err. Server-side failures
// are logged and reported to Sentry; their message is not echoed back.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	msg := err.Error()
	logger := applog.FromContext(r.Context())

	switch {
	case status >= http.StatusInternalServerError:
		logger.ErrorContext(r.Context(), "Request failed",
			applog.FieldError, err.Error(),
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, status)
		recovery.CaptureError(r, status, err)
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	default:
		logger.DebugContext(r.Context(), "Request rejected",
			applog.FieldError, err.Error(),
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, status)
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Type: kind})
}

func (s *Server) writeRateLimited(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error: "rate limit exceeded, please try again later",
		Type:  errTypeRateLimited,
	})
}

func (s *Server) writePanic(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: http.StatusText(http.StatusInternalServerError),
		Type:  errTypeInternal,
	})
}
