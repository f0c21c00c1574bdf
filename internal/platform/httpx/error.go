package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orderflow/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
)

// Error is an API failure rendered as the JSON envelope
// {"error": code, "message": ..., "status": ..., "request_id": ..., "trace_id": ...}.
// Detail keys are merged into the top level of the envelope.
type Error struct {
	Code       string
	Message    string
	Status     int
	RetryAfter int
	Details    map[string]any
}

type envelope struct {
	Code      string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// NewError builds an Error; a zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, maxCodeLength),
		Message: singleLine(message, maxMessageLength),
		Status:  status,
	}
}

// BadRequest is the invalid_request error used for malformed input.
func BadRequest(message string) Error {
	return NewError("invalid_request", message, http.StatusBadRequest)
}

func (e Error) Error() string {
	return strconv.Itoa(e.Status) + " " + e.Code + ": " + e.Message
}

// WithDetails copies details into the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WithRetryAfter marks the error retryable and emits a Retry-After header.
func (e Error) WithRetryAfter(seconds int) Error {
	e.RetryAfter = seconds
	return e.WithDetails(map[string]any{"retryable": true})
}

// WriteError renders err, stamping the chi request id and the trace id from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	env := envelope{
		Code:      err.Code,
		Message:   err.Message,
		Status:    err.Status,
		RequestID: singleLine(middleware.GetReqID(ctx), maxCodeLength),
		TraceID:   singleLine(requestctx.TraceID(ctx), 64),
	}

	var body any = env
	if len(err.Details) > 0 {
		flat := make(map[string]any, len(err.Details)+5)
		for k, v := range err.Details {
			flat[k] = v
		}
		raw, _ := json.Marshal(env)
		var base map[string]any
		_ = json.Unmarshal(raw, &base)
		for k, v := range base {
			flat[k] = v
		}
		body = flat
	}

	w.Header().Set("Content-Type", "application/json")
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(body)
}

func singleLine(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
