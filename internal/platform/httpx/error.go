package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shopeasy/storefront/internal/platform/requestctx"
)

// Error is the JSON error envelope of the storefront API.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError constructs an Error; a zero status becomes 500.
func NewError(code, message string, status int) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &Error{
		Code:    clip(code, 80),
		Message: clip(message, 512),
		Status:  status,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// WithDetail returns a copy carrying an extra detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	out := *e
	out.Details = make(map[string]any, len(e.Details)+1)
	maps.Copy(out.Details, e.Details)
	out.Details[key] = value
	return &out
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	RequestID string         `json:"requestId,omitempty"`
	TraceID   string         `json:"traceId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// WriteError writes the error envelope, filling request and trace ids from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err *Error) {
	if err == nil {
		err = NewError("internal_error", "internal server error", http.StatusInternalServerError)
	}
	body := errorBody{
		Code:      err.Code,
		Message:   err.Message,
		Status:    err.Status,
		RequestID: clip(middleware.GetReqID(ctx), 80),
		TraceID:   clip(requestctx.TraceID(ctx), 64),
		Details:   err.Details,
	}
	WriteJSON(w, err.Status, map[string]any{"error": body})
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
