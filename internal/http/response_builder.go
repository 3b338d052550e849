// Package http exposes the ledger over a JSON API.
//
// This file implements a small builder for JSON responses and the mapping
// from ledger error kinds to status codes.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"

	"finapp/internal/core"
	applog "finapp/internal/log"
	"finapp/internal/middleware/trace"
)

// ResponseBuilder provides a fluent API for JSON responses.
type ResponseBuilder struct {
	statusCode int
	headers    map[string]string
	payload    any
}

func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the payload; nil writes no body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.payload = v
	return b
}

// Replayed marks the response as the replay of an earlier idempotent write.
func (b *ResponseBuilder) Replayed(replayed bool) *ResponseBuilder {
	if replayed {
		b.headers[HeaderReplayed] = "true"
	}
	return b
}

func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.payload == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	body, err := json.Marshal(b.payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"internal","message":"response encoding failed"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(body, '\n'))
}

type errorBody struct {
	Error     errorDetail `json:"error"`
	RequestID string      `json:"requestId,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes in response bodies.
const (
	CodeInvalidArgument  = "invalid_argument"
	CodeNotFound         = "not_found"
	CodeAlreadyExists    = "already_exists"
	CodeConflict         = "conflict"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternal         = "internal"
)

// statusFor maps an error to its HTTP status and body code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, core.ErrAlreadyExists):
		return http.StatusConflict, CodeAlreadyExists
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// ErrorResponse renders err without exposing its internal cause.
func ErrorResponse(ctx context.Context, err error) *ResponseBuilder {
	status, code := statusFor(err)
	msg := core.PublicMessage(err)
	if code == CodeInternal || msg == "" {
		msg = http.StatusText(status)
	}
	b := NewResponse().Status(status).JSON(errorBody{
		Error:     errorDetail{Code: code, Message: msg},
		RequestID: trace.GetRequestID(ctx),
	})
	if status == http.StatusServiceUnavailable || code == CodeConflict {
		b.Header("Retry-After", "1")
	}
	return b
}

// writeError logs err, reports server-side failures to Sentry and writes the response.
func writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	ctx := r.Context()
	status, _ := statusFor(err)
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentHTTP)
	fields := applog.NewFields().
		WithOperation(operation).
		WithError(err).
		WithHTTPRequest(r.Method, r.URL.Path, "", "")
	if userID := r.PathValue("userID"); userID != "" {
		fields[applog.FieldUserID] = userID
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "Request failed", fields.ToSlice()...)
		captureError(ctx, r, operation, err)
	} else {
		logger.InfoContext(ctx, "Request rejected", fields.ToSlice()...)
	}
	ErrorResponse(ctx, err).Write(w)
}

func captureError(ctx context.Context, r *http.Request, operation string, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(r)
		scope.SetTag("operation", operation)
		scope.SetTag("route", r.Pattern)
		if id := trace.GetRequestID(ctx); id != "" {
			scope.SetTag("request_id", id)
		}
		if userID := r.PathValue("userID"); userID != "" {
			scope.SetUser(sentry.User{ID: userID})
		}
		hub.CaptureException(err)
	})
}
