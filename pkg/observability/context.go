package observability

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type ctxKey int

const (
	correlationIDCtxKey ctxKey = iota
	requestIDCtxKey
)

// Attribute keys shared by logs and metrics.
const (
	CorrelationIDKey = "correlation_id"
	RequestIDKey     = "request_id"
	OperationKey     = "operation"
	StatusKey        = "status"
)

// WithCorrelationID tags ctx with a correlation id spanning one CLI command
// or one inbound call chain. An empty id is replaced with a new UUID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withID(ctx, correlationIDCtxKey, id)
}

// CorrelationIDFromContext returns the correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return idFrom(ctx, correlationIDCtxKey)
}

// WithRequestID tags ctx with the id of one inbound HTTP request.
// An empty id is replaced with a new UUID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestIDCtxKey, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	return idFrom(ctx, requestIDCtxKey)
}

// ContextAttrs returns the ids carried by ctx as log attributes.
func ContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if id := CorrelationIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String(CorrelationIDKey, id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String(RequestIDKey, id))
	}
	return attrs
}

func withID(ctx context.Context, key ctxKey, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key).(string)
	return id
}
