package services

import "context"

type contextKey string

const (
	entityIDKey  contextKey = "entity_id"
	jobIDKey     contextKey = "job_id"
	kindKey      contextKey = "kind"
	requestIDKey contextKey = "request_id"
)

// WithEntityID annotates context with the media entity identifier.
func WithEntityID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, entityIDKey, id)
}

// EntityIDFromContext extracts the entity identifier if present.
func EntityIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(entityIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobID annotates context with the queue job identifier.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(jobIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithKind annotates context with the job kind (resolution tag or thumbnail).
func WithKind(ctx context.Context, kind string) context.Context {
	if kind == "" {
		return ctx
	}
	return context.WithValue(ctx, kindKey, kind)
}

// KindFromContext returns the job kind if present.
func KindFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(kindKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
