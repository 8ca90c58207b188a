package ctxkeys

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	OwnerIDKey   contextKey = "owner_id"
	RequestIDKey contextKey = "request_id"
)

// OwnerID returns the authenticated user id, or "" for anonymous requests.
func OwnerID(ctx context.Context) string {
	id, _ := ctx.Value(OwnerIDKey).(string)
	return id
}

func WithOwnerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, OwnerIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
