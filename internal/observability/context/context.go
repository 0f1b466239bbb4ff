// Package context carries request-scoped correlation values.
package context

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorKey
)

type actor struct {
	role string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithActor records the authenticated caller.
func WithActor(ctx context.Context, role, id string) context.Context {
	return context.WithValue(ctx, actorKey, actor{role: role, id: id})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if v, ok := ctx.Value(actorKey).(actor); ok {
		return v.role, v.id
	}
	return "", ""
}
