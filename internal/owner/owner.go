// Package owner carries the owning-user identifier resolved from the API key.
package owner

import "context"

type ctxKey struct{}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the owner id stored by the API key middleware, or ""
// when the request was not authenticated.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
