package auth

import (
	"context"
	"slices"
)

// Identity is the signed-in user as asserted by the identity provider.
type Identity struct {
	UserID   string
	Plan     string
	Features []string
}

func (i *Identity) HasPlan(plan string) bool {
	return i != nil && i.Plan == plan
}

func (i *Identity) HasFeature(feature string) bool {
	return i != nil && slices.Contains(i.Features, feature)
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the request identity, or nil for anonymous requests.
func FromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(contextKey{}).(*Identity); ok {
		return id
	}
	return nil
}

// UserID returns the request user id or "" for anonymous requests.
func UserID(ctx context.Context) string {
	if id := FromContext(ctx); id != nil {
		return id.UserID
	}
	return ""
}
