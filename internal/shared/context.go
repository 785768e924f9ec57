package shared

import (
	"context"

	"github.com/google/uuid"
)

// Identity carries the caller identity forwarded by the upstream gateway.
type Identity struct {
	CompanyID uuid.UUID
	ActorID   *uuid.UUID
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context. The second return value
// is false when no company was attached to the request.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || id.CompanyID == uuid.Nil {
		return Identity{}, false
	}
	return id, true
}
