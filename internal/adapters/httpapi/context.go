package httpapi

import (
	"context"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
)

// Identity is the authenticated caller as established by the auth
// middleware. The member record behind the subject is resolved per
// request; only the token-asserted facts live in context.
type Identity struct {
	Subject domain.SubjectID
	Role    domain.Role
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey{}).(Identity)
	return v, ok && v.Subject != ""
}
