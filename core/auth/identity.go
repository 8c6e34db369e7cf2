package auth

import (
	"context"

	"takedown/core/store"
)

// Identity is the resolved actor for a request. Token issuance and
// validation live outside this service; the host layer only resolves an
// already-authenticated actor id to a user record.
type Identity struct {
	User *store.User
}

func (id *Identity) Role() store.Role {
	if id == nil || id.User == nil {
		return ""
	}
	return id.User.Role
}

func (id *Identity) UserID() string {
	if id == nil || id.User == nil {
		return ""
	}
	return id.User.ID
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}
