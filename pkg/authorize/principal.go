package authorize

import (
	"context"
)

// Authentication mode tags carried by a Principal and reported by the API.
const (
	AuthTypeToken = "token"
	AuthTypeLocal = "local"
)

// RoleSet is the set of role names granted to a principal. Order carries no
// meaning.
type RoleSet []string

func (r RoleSet) Contains(role string) bool {
	for _, v := range r {
		if v == role {
			return true
		}
	}
	return false
}

// Principal is the identity resulting from a successful authentication
// attempt. It lives for the duration of a single request.
type Principal struct {
	// Username is the display name: the preferred_username claim when the
	// token carries one, otherwise the username claim or the basic-auth user.
	Username string
	// AuthType is AuthTypeToken or AuthTypeLocal.
	AuthType string
	// Roles holds the resolved role claims. Empty in local mode.
	Roles RoleSet
	// Claims is the full decoded claim set for token principals.
	Claims map[string]interface{}
}

type key int

const principalKey key = 0

func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

func FromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalKey).(*Principal)
	return principal, ok
}
