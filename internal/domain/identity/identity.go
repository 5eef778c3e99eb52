// Package identity models the outcome of resolving a caller's bearer token.
package identity

import "context"

// Kind tags an Identity.
type Kind int

const (
	Anonymous Kind = iota
	Resolved
	Invalid
)

func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Invalid:
		return "invalid"
	default:
		return "anonymous"
	}
}

// Identity is Resolved(UserID), Anonymous, or Invalid(Err).
type Identity struct {
	Kind   Kind
	UserID string
	Err    error
}

func NewAnonymous() Identity { return Identity{Kind: Anonymous} }

func NewResolved(userID string) Identity { return Identity{Kind: Resolved, UserID: userID} }

func NewInvalid(err error) Identity { return Identity{Kind: Invalid, Err: err} }

// UserIDPtr returns the user id for a resolved identity and nil otherwise.
func (i Identity) UserIDPtr() *string {
	if i.Kind != Resolved || i.UserID == "" {
		return nil
	}
	u := i.UserID
	return &u
}

// Resolver turns a raw bearer token into an Identity. An empty token is Anonymous.
type Resolver interface {
	Resolve(ctx context.Context, token string) Identity
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return id
	}
	return NewAnonymous()
}
