package auth

import (
	"context"
	"net/http"
)

type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

// Actor names the caller for audit and trigger history.
func Actor(ctx context.Context) string {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.Subject == "" {
		return "anonymous"
	}
	return identity.Subject
}

type StaticAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *StaticAuthenticator {
	return &StaticAuthenticator{
		identity: Identity{
			Subject: cfg.DevSubject,
			Email:   cfg.DevEmail,
			Roles:   cfg.DevRoles,
		},
	}
}

// NewDisabledAuthenticator lets every request through as an anonymous admin.
func NewDisabledAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{
		identity: Identity{Subject: "anonymous", Roles: []string{RoleAdmin}},
	}
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}
