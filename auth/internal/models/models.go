// Package models declares the authorization server's token capability
// interface, per SPEC_FULL.md's "OAuth2 endpoint semantics beyond
// /tokeninfo... contracts only" boundary: enough of a token record and
// repository to back a real /tokeninfo lookup, without the full access
// token / refresh token / authorization code state machine a production
// OAuth2 server would need.
package models

import (
	"context"
	"time"
)

// AccessToken is one issued bearer token and the identity it resolves to.
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    string
	Account   string
	Name      string
	Roles     map[string]bool
	Scopes    []string
	ExpiresAt time.Time
}

// Expired reports whether the token is no longer valid at now.
func (t AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// TokenRepo is the capability interface /tokeninfo and the (contract-only)
// login endpoint need.
type TokenRepo interface {
	Get(ctx context.Context, token string) (*AccessToken, error)
	Add(ctx context.Context, t *AccessToken) error
	Delete(ctx context.Context, token string) error
}

// UserRepo backs the contract-only login endpoint: enough to authenticate
// account/password and read back the roles/scopes a token should carry.
type UserRepo interface {
	Authenticate(ctx context.Context, account, password string) (*User, error)
}

// User is a minimal account record. Password is stored as a bcrypt hash;
// there is no user-management surface beyond Authenticate, per the CLI/UX
// and OAuth2-endpoint-semantics out-of-scope boundary.
type User struct {
	UserID       string
	Account      string
	PasswordHash string
	Name         string
	Roles        map[string]bool
	Scopes       []string
}

// Repo bundles both capability interfaces the auth service needs.
type Repo interface {
	Close(ctx context.Context) error
	Token() TokenRepo
	User() UserRepo
}
