package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
)

// BeginInput carries inputs for initiating an auth flow.
type BeginInput struct {
	RedirectURL string
	// LoginHint optionally pre-selects the account at the IdP.
	LoginHint string
}

// AuthProvider initiates and completes an authentication flow against an IdP.
type AuthProvider interface {
	// Begin starts the login flow and returns the provider auth URL, an opaque state, and a nonce.
	Begin(ctx context.Context, in BeginInput) (authURL, state, nonce string, err error)

	// Exchange completes the login flow, verifying state and nonce, and returns the authenticated identity.
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.Identity, error)
}

// ExchangeInput groups parameters for the code/token exchange.
type ExchangeInput struct {
	Code  string
	State string
	Nonce string
}

// ErrSessionNotFound is returned by a SessionStore for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists and retrieves user sessions.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Get(ctx context.Context, id string) (domainauth.Session, error)
	Delete(ctx context.Context, id string) error
}

// IdentityProvider reports the principal signed in to one browsing session.
type IdentityProvider interface {
	// CurrentPrincipal is a point-in-time, non-blocking read of the live principal.
	CurrentPrincipal() (domainauth.Principal, bool)

	// Subscribe delivers the current state once, then every change, in order and one
	// at a time. A nil principal means nobody is signed in.
	Subscribe(fn func(p *domainauth.Principal)) (unsubscribe func())
}

// ErrRecordNotFound is returned by a RecordStore when the principal has no record.
var ErrRecordNotFound = errors.New("authorization record not found")

// RecordStore looks up the authoritative role/approval record of a principal.
type RecordStore interface {
	GetRecord(ctx context.Context, uid string) (domainauth.AuthorizationRecord, error)
}

// ErrCacheMiss is returned by a SessionCache when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// SessionCache is a short-lived key/value store scoped to one browsing session.
type SessionCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
