package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/ports"
)

// SessionPublisher binds principals to browsing sessions and announces the change
// to whoever is listening on that session.
type SessionPublisher interface {
	SignIn(ctx context.Context, sess domainauth.Session) error
	SignOut(ctx context.Context, sessionID string) error
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Provider  ports.AuthProvider
	Sessions  ports.SessionStore
	Publisher SessionPublisher
}

// AuthService orchestrates authentication flows by coordinating the provider,
// session persistence and identity change publication.
type AuthService struct {
	provider  ports.AuthProvider
	sessions  ports.SessionStore
	publisher SessionPublisher
}

var errSessionExpired = errors.New("session expired")

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	return &AuthService{
		provider:  opts.Provider,
		sessions:  opts.Sessions,
		publisher: opts.Publisher,
	}
}

// BeginLoginResult contains the result of beginning a login flow.
type BeginLoginResult struct {
	AuthURL string
	State   string
	Nonce   string
}

// BeginLogin initiates an authentication flow and returns the provider auth URL with state and nonce.
// loginHint is optional and forwarded to the provider untouched.
func (s *AuthService) BeginLogin(ctx context.Context, redirectURL, loginHint string) (*BeginLoginResult, error) {
	if redirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}

	input := ports.BeginInput{RedirectURL: redirectURL, LoginHint: loginHint}
	authURL, state, nonce, err := s.provider.Begin(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("begin auth flow: %w", err)
	}

	return &BeginLoginResult{
		AuthURL: authURL,
		State:   state,
		Nonce:   nonce,
	}, nil
}

// CompleteLoginInput groups parameters for completing a login flow.
type CompleteLoginInput struct {
	Code  string
	State string
	Nonce string
}

// CompleteLoginResult contains the result of completing a login flow.
type CompleteLoginResult struct {
	Session domainauth.Session
}

// CompleteLogin completes an authentication flow by exchanging the code for an
// identity and signing a fresh session in. The role is not decided here: it is
// looked up from the users table by the session's identity listener.
func (s *AuthService) CompleteLogin(ctx context.Context, input CompleteLoginInput) (*CompleteLoginResult, error) {
	if input.Code == "" {
		return nil, errors.New("authorization code is required")
	}
	if input.State == "" {
		return nil, errors.New("state parameter is required")
	}
	if input.Nonce == "" {
		return nil, errors.New("nonce parameter is required")
	}

	identity, err := s.provider.Exchange(ctx, ports.ExchangeInput{
		Code:  input.Code,
		State: input.State,
		Nonce: input.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if identity.UserID == "" {
		return nil, errors.New("identity provider returned no user id")
	}

	// A new ID on every sign-in prevents session fixation.
	session := domainauth.Session{
		ID:        generateSessionID(),
		UserID:    identity.UserID,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		Email:     identity.Email,
		ExpiresAt: identity.ExpiresAt,
	}

	if signErr := s.publisher.SignIn(ctx, session); signErr != nil {
		return nil, fmt.Errorf("sign in session: %w", signErr)
	}

	return &CompleteLoginResult{
		Session: session,
	}, nil
}

// GetSession retrieves a session by ID.
func (s *AuthService) GetSession(ctx context.Context, sessionID string) (*domainauth.Session, error) {
	if sessionID == "" {
		return nil, errors.New("session ID is required")
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if time.Now().After(session.ExpiresAt) {
		if signOutErr := s.publisher.SignOut(ctx, sessionID); signOutErr != nil {
			return nil, errors.Join(errSessionExpired, fmt.Errorf("sign out session: %w", signOutErr))
		}
		return nil, errSessionExpired
	}

	return &session, nil
}

// Logout signs the session out.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil // Nothing to logout
	}

	if err := s.publisher.SignOut(ctx, sessionID); err != nil {
		return fmt.Errorf("sign out session: %w", err)
	}

	return nil
}

// NewBrowsingSessionID returns an identifier for a not-yet-signed-in browsing session.
func NewBrowsingSessionID() string {
	return generateSessionID()
}

// generateSessionID creates a cryptographically secure random session ID.
func generateSessionID() string {
	// UUIDv4 is URL-safe and has good entropy
	return uuid.New().String()
}
