// Package devauth provides a config-driven AuthProvider for local development.
package devauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/ports"
)

const (
	defaultCode            = "dev"
	defaultSessionDuration = 8 * time.Hour
)

// Config controls the dev auth provider behavior.
type Config struct {
	UserID          string
	Email           string
	SessionDuration time.Duration // default 8h when zero
}

// Provider implements ports.AuthProvider without an IdP. Begin redirects
// straight to our own callback; Exchange returns the configured identity, or
// the account named by the login hint so several roles can be tried locally.
type Provider struct {
	userID          string
	email           string
	sessionDuration time.Duration
}

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	dur := cfg.SessionDuration
	if dur <= 0 {
		dur = defaultSessionDuration
	}
	return &Provider{userID: cfg.UserID, email: cfg.Email, sessionDuration: dur}, nil
}

// Begin returns a local callback URL carrying the login hint as the code.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, string, string, error) {
	state, err := randomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}
	code := strings.TrimSpace(in.LoginHint)
	if code == "" {
		code = defaultCode
	}
	q := url.Values{"code": {code}, "state": {state}}
	return "/auth/callback?" + q.Encode(), state, nonce, nil
}

// Exchange maps the code to an identity. State and nonce are checked by the handler.
func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	id := domainauth.Identity{
		UserID:    p.userID,
		Email:     p.email,
		ExpiresAt: time.Now().Add(p.sessionDuration),
	}
	if in.Code != "" && in.Code != defaultCode {
		id.UserID = in.Code
		id.Email = in.Code + "@" + emailDomain(p.email)
	}
	return id, nil
}

func emailDomain(email string) string {
	if _, domain, ok := strings.Cut(email, "@"); ok && domain != "" {
		return domain
	}
	return "localhost"
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
