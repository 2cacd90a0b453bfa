// Package oidc implements the login flow against an OpenID Connect provider.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/ports"
)

const (
	stateLength       = 32
	defaultSessionTTL = time.Hour
)

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	// DiscoveryURL is the issuer URL, with or without the
	// /.well-known/openid-configuration suffix.
	DiscoveryURL string
	HTTPClient   *http.Client
}

// Provider implements ports.AuthProvider using the authorization code flow.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client
	op         *gooidc.Provider
	verifier   *gooidc.IDTokenVerifier
}

// NewProvider discovers the issuer's endpoints and builds the provider.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	switch {
	case cfg.ClientID == "":
		return nil, errors.New("client ID is required")
	case cfg.ClientSecret == "":
		return nil, errors.New("client secret is required")
	case cfg.RedirectURL == "":
		return nil, errors.New("redirect URL is required")
	case cfg.DiscoveryURL == "":
		return nil, errors.New("discovery URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	op, err := gooidc.NewProvider(oauth2Context(ctx, httpClient), issuerFromDiscovery(cfg.DiscoveryURL))
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       strings.Fields(cfg.Scope),
			Endpoint:     op.Endpoint(),
		},
		httpClient: httpClient,
		op:         op,
		verifier:   op.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Begin returns the IdP authorization URL with fresh state and nonce.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, string, string, error) {
	if in.RedirectURL == "" {
		return "", "", "", errors.New("redirect URL is required")
	}
	state, err := randomString(stateLength)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(stateLength)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	opts := []oauth2.AuthCodeOption{gooidc.Nonce(nonce)}
	if in.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", in.LoginHint))
	}
	return p.config.AuthCodeURL(state, opts...), state, nonce, nil
}

// Exchange redeems the code, verifies the ID token and nonce, and maps the
// standard claims onto an Identity. Missing claims are filled from UserInfo.
func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code == "" {
		return domainauth.Identity{}, errors.New("authorization code is required")
	}
	if in.Nonce == "" {
		return domainauth.Identity{}, errors.New("nonce is required")
	}

	ctx = oauth2Context(ctx, p.httpClient)
	token, err := p.config.Exchange(ctx, in.Code)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("exchange code for token: %w", err)
	}

	var c claims
	if slices.Contains(p.config.Scopes, gooidc.ScopeOpenID) {
		if c, err = p.verifyIDToken(ctx, token, in.Nonce); err != nil {
			return domainauth.Identity{}, err
		}
	}
	if c.Subject == "" || c.Email == "" {
		if err := p.fillFromUserInfo(ctx, token, &c); err != nil {
			return domainauth.Identity{}, err
		}
	}
	if c.Subject == "" {
		return domainauth.Identity{}, errors.New("identity provider returned no subject")
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultSessionTTL)
	}
	return c.identity(expiresAt), nil
}

func (p *Provider) verifyIDToken(ctx context.Context, token *oauth2.Token, nonce string) (claims, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return claims{}, errors.New("missing id_token in token response")
	}
	idTok, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return claims{}, fmt.Errorf("verify id_token: %w", err)
	}
	if idTok.Nonce != nonce {
		return claims{}, errors.New("invalid nonce")
	}
	var c claims
	if err := idTok.Claims(&c); err != nil {
		return claims{}, fmt.Errorf("parse id_token claims: %w", err)
	}
	return c, nil
}

func (p *Provider) fillFromUserInfo(ctx context.Context, token *oauth2.Token, c *claims) error {
	ui, err := p.op.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	var extra claims
	if err := ui.Claims(&extra); err != nil {
		return fmt.Errorf("decode user info: %w", err)
	}
	c.merge(extra)
	return nil
}

// claims are the standard OIDC profile and email claims.
type claims struct {
	Subject    string `json:"sub"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Name       string `json:"name"`
}

// merge fills empty fields from other.
func (c *claims) merge(other claims) {
	c.Subject = cmpOr(c.Subject, other.Subject)
	c.Email = cmpOr(c.Email, other.Email)
	c.GivenName = cmpOr(c.GivenName, other.GivenName)
	c.FamilyName = cmpOr(c.FamilyName, other.FamilyName)
	c.Name = cmpOr(c.Name, other.Name)
}

func (c claims) identity(expiresAt time.Time) domainauth.Identity {
	first, last := c.GivenName, c.FamilyName
	if first == "" && last == "" && c.Name != "" {
		first, last, _ = strings.Cut(c.Name, " ")
	}
	return domainauth.Identity{
		UserID:    c.Subject,
		FirstName: first,
		LastName:  last,
		Email:     c.Email,
		ExpiresAt: expiresAt,
	}
}

func cmpOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func issuerFromDiscovery(discoveryURL string) string {
	issuer := strings.TrimSuffix(discoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	return issuer
}

func oauth2Context(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// randomString returns a URL-safe random string of exactly length characters.
func randomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}
