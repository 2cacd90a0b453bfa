package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nwatch/neighborwatch/config"
	"github.com/nwatch/neighborwatch/internal/adapters/devauth"
	"github.com/nwatch/neighborwatch/internal/adapters/oidc"
	"github.com/nwatch/neighborwatch/internal/ports"
)

// BuildAuthProvider creates the identity provider selected by the auth mode.
//
//nolint:ireturn // the concrete provider depends on configuration.
func BuildAuthProvider(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (ports.AuthProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Mode {
	case config.AuthModeMock:
		logger.WarnContext(ctx, "dev authentication enabled; do not use in production",
			"user_id", cfg.DevAuth.UserID)
		prov, err := devauth.NewProvider(devauth.Config{
			UserID:          cfg.DevAuth.UserID,
			Email:           cfg.DevAuth.Email,
			SessionDuration: cfg.DevAuth.SessionDuration,
		})
		if err != nil {
			return nil, fmt.Errorf("create dev auth provider: %w", err)
		}
		return prov, nil

	case config.AuthModeOAuth, "":
		oauth := cfg.OAuth
		if oauth.DiscoveryURL == "" || oauth.ClientID == "" || oauth.ClientSecret == "" {
			return nil, errors.New("oauth mode requires OAUTH_DISCOVERY_URL, OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET")
		}
		prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:     oauth.ClientID,
			ClientSecret: oauth.ClientSecret,
			RedirectURL:  oauth.RedirectURL,
			Scope:        oauth.Scope,
			DiscoveryURL: oauth.DiscoveryURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create oidc provider: %w", err)
		}
		return prov, nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}
