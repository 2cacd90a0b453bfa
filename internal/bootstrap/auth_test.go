package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwatch/neighborwatch/config"
	"github.com/nwatch/neighborwatch/internal/adapters/devauth"
)

func TestBuildAuthProvider_DevMode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	prov, err := BuildAuthProvider(context.Background(), config.AuthConfig{
		Mode: config.AuthModeMock,
		DevAuth: config.DevAuthConfig{
			UserID:          "dev",
			Email:           "dev@example.com",
			SessionDuration: time.Hour,
		},
	}, logger)
	require.NoError(t, err)
	assert.IsType(t, &devauth.Provider{}, prov)
}

func TestBuildAuthProvider_Errors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		auth config.AuthConfig
		want string
	}{
		{
			name: "dev mode without user",
			auth: config.AuthConfig{Mode: config.AuthModeMock, DevAuth: config.DevAuthConfig{Email: "dev@example.com"}},
			want: "create dev auth provider",
		},
		{
			name: "oauth without discovery url",
			auth: config.AuthConfig{
				Mode:  config.AuthModeOAuth,
				OAuth: config.OAuthConfig{ClientID: "client", ClientSecret: "secret"},
			},
			want: "OAUTH_DISCOVERY_URL",
		},
		{
			name: "unknown mode",
			auth: config.AuthConfig{Mode: config.AuthMode("saml")},
			want: "unsupported auth mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prov, err := BuildAuthProvider(context.Background(), tt.auth, logger)
			require.Error(t, err)
			assert.Nil(t, prov)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
