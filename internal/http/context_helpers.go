package httpx

import (
	"context"

	"github.com/nwatch/neighborwatch/internal/service"
)

// navigationKey is an unexported context key type to avoid collisions across packages.
// Centralized in this file so all handlers/middleware use the same key.
type navigationKey struct{}

// SetNavigationClient returns a child context carrying the browsing session's
// navigation client. If c is nil, the original ctx is returned unchanged.
func SetNavigationClient(ctx context.Context, c *service.NavigationClient) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, navigationKey{}, c)
}

// NavigationClientFromContext returns the navigation client placed by the gate middleware.
func NavigationClientFromContext(ctx context.Context) (*service.NavigationClient, bool) {
	c, ok := ctx.Value(navigationKey{}).(*service.NavigationClient)
	return c, ok && c != nil
}
