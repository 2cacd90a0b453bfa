package httpx

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nwatch/neighborwatch/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth         *service.AuthService
	Users        *service.UserService
	Nav          *service.NavigationService
	Health       map[string]HealthCheck
	CookieDomain string
	Logger       *slog.Logger
}

// NewRouter creates the HTTP router. Every declared route, and every endpoint
// nested below one, is served behind the navigation gate.
func NewRouter(services RouterServices) (http.Handler, error) {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if services.Nav == nil {
		return nil, errors.New("navigation service is required")
	}
	routes := services.Nav.Routes()
	cookies := Cookies{Domain: services.CookieDomain}

	pages, err := NewPages(routes, logger)
	if err != nil {
		return nil, fmt.Errorf("parse page templates: %w", err)
	}
	gated := Gate(GateOptions{Nav: services.Nav, Cookies: cookies, Logger: logger})

	mux := http.NewServeMux()

	health := &HealthHandlers{Checks: services.Health}
	mux.HandleFunc("GET /healthz", health.Live)
	mux.HandleFunc("GET /readyz", health.Ready)

	if services.Auth != nil {
		registerAuthRoutes(mux, &AuthHandlers{
			Svc:     services.Auth,
			Nav:     services.Nav,
			Cookies: cookies,
			Logger:  logger,
		})
	}

	for _, rt := range routes.Routes() {
		pattern := "GET " + rt.Path
		if rt.Path == "/" {
			pattern = "GET /{$}"
		}
		mux.Handle(pattern, gated(pages.Handler(rt)))
	}

	if services.Users != nil {
		registerUserRoutes(mux, gated, &UserHandlers{
			Svc:    services.Users,
			Nav:    services.Nav,
			Pages:  pages,
			Logger: logger,
		})
	}

	var handler http.Handler = mux
	handler = BrowserDetection()(handler)
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler, nil
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("GET /auth/login", h.Login)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/status", h.Status)
}

func registerUserRoutes(mux *http.ServeMux, gated func(http.Handler) http.Handler, h *UserHandlers) {
	mux.Handle("POST /register", gated(http.HandlerFunc(h.Register)))
	// Nested below /admin/user-management, so these inherit its admin requirement.
	mux.Handle("GET /admin/user-management/users", gated(http.HandlerFunc(h.List)))
	mux.Handle("GET /admin/user-management/users/{uid}", gated(http.HandlerFunc(h.Get)))
	mux.Handle("POST /admin/user-management/users/{uid}/approval", gated(http.HandlerFunc(h.SetApproval)))
	mux.Handle("POST /admin/user-management/users/{uid}/role", gated(http.HandlerFunc(h.SetRole)))
}
