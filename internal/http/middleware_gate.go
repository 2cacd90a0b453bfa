package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nwatch/neighborwatch/internal/domain/navigation"
	"github.com/nwatch/neighborwatch/internal/service"
)

// GateOptions groups dependencies for the navigation gate middleware.
type GateOptions struct {
	Nav     *service.NavigationService
	Cookies Cookies
	Logger  *slog.Logger
}

// Gate returns a middleware that runs every navigation through the browsing
// session's gate. A request without a session cookie gets a fresh, signed-out
// browsing session. Browsers are redirected with 303 See Other; JSON clients
// get 401 (login required) or 403 with the redirect target in the body.
func Gate(opts GateOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, ok := sessionID(r)
			if !ok {
				sid = service.NewBrowsingSessionID()
				opts.Cookies.Set(w, r, sessionCookieName, sid, anonymousSessionLifetime)
			}

			decision, client := opts.Nav.Evaluate(r.Context(), sid, r.URL.Path)
			if decision.Allow {
				next.ServeHTTP(w, r.WithContext(SetNavigationClient(r.Context(), client)))
				return
			}

			logger.DebugContext(r.Context(), "navigation redirected",
				"path", r.URL.Path, "redirect_to", decision.Redirect)
			writeRedirect(w, r, decision.Redirect)
		})
	}
}

func writeRedirect(w http.ResponseWriter, r *http.Request, target string) {
	if IsBrowserRequest(r) {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	if target == navigation.LoginPath {
		WriteError(w, ErrorParams{
			Code:       http.StatusUnauthorized,
			ErrCode:    "authentication_required",
			Err:        errors.New("authentication required"),
			RedirectTo: target,
		})
		return
	}
	WriteError(w, ErrorParams{
		Code:       http.StatusForbidden,
		ErrCode:    "insufficient_permissions",
		Err:        errors.New("insufficient permissions"),
		RedirectTo: target,
	})
}
