package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/domain/navigation"
	"github.com/nwatch/neighborwatch/internal/service"
)

// AuthServiceInterface defines the interface for auth service operations.
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, redirectURL, loginHint string) (*service.BeginLoginResult, error)
	CompleteLogin(ctx context.Context, input service.CompleteLoginInput) (*service.CompleteLoginResult, error)
	GetSession(ctx context.Context, sessionID string) (*domainauth.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Svc     AuthServiceInterface
	Nav     *service.NavigationService
	Cookies Cookies
	Logger  *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Login handles the login initiation endpoint.
// GET /auth/login?redirect_uri=<optional_redirect>&login_hint=<optional_email>.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	// Landing on the login page after sign-in lets the gate pick the role dashboard.
	redirectURI := safeRedirectPath(r.URL.Query().Get("redirect_uri"), navigation.LoginPath)
	loginHint := strings.TrimSpace(r.URL.Query().Get("login_hint"))

	result, err := h.Svc.BeginLogin(r.Context(), redirectURI, loginHint)
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "login_failed",
			Err:     err,
		})
		return
	}

	h.Cookies.Set(w, r, oauthStateCookie, result.State, oauthCookieLifetime)
	h.Cookies.Set(w, r, oauthNonceCookie, result.Nonce, oauthCookieLifetime)
	h.Cookies.Set(w, r, postLoginCookie, redirectURI, oauthCookieLifetime)

	http.Redirect(w, r, result.AuthURL, http.StatusFound)
}

// Callback handles the OAuth callback endpoint.
// GET /auth/callback?code=<code>&state=<state>.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_code",
			Err:     errors.New("authorization code is required"),
		})
		return
	}
	if state == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_state",
			Err:     errors.New("state parameter is required"),
		})
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value != state {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_state",
			Err:     errors.New("invalid or missing state parameter"),
		})
		return
	}
	nonceCookie, err := r.Cookie(oauthNonceCookie)
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_nonce",
			Err:     errors.New("missing nonce parameter"),
		})
		return
	}

	result, err := h.Svc.CompleteLogin(r.Context(), service.CompleteLoginInput{
		Code:  code,
		State: state,
		Nonce: nonceCookie.Value,
	})
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "login_completion_failed",
			Err:     err,
		})
		return
	}

	// The browsing session is replaced, never upgraded in place.
	if previous, ok := sessionID(r); ok && previous != result.Session.ID {
		h.retire(r.Context(), previous)
	}

	h.Cookies.Set(w, r, sessionCookieName, result.Session.ID, time.Until(result.Session.ExpiresAt))
	h.Cookies.Clear(w, r, oauthStateCookie)
	h.Cookies.Clear(w, r, oauthNonceCookie)

	http.Redirect(w, r, h.postLoginRedirect(w, r), http.StatusFound)
}

// Logout handles the logout endpoint.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if sid, ok := sessionID(r); ok {
		h.retire(r.Context(), sid)
	}
	h.Cookies.Clear(w, r, sessionCookieName)

	if !IsBrowserRequest(r) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":      "success",
			"redirect_to": navigation.LoginPath,
		})
		return
	}
	http.Redirect(w, r, navigation.LoginPath, http.StatusSeeOther)
}

// retire signs the browsing session out and drops its navigation client.
func (h *AuthHandlers) retire(ctx context.Context, sid string) {
	if err := h.Svc.Logout(ctx, sid); err != nil {
		h.logger().WarnContext(ctx, "logout failed", "error", err)
	}
	if h.Nav != nil {
		if err := h.Nav.Forget(ctx, sid); err != nil {
			h.logger().WarnContext(ctx, "forget navigation client failed", "error", err)
		}
	}
}

type statusUser struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

type statusResponse struct {
	Authenticated bool            `json:"authenticated"`
	Ready         bool            `json:"ready"`
	User          *statusUser     `json:"user,omitempty"`
	Role          domainauth.Role `json:"role,omitempty"`
	Approved      bool            `json:"approved"`
	Landing       string          `json:"landing,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

// Status returns the browsing session's authentication and authorization status.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(r)
	if !ok {
		WriteJSON(w, http.StatusOK, statusResponse{})
		return
	}

	session, err := h.Svc.GetSession(r.Context(), sid)
	if err != nil {
		// Anonymous browsing sessions have no stored session either.
		WriteJSON(w, http.StatusOK, statusResponse{})
		return
	}

	resp := statusResponse{
		User:      &statusUser{UID: session.UserID, Email: session.Email},
		ExpiresAt: &session.ExpiresAt,
	}
	if h.Nav != nil {
		client := h.Nav.Client(r.Context(), sid)
		resp.Ready = client.State.Ready()
		if rec, has := client.State.Record(); has && client.State.Subject() == session.UserID {
			resp.Authenticated = true
			resp.Role = rec.Role
			resp.Approved = rec.Approved
			resp.Landing = rec.LandingPath()
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// postLoginRedirect returns the post-login redirect URL and clears the cookie.
func (h *AuthHandlers) postLoginRedirect(w http.ResponseWriter, r *http.Request) string {
	redirectURI := navigation.LoginPath
	if c, err := r.Cookie(postLoginCookie); err == nil {
		redirectURI = safeRedirectPath(c.Value, navigation.LoginPath)
		h.Cookies.Clear(w, r, postLoginCookie)
	}
	return redirectURI
}

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns fallback when invalid.
func safeRedirectPath(candidate, fallback string) string {
	if candidate == "" {
		return fallback
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") ||
		strings.HasPrefix(candidate, "//") {
		return fallback
	}
	return candidate
}
