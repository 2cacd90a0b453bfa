package httpx

import (
	"net/http"
	"strings"
	"time"
)

const (
	// sessionCookieName carries the browsing session ID, signed in or not.
	sessionCookieName = "session_id"

	oauthStateCookie    = "oauth_state"
	oauthNonceCookie    = "oauth_nonce"
	postLoginCookie     = "post_login_redirect"
	oauthCookieLifetime = 10 * time.Minute

	// anonymousSessionLifetime bounds how long a signed-out browsing session is remembered.
	anonymousSessionLifetime = 24 * time.Hour
)

// Cookies writes the application's cookies with consistent attributes.
type Cookies struct {
	// Domain is the cookie domain; empty means the request host.
	Domain string
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// Set writes a cookie that expires after maxAge.
func (c Cookies) Set(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// Clear expires a cookie immediately. It mirrors the attributes used by Set so
// browsers match and delete it.
func (c Cookies) Clear(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionID returns the browsing session ID carried by r, if any.
func sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
