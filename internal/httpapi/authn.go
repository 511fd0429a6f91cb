package httpapi

import (
	"net/http"
	"strings"
	"time"
)

const (
	// CookieName is the session cookie shared across the parent domain.
	CookieName = "amp_auth"

	authHeader = "Authorization"
	bearer     = "Bearer "
)

// SessionToken pulls the session token off a request. The cookie is the
// browser path; the bearer header is the service-to-service path. The cookie
// wins when both are present.
func SessionToken(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get(authHeader)
	if strings.HasPrefix(h, bearer) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearer))
	}
	return ""
}

func (a *API) sessionTokenForCSRF(r *http.Request) string {
	return SessionToken(r)
}

// setAuthCookie installs the session cookie scoped to the parent domain so
// every subdomain application sends it back.
func (a *API) setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Domain:   a.opts.CookieDomain,
		Path:     "/",
		MaxAge:   int(a.opts.SessionDuration / time.Second),
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearAuthCookie expires the session cookie with attributes matching the
// ones it was set with, otherwise browsers keep the stale copy.
func (a *API) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Domain:   a.opts.CookieDomain,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
