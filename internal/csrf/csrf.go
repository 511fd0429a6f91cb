// Package csrf implements the synchronizer-token defense for state-changing
// form submissions. JSON API traffic is exempt by contract: it is covered by
// the same-site cookie policy and the bearer-token path instead.
package csrf

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"amphoraxe.ca/internal/auth"
	"amphoraxe.ca/internal/obs"
)

const (
	// FormField is the form key carrying the submitted token.
	FormField = "csrf_token"
	// HeaderName is the fallback header for the submitted token.
	HeaderName = "X-CSRF-Token"

	tokenBytes = 32
)

// ExemptPrefixes lists path prefixes that bypass the check entirely.
var ExemptPrefixes = []string{
	"/api/",
	"/healthz",
	"/readyz",
	"/metrics",
}

// NewToken mints a high-entropy synchronizer token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Guard binds synchronizer tokens to browser sessions. Tokens live only in
// process memory, keyed by the session token; losing them on restart just
// re-mints on the next page render.
type Guard struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewGuard constructs an empty Guard.
func NewGuard() *Guard {
	return &Guard{tokens: make(map[string]string)}
}

// Issue returns the session's existing CSRF token, minting and storing a new
// one on first use.
func (g *Guard) Issue(sessionToken string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tok, ok := g.tokens[sessionToken]; ok {
		return tok, nil
	}
	tok, err := NewToken()
	if err != nil {
		return "", err
	}
	g.tokens[sessionToken] = tok
	return tok, nil
}

// Validate constant-time-compares the submitted value against the session's
// stored token. Both sides missing is a deterministic failure; the check
// never passes by default.
func (g *Guard) Validate(sessionToken, submitted string) bool {
	if sessionToken == "" || submitted == "" {
		return false
	}
	g.mu.Lock()
	stored, ok := g.tokens[sessionToken]
	g.mu.Unlock()
	if !ok || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

// Drop forgets the token bound to a session, e.g. on logout.
func (g *Guard) Drop(sessionToken string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tokens, sessionToken)
}

// SessionTokenFunc extracts the browser session token from a request.
type SessionTokenFunc func(r *http.Request) string

// Middleware enforces the synchronizer token on state-changing form-encoded
// requests. JSON content types and exempt path prefixes pass through.
// Failures are recorded through the audit recorder before the 403 is written.
func Middleware(guard *Guard, sessionToken SessionTokenFunc, recorder auth.AuditRecorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		for _, prefix := range ExemptPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		contentType := r.Header.Get("Content-Type")
		if strings.Contains(contentType, "application/json") {
			next.ServeHTTP(w, r)
			return
		}
		if !strings.Contains(contentType, "application/x-www-form-urlencoded") {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		submitted := ""
		if form, err := url.ParseQuery(string(body)); err == nil {
			submitted = form.Get(FormField)
		}
		if submitted == "" {
			submitted = r.Header.Get(HeaderName)
		}

		if !guard.Validate(sessionToken(r), submitted) {
			if recorder != nil {
				_ = recorder.Event(r.Context(), auth.AuditEvent{
					Action:    "csrf.failed",
					Detail:    "path=" + r.URL.Path,
					IPAddress: clientIP(r),
				})
			}
			obs.LogSecurity("CSRF_VALIDATION_FAILED", "invalid CSRF token on "+r.URL.Path, clientIP(r))
			http.Error(w, "CSRF validation failed", http.StatusForbidden)
			return
		}

		// Hand the consumed body back to the handler.
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}
