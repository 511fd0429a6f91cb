package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"amphoraxe.ca/internal/auth"
	"amphoraxe.ca/internal/csrf"
	"amphoraxe.ca/internal/ratelimit"
)

// fakeStore is the minimal in-memory auth.Store the handlers need.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*auth.User
	sessions map[string]*auth.Session
	apps     map[string]*auth.App
	grants   map[string][]string // userID -> granted slugs via groups
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*auth.User),
		sessions: make(map[string]*auth.Session),
		apps:     make(map[string]*auth.App),
		grants:   make(map[string][]string),
	}
}

func (f *fakeStore) Users() auth.UserStore       { return f }
func (f *fakeStore) Sessions() auth.SessionStore { return fakeSessions{f} }
func (f *fakeStore) Apps() auth.AppStore         { return f }
func (f *fakeStore) Access() auth.AccessStore    { return f }
func (f *fakeStore) Audit() auth.AuditStore      { return f }

func (f *fakeStore) Create(ctx context.Context, u *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return auth.ErrConflict
		}
	}
	f.seq++
	u.ID = "user-" + string(rune('a'+f.seq))
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) Find(ctx context.Context, id string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return nil
}

type fakeSessions struct{ f *fakeStore }

func (s fakeSessions) Create(ctx context.Context, sess *auth.Session) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.sessions[sess.Token] = sess
	return nil
}

func (s fakeSessions) FindUserByToken(ctx context.Context, token string, now time.Time) (*auth.User, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	sess, ok := s.f.sessions[token]
	if !ok || !sess.ExpiresAt.After(now) {
		return nil, auth.ErrNotFound
	}
	u, ok := s.f.users[sess.UserID]
	if !ok || !u.IsActive {
		return nil, auth.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s fakeSessions) DeleteByToken(ctx context.Context, token string) (bool, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if _, ok := s.f.sessions[token]; !ok {
		return false, nil
	}
	delete(s.f.sessions, token)
	return true, nil
}

func (s fakeSessions) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var n int64
	for token, sess := range s.f.sessions {
		if sess.UserID == userID {
			delete(s.f.sessions, token)
			n++
		}
	}
	return n, nil
}

func (s fakeSessions) DeleteExpiredByUser(ctx context.Context, userID string, now time.Time) error {
	return nil
}

func (f *fakeStore) FindBySlug(ctx context.Context, slug string) (*auth.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[slug]
	if !ok {
		return nil, auth.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStore) ListActiveSlugs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var slugs []string
	for _, a := range f.apps {
		if a.IsActive {
			slugs = append(slugs, a.Slug)
		}
	}
	return slugs, nil
}

func (f *fakeStore) UserOverrides(ctx context.Context, userID string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (f *fakeStore) GroupGrantedSlugs(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.grants[userID]...), nil
}

func (f *fakeStore) FeatureGrants(ctx context.Context, userID, appID string) ([]auth.FeaturePermission, error) {
	return nil, nil
}

func (f *fakeStore) Append(ctx context.Context, e *auth.AuditEvent) error { return nil }

type nopRecorder struct{}

func (nopRecorder) Event(ctx context.Context, e auth.AuditEvent) error { return nil }

func legacyHash(password string) string {
	salt := "testsalt"
	sum := sha256.Sum256([]byte(salt + password))
	return salt + "$" + hex.EncodeToString(sum[:])
}

const testPassword = "a perfectly fine pw"

// newTestAPI builds the full handler chain over a seeded fake store.
func newTestAPI(t *testing.T, loginLimit int) (http.Handler, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	store.apps["dbamp"] = &auth.App{ID: "app-db", Slug: "dbamp", Name: "dbAMP", IsActive: true}

	user := &auth.User{
		ID:           "u-kai",
		Email:        "kai@amphoraxe.ca",
		PasswordHash: legacyHash(testPassword),
		Name:         "Kai",
		IsActive:     true,
		IsApproved:   true,
	}
	store.users[user.ID] = user
	store.grants[user.ID] = []string{"dbamp"}

	svc := auth.NewService(
		store,
		auth.NewHasher(2),
		auth.NewSessionManager(store.Sessions()),
		ratelimit.New(loginLimit, 5*time.Minute),
		ratelimit.New(3, time.Hour),
		nopRecorder{},
	)
	api := New(svc, csrf.NewGuard(), nopRecorder{}, ReadyProbe{}, Options{
		Version:         "test",
		CookieDomain:    "amphoraxe.ca",
		SessionDuration: time.Hour,
	})
	return api.Handler(), store
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, mod func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if mod != nil {
		mod(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func authCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	return nil
}

func TestLoginEndpoint(t *testing.T) {
	h, _ := newTestAPI(t, 5)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		`{"email":"kai@amphoraxe.ca","password":"`+testPassword+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var res loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Token == "" || res.User.Email != "kai@amphoraxe.ca" {
		t.Fatalf("unexpected body: %+v", res)
	}
	if len(res.Apps) != 1 || res.Apps[0] != "dbamp" {
		t.Fatalf("apps = %v", res.Apps)
	}

	cookie := authCookie(rec)
	if cookie == nil {
		t.Fatal("session cookie not set")
	}
	if cookie.Value != res.Token {
		t.Fatal("cookie token differs from body token")
	}
	if !cookie.HttpOnly {
		t.Fatal("session cookie must be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("SameSite = %v, want Lax", cookie.SameSite)
	}
	if cookie.Domain != "amphoraxe.ca" {
		t.Fatalf("Domain = %q", cookie.Domain)
	}
}

func TestLoginEndpointBadCredentials(t *testing.T) {
	h, _ := newTestAPI(t, 5)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		`{"email":"kai@amphoraxe.ca","password":"wrong"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if authCookie(rec) != nil {
		t.Fatal("no cookie on failure")
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid email or password" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestLoginEndpointRateLimited(t *testing.T) {
	h, _ := newTestAPI(t, 2)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
			`{"email":"kai@amphoraxe.ca","password":"wrong"}`, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d", i+1, rec.Code)
		}
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		`{"email":"kai@amphoraxe.ca","password":"`+testPassword+`"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
}

func TestValidateEndpoint(t *testing.T) {
	h, _ := newTestAPI(t, 5)

	login := doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		`{"email":"kai@amphoraxe.ca","password":"`+testPassword+`"}`, nil)
	cookie := authCookie(login)
	if cookie == nil {
		t.Fatal("login did not set a cookie")
	}

	// Cookie path.
	rec := doJSON(t, h, http.MethodGet, "/api/v1/auth/validate", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: CookieName, Value: cookie.Value})
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie validate: %d, body=%s", rec.Code, rec.Body.String())
	}
	var v validateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !v.Valid || v.User.ID != "u-kai" {
		t.Fatalf("body: %+v", v)
	}

	// Bearer path.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/auth/validate", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+cookie.Value)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer validate: %d", rec.Code)
	}

	// No credentials.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/auth/validate", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous validate: %d, want 401", rec.Code)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	h, _ := newTestAPI(t, 5)

	login := doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		`{"email":"kai@amphoraxe.ca","password":"`+testPassword+`"}`, nil)
	cookie := authCookie(login)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/logout", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: CookieName, Value: cookie.Value})
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: %d", rec.Code)
	}
	cleared := authCookie(rec)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("cookie not cleared: %+v", cleared)
	}

	// The token is now dead.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/auth/validate", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: CookieName, Value: cookie.Value})
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("validate after logout: %d, want 401", rec.Code)
	}
}

func TestSignupEndpoint(t *testing.T) {
	h, store := newTestAPI(t, 5)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/signup",
		`{"email":"new@amphoraxe.ca","password":"long enough password","name":"New Person"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, err := store.FindByEmail(context.Background(), "new@amphoraxe.ca"); err != nil {
		t.Fatalf("account not created: %v", err)
	}

	// Short password.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/signup",
		`{"email":"x@amphoraxe.ca","password":"short","name":"X"}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("short password: %d, want 422", rec.Code)
	}

	// Duplicate email.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/signup",
		`{"email":"kai@amphoraxe.ca","password":"long enough password","name":"Dup"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: %d, want 409", rec.Code)
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	h, _ := newTestAPI(t, 5)

	login := doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		`{"email":"kai@amphoraxe.ca","password":"`+testPassword+`"}`, nil)
	cookie := authCookie(login)

	withSession := func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: CookieName, Value: cookie.Value})
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/password",
		`{"current_password":"wrong","new_password":"a brand new password"}`, withSession)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current: %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/password",
		`{"current_password":"`+testPassword+`","new_password":"a brand new password"}`, withSession)
	if rec.Code != http.StatusOK {
		t.Fatalf("change: %d, body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		`{"email":"kai@amphoraxe.ca","password":"a brand new password"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: %d", rec.Code)
	}
}

func TestCSRFTokenEndpoint(t *testing.T) {
	h, _ := newTestAPI(t, 5)

	// Requires a live session.
	rec := doJSON(t, h, http.MethodGet, "/api/v1/auth/csrf", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d, want 401", rec.Code)
	}

	login := doJSON(t, h, http.MethodPost, "/api/v1/auth/login",
		`{"email":"kai@amphoraxe.ca","password":"`+testPassword+`"}`, nil)
	cookie := authCookie(login)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/auth/csrf", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: CookieName, Value: cookie.Value})
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf: %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["csrf_token"] == "" {
		t.Fatal("no token in response")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestAPI(t, 5)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestAPI(t, 5)
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
