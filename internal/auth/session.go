package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"amphoraxe.ca/internal/ids"
)

const sessionTokenBytes = 32 // 256 bits of entropy before encoding

// DefaultSessionDuration applies when no duration is configured.
const DefaultSessionDuration = 7 * 24 * time.Hour

// SessionManager issues, resolves and revokes opaque session tokens.
type SessionManager struct {
	sessions SessionStore
	duration time.Duration
	now      func() time.Time
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionDuration overrides the session lifetime.
func WithSessionDuration(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.duration = d
		}
	}
}

// WithSessionClock overrides the time source (useful for tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewSessionManager constructs a SessionManager over the given store.
func NewSessionManager(sessions SessionStore, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		sessions: sessions,
		duration: DefaultSessionDuration,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Duration returns the configured session lifetime.
func (m *SessionManager) Duration() time.Duration { return m.duration }

// NewToken returns an unguessable URL-safe token from a cryptographically
// secure source.
func NewToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create issues a new session for userID. As a side effect it reaps this
// user's already-expired sessions; there is no global sweep.
func (m *SessionManager) Create(ctx context.Context, userID, ip, userAgent string) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	now := m.now().UTC()
	if err := m.sessions.DeleteExpiredByUser(ctx, userID, now); err != nil {
		return "", err
	}
	sess := &Session{
		ID:        ids.New(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: now.Add(m.duration),
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the owning active user for a live token, or (nil, nil)
// when the token is unknown, expired, or the owner is deactivated. The three
// causes are indistinguishable to callers.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}
	user, err := m.sessions.FindUserByToken(ctx, token, m.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Revoke deletes a single session. Idempotent; reports whether a row was
// actually removed.
func (m *SessionManager) Revoke(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return m.sessions.DeleteByToken(ctx, token)
}

// RevokeAll deletes every session owned by userID, forcing logout everywhere.
func (m *SessionManager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return m.sessions.DeleteByUser(ctx, userID)
}
