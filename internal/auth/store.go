package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the auth core needs. Entity CRUD
// beyond these reads is owned by the admin surface and lives elsewhere.
type Store interface {
	Users() UserStore
	Sessions() SessionStore
	Apps() AppStore
	Access() AccessStore
	Audit() AuditStore
}

// UserStore reads and mutates accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByEmail matches case-insensitively.
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// SessionStore manages session rows.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	// FindUserByToken joins the session with its owner; it returns
	// ErrNotFound when no row matches, the row is expired, or the owner is
	// inactive. Callers must not learn which.
	FindUserByToken(ctx context.Context, token string, now time.Time) (*User, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpiredByUser(ctx context.Context, userID string, now time.Time) error
}

// AppStore reads the app registry.
type AppStore interface {
	FindBySlug(ctx context.Context, slug string) (*App, error)
	ListActiveSlugs(ctx context.Context) ([]string, error)
}

// AccessStore reads the access-rule relations consumed by the resolver.
// Rows are owned by the admin CRUD surface; the resolver only reads them.
type AccessStore interface {
	// UserOverrides returns the explicit per-user rows for active,
	// non-admin-only apps, keyed by app slug.
	UserOverrides(ctx context.Context, userID string) (map[string]bool, error)
	// GroupGrantedSlugs returns slugs of active, non-admin-only apps granted
	// through any of the user's groups.
	GroupGrantedSlugs(ctx context.Context, userID string) ([]string, error)
	// FeatureGrants returns every feature permission row that applies to the
	// user in the given app through group membership.
	FeatureGrants(ctx context.Context, userID, appID string) ([]FeaturePermission, error)
}

// AuditStore appends immutable audit events.
type AuditStore interface {
	Append(ctx context.Context, e *AuditEvent) error
}
