package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store for exercising the core without Postgres.
// Override and group maps hold pre-filtered data, the way the SQL layer
// serves it to the resolver.
type memStore struct {
	mu sync.Mutex

	users    map[string]*User    // by id
	sessions map[string]*Session // by token
	apps     map[string]*App     // by slug

	overrides     map[string]map[string]bool     // userID -> slug -> has_access
	groupSlugs    map[string][]string            // userID -> granted slugs
	featureGrants map[string][]FeaturePermission // userID+"/"+appID

	audit []AuditEvent
	seq   int
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[string]*User),
		sessions:      make(map[string]*Session),
		apps:          make(map[string]*App),
		overrides:     make(map[string]map[string]bool),
		groupSlugs:    make(map[string][]string),
		featureGrants: make(map[string][]FeaturePermission),
	}
}

func (s *memStore) Users() UserStore       { return s }
func (s *memStore) Sessions() SessionStore { return memSessions{s} }
func (s *memStore) Apps() AppStore         { return s }
func (s *memStore) Access() AccessStore    { return s }
func (s *memStore) Audit() AuditStore      { return s }

// memSessions gives session rows their own method set; Create would otherwise
// collide with the user store's Create on memStore.
type memSessions struct{ s *memStore }

func (s *memStore) addUser(u *User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		s.seq++
		u.ID = fmt.Sprintf("user-%d", s.seq)
	}
	s.users[u.ID] = u
	return u
}

func (s *memStore) addApp(a *App) *App {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		s.seq++
		a.ID = fmt.Sprintf("app-%d", s.seq)
	}
	s.apps[a.Slug] = a
	return a
}

func (s *memStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	s.seq++
	u.ID = fmt.Sprintf("user-%d", s.seq)
	u.CreatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return nil
}

func (s *memStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *memStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *memStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = at
	return nil
}

func (s *memStore) addSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
}

func (m memSessions) Create(ctx context.Context, sess *Session) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.sessions[sess.Token]; ok {
		return ErrConflict
	}
	m.s.sessions[sess.Token] = sess
	return nil
}

func (m memSessions) FindUserByToken(ctx context.Context, token string, now time.Time) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[token]
	if !ok || !sess.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	u, ok := m.s.users[sess.UserID]
	if !ok || !u.IsActive {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m memSessions) DeleteByToken(ctx context.Context, token string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.sessions[token]; !ok {
		return false, nil
	}
	delete(m.s.sessions, token)
	return true, nil
}

func (m memSessions) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for token, sess := range m.s.sessions {
		if sess.UserID == userID {
			delete(m.s.sessions, token)
			n++
		}
	}
	return n, nil
}

func (m memSessions) DeleteExpiredByUser(ctx context.Context, userID string, now time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for token, sess := range m.s.sessions {
		if sess.UserID == userID && !sess.ExpiresAt.After(now) {
			delete(m.s.sessions, token)
		}
	}
	return nil
}

func (s *memStore) FindBySlug(ctx context.Context, slug string) (*App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[slug]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *memStore) ListActiveSlugs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var slugs []string
	for _, a := range s.apps {
		if a.IsActive {
			slugs = append(slugs, a.Slug)
		}
	}
	return slugs, nil
}

func (s *memStore) UserOverrides(ctx context.Context, userID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.overrides[userID]))
	for slug, granted := range s.overrides[userID] {
		out[slug] = granted
	}
	return out, nil
}

func (s *memStore) GroupGrantedSlugs(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.groupSlugs[userID]...), nil
}

func (s *memStore) FeatureGrants(ctx context.Context, userID, appID string) ([]FeaturePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FeaturePermission(nil), s.featureGrants[userID+"/"+appID]...), nil
}

func (s *memStore) Append(ctx context.Context, e *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *e)
	return nil
}

func (s *memStore) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]string, 0, len(s.audit))
	for _, e := range s.audit {
		actions = append(actions, e.Action)
	}
	return actions
}

func (s *memStore) sessionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			n++
		}
	}
	return n
}
