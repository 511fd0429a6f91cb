package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"amphoraxe.ca/internal/auth"
	"amphoraxe.ca/internal/ids"
)

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users(id, email, password_hash, name, is_admin, is_active, is_approved)
		values($1, lower($2), $3, $4, $5, $6, $7)
		returning created_at
	`, u.ID, u.Email, u.PasswordHash, u.Name, u.IsAdmin, u.IsActive, u.IsApproved)
	if err := row.Scan(&u.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, name, is_admin, is_active, is_approved, created_at, last_login
		from users where id = $1
	`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, name, is_admin, is_active, is_approved, created_at, last_login
		from users where lower(email) = lower($1)
	`, email)
	return scanUser(row)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash = $1 where id = $2`, passwordHash, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *userStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login = $1 where id = $2`, at, userID)
	return err
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u         auth.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name,
		&u.IsAdmin, &u.IsActive, &u.IsApproved, &u.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}
	return &u, nil
}

// Session store ------------------------------------------------------------

type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, user_id, token, expires_at, ip_address, user_agent)
		values($1, $2, $3, $4, $5, $6)
	`, sess.ID, sess.UserID, sess.Token, sess.ExpiresAt, sess.IPAddress, sess.UserAgent)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *sessionStore) FindUserByToken(ctx context.Context, token string, now time.Time) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select u.id, u.email, u.password_hash, u.name, u.is_admin, u.is_active, u.is_approved, u.created_at, u.last_login
		from users u
		join sessions s on u.id = s.user_id
		where s.token = $1 and s.expires_at > $2 and u.is_active
	`, token, now)
	return scanUser(row)
}

func (s *sessionStore) DeleteByToken(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where token = $1`, token)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff > 0, nil
}

func (s *sessionStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sessionStore) DeleteExpiredByUser(ctx context.Context, userID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`delete from sessions where user_id = $1 and expires_at < $2`, userID, now)
	return err
}

// App store ----------------------------------------------------------------

type appStore struct{ db *sql.DB }

func (s *appStore) FindBySlug(ctx context.Context, slug string) (*auth.App, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, slug, name, is_active, admin_only, created_at
		from apps where slug = $1
	`, slug)
	var a auth.App
	err := row.Scan(&a.ID, &a.Slug, &a.Name, &a.IsActive, &a.AdminOnly, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *appStore) ListActiveSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select slug from apps where is_active order by slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// Access store -------------------------------------------------------------

type accessStore struct{ db *sql.DB }

func (s *accessStore) UserOverrides(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		select a.slug, ua.has_access
		from user_app_access ua
		join apps a on ua.app_id = a.id
		where ua.user_id = $1 and a.is_active and not a.admin_only
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make(map[string]bool)
	for rows.Next() {
		var (
			slug      string
			hasAccess bool
		)
		if err := rows.Scan(&slug, &hasAccess); err != nil {
			return nil, err
		}
		overrides[slug] = hasAccess
	}
	return overrides, rows.Err()
}

func (s *accessStore) GroupGrantedSlugs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct a.slug
		from group_app_access ga
		join apps a on ga.app_id = a.id
		join user_groups ug on ga.group_id = ug.group_id
		where ug.user_id = $1 and ga.has_access and a.is_active and not a.admin_only
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

func (s *accessStore) FeatureGrants(ctx context.Context, userID, appID string) ([]auth.FeaturePermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select fp.group_id, fp.app_id, fp.feature_name, fp.can_read, fp.can_write, fp.can_delete, fp.can_execute
		from feature_permissions fp
		join user_groups ug on fp.group_id = ug.group_id
		where ug.user_id = $1 and fp.app_id = $2
	`, userID, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []auth.FeaturePermission
	for rows.Next() {
		var g auth.FeaturePermission
		if err := rows.Scan(&g.GroupID, &g.AppID, &g.FeatureName,
			&g.Read, &g.Write, &g.Delete, &g.Execute); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Audit store --------------------------------------------------------------

type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, e *auth.AuditEvent) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	var actor any
	if e.ActorID != "" {
		actor = e.ActorID
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, actor_id, action, resource_type, resource_id, detail, ip_address, occurred_at)
		values($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, actor, e.Action, e.ResourceType, e.ResourceID, e.Detail, e.IPAddress, e.OccurredAt)
	return err
}
