package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"amphoraxe.ca/internal/obs"
	"amphoraxe.ca/internal/ratelimit"
)

// MinPasswordLength applies to signup and password changes.
const MinPasswordLength = 12

// AuditRecorder receives every security-relevant outcome, synchronously.
type AuditRecorder interface {
	Event(ctx context.Context, e AuditEvent) error
}

// SignupNotifier is the hook through which admins learn about new accounts.
// Message content and delivery are out of scope here.
type SignupNotifier interface {
	NotifyNewSignup(ctx context.Context, name, email, userID string)
}

// Service composes the credential verifier, rate limiters, session manager
// and access resolver into the operations the HTTP boundary exposes.
type Service struct {
	store    Store
	hasher   *Hasher
	sessions *SessionManager
	resolver *Resolver

	loginLimiter  *ratelimit.Limiter
	signupLimiter *ratelimit.Limiter

	audit    AuditRecorder
	notifier SignupNotifier
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithNotifier installs the admin signup notification hook.
func WithNotifier(n SignupNotifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the core together. All collaborators are explicit; no
// component is reached through ambient globals.
func NewService(store Store, hasher *Hasher, sessions *SessionManager,
	login, signup *ratelimit.Limiter, recorder AuditRecorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		hasher:        hasher,
		sessions:      sessions,
		resolver:      NewResolver(store.Users(), store.Apps(), store.Access()),
		loginLimiter:  login,
		signupLimiter: signup,
		audit:         recorder,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sessions exposes the session manager for forced revocation paths.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Resolver exposes the access resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// LoginResult is what a successful authentication hands back to the boundary.
type LoginResult struct {
	Token string
	User  Identity
	Apps  []string
}

// Login authenticates credentials from ip and issues a session. Every
// credential failure collapses to ErrInvalidCredentials so callers cannot
// enumerate accounts or approval states. The attempt is recorded against the
// limiter whatever the outcome; only a verified success clears the window.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (LoginResult, error) {
	if allowed, retryAfter := s.loginLimiter.Check(ip); !allowed {
		obs.ObserveRateLimited("login")
		s.record(ctx, AuditEvent{
			Action:    "login.rate_limited",
			Detail:    fmt.Sprintf("email=%s", email),
			IPAddress: ip,
		})
		return LoginResult{}, &RateLimitedError{RetryAfter: retryAfter}
	}
	s.loginLimiter.Record(ip)

	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.Users().FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, s.failLogin(ctx, email, ip, "unknown email")
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !user.IsActive {
		return LoginResult{}, s.failLogin(ctx, email, ip, "inactive")
	}
	if !user.IsApproved {
		return LoginResult{}, s.failLogin(ctx, email, ip, "not approved")
	}
	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, s.failLogin(ctx, email, ip, "bad password")
	}

	token, err := s.sessions.Create(ctx, user.ID, ip, userAgent)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.store.Users().TouchLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		return LoginResult{}, err
	}
	s.loginLimiter.Clear(ip)

	obs.ObserveLogin("success")
	obs.ObserveSessionCreated()
	s.record(ctx, AuditEvent{
		ActorID:   user.ID,
		Action:    "login",
		IPAddress: ip,
	})

	apps, err := s.resolver.ResolveAppAccess(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, User: PublicIdentity(user), Apps: apps}, nil
}

// failLogin audits a credential failure before the error propagates, keeping
// the cause visible to operators while the caller sees one opaque error.
func (s *Service) failLogin(ctx context.Context, email, ip, cause string) error {
	obs.ObserveLogin("invalid_credentials")
	s.record(ctx, AuditEvent{
		Action:    "login.failed",
		Detail:    fmt.Sprintf("email=%s (%s)", email, cause),
		IPAddress: ip,
	})
	return ErrInvalidCredentials
}

// Logout revokes the presented session. Idempotent: revoking an unknown
// token succeeds without an audit entry.
func (s *Service) Logout(ctx context.Context, token, ip string) error {
	user, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return err
	}
	removed, err := s.sessions.Revoke(ctx, token)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	obs.ObserveSessionsRevoked(1)
	event := AuditEvent{Action: "logout", IPAddress: ip}
	if user != nil {
		event.ActorID = user.ID
	}
	s.record(ctx, event)
	return nil
}

// Signup registers a new account pending admin approval.
func (s *Service) Signup(ctx context.Context, email, password, name, ip string) (*User, error) {
	if allowed, retryAfter := s.signupLimiter.Check(ip); !allowed {
		obs.ObserveRateLimited("signup")
		s.record(ctx, AuditEvent{
			Action:    "signup.rate_limited",
			Detail:    fmt.Sprintf("email=%s", email),
			IPAddress: ip,
		})
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}
	s.signupLimiter.Record(ip)

	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		IsActive:     true,
		IsApproved:   false,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}

	s.record(ctx, AuditEvent{
		ActorID:   user.ID,
		Action:    "signup",
		Detail:    fmt.Sprintf("name=%s, email=%s", name, email),
		IPAddress: ip,
	})
	if s.notifier != nil {
		s.notifier.NotifyNewSignup(ctx, name, email, user.ID)
	}
	return user, nil
}

// ChangePassword verifies the current password and replaces the stored hash.
// Legacy-format hashes are rewritten to the current format here, on the
// user's explicit action, never silently during verification.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next, ip string) error {
	if len(next) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	user, err := s.store.Users().Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(ctx, current, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	s.record(ctx, AuditEvent{
		ActorID:   userID,
		Action:    "password_change",
		IPAddress: ip,
	})
	return nil
}

// ValidationResult is the token validation contract consumed by every
// downstream application.
type ValidationResult struct {
	User Identity
	Apps []string
	// Features is set only when a target app was supplied.
	Features *FeatureSet
}

// Validate resolves a session token into identity plus effective access.
// Absent, expired and deactivated-owner tokens all yield ErrUnauthorized,
// never a partial result.
func (s *Service) Validate(ctx context.Context, token, appSlug string) (ValidationResult, error) {
	user, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return ValidationResult{}, err
	}
	if user == nil {
		return ValidationResult{}, ErrUnauthorized
	}
	apps, err := s.resolver.ResolveAppAccess(ctx, user.ID)
	if err != nil {
		return ValidationResult{}, err
	}
	result := ValidationResult{User: PublicIdentity(user), Apps: apps}
	if appSlug != "" {
		features, err := s.resolver.ResolveFeatures(ctx, user.ID, appSlug)
		if err != nil {
			return ValidationResult{}, err
		}
		result.Features = &features
	}
	return result, nil
}

// RevokeAllSessions forces logout everywhere for one user, e.g. when an
// account is deactivated.
func (s *Service) RevokeAllSessions(ctx context.Context, userID, ip string) (int64, error) {
	count, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	obs.ObserveSessionsRevoked(int(count))
	s.record(ctx, AuditEvent{
		ActorID:   userID,
		Action:    "sessions.revoke_all",
		Detail:    fmt.Sprintf("count=%d", count),
		IPAddress: ip,
	})
	return count, nil
}

// record writes an audit event; recorder failures must not mask the primary
// outcome, the recorder itself logs them.
func (s *Service) record(ctx context.Context, e AuditEvent) {
	if s.audit != nil {
		_ = s.audit.Event(ctx, e)
	}
}
