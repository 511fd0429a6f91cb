package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password, inactive
	// and unapproved accounts. Deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrUnauthorized indicates a missing, invalid or expired token.
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrForbidden indicates a valid user lacking admin privilege.
	ErrForbidden = errors.New("auth: forbidden")

	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("auth: invalid input")

	// ErrConflict indicates a duplicate unique key (email, slug).
	ErrConflict = errors.New("auth: already exists")

	// ErrNotFound is the store-level absence sentinel.
	ErrNotFound = errors.New("auth: not found")
)

// RateLimitedError carries the advisory retry-after duration.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("auth: rate limited, retry after %s", e.RetryAfter)
}

// IsRateLimited reports whether err is a limiter denial and returns it.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
