package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// bcryptCost matches the work factor the fleet was provisioned for.
const bcryptCost = 12

// HashKind discriminates the stored hash variant, decided once at parse time.
type HashKind int

const (
	// HashBcrypt is the current adaptive format ($2a$/$2b$/$2y$ prefix).
	HashBcrypt HashKind = iota
	// HashLegacy is the fixed-iteration salt$sha256hex format kept only so
	// migrated accounts keep working without a forced reset.
	HashLegacy
	// HashUnknown verifies false for every password.
	HashUnknown
)

// StoredHash is a parsed credential hash. Verification never rewrites the
// stored value; upgrading legacy hashes is a separate migration policy.
type StoredHash struct {
	kind HashKind
	raw  string

	// legacy fields, populated for HashLegacy only
	salt   string
	digest string
}

// ParseStoredHash classifies a stored hash string.
func ParseStoredHash(stored string) StoredHash {
	switch {
	case strings.HasPrefix(stored, "$2a$"),
		strings.HasPrefix(stored, "$2b$"),
		strings.HasPrefix(stored, "$2y$"):
		return StoredHash{kind: HashBcrypt, raw: stored}
	}
	salt, digest, ok := strings.Cut(stored, "$")
	if !ok || salt == "" || digest == "" {
		return StoredHash{kind: HashUnknown, raw: stored}
	}
	return StoredHash{kind: HashLegacy, raw: stored, salt: salt, digest: digest}
}

// Kind returns the parsed variant.
func (h StoredHash) Kind() HashKind { return h.kind }

// Legacy reports whether the hash is in the pre-migration format.
func (h StoredHash) Legacy() bool { return h.kind == HashLegacy }

// Verify checks password against the stored hash. Malformed hashes verify
// false rather than erroring.
func (h StoredHash) Verify(password string) bool {
	switch h.kind {
	case HashBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(h.raw), []byte(password)) == nil
	case HashLegacy:
		sum := sha256.Sum256([]byte(h.salt + password))
		computed := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(h.digest)) == 1
	default:
		return false
	}
}

// Hasher hashes and verifies passwords on a bounded worker pool so that
// CPU-heavy bcrypt work cannot stall request dispatch under login bursts.
type Hasher struct {
	sem  *semaphore.Weighted
	cost int
}

// NewHasher builds a Hasher allowing at most workers concurrent operations.
func NewHasher(workers int) *Hasher {
	if workers <= 0 {
		workers = 1
	}
	return &Hasher{sem: semaphore.NewWeighted(int64(workers)), cost: bcryptCost}
}

// Hash produces a salted bcrypt hash. Every call yields a different output.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrValidation
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify checks password against a stored hash of either supported format.
func (h *Hasher) Verify(ctx context.Context, password, stored string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)
	return ParseStoredHash(stored).Verify(password), nil
}
