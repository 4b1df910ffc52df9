package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Runner executes slow work off the caller's goroutine. *async.WorkerPool
// satisfies it.
type Runner interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// PasswordVerifier compares offered secrets against the configured password.
type PasswordVerifier struct {
	configured bool
	digest     [sha256.Size]byte
	hash       []byte
	runner     Runner
}

// NewPasswordVerifier builds a verifier from cfg. When cfg carries a bcrypt
// hash, comparisons run on runner (inline if runner is nil).
func NewPasswordVerifier(cfg PasswordConfig, runner Runner) (*PasswordVerifier, error) {
	v := &PasswordVerifier{
		configured: cfg.Configured(),
		runner:     runner,
	}

	switch {
	case cfg.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPasswordHash, err)
		}
		v.hash = []byte(cfg.PasswordHash)
	case cfg.Password != "":
		v.digest = sha256.Sum256([]byte(cfg.Password))
	}

	return v, nil
}

// IsConfigured reports whether authentication is enforced at all.
func (v *PasswordVerifier) IsConfigured() bool {
	return v.configured
}

// Verify reports whether candidate matches the configured password. An
// unconfigured verifier matches nothing.
func (v *PasswordVerifier) Verify(ctx context.Context, candidate string) (bool, error) {
	if !v.configured {
		return false, nil
	}

	if v.hash == nil {
		// Digests are fixed length so the comparison time does not depend on
		// the candidate's length.
		sum := sha256.Sum256([]byte(candidate))
		return subtle.ConstantTimeCompare(sum[:], v.digest[:]) == 1, nil
	}

	compare := func(context.Context) error {
		return bcrypt.CompareHashAndPassword(v.hash, []byte(candidate))
	}

	var err error
	if v.runner != nil {
		err = v.runner.Do(ctx, compare)
	} else {
		err = compare(ctx)
	}

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("password verification failed: %w", err)
	}
}

// HashPassword returns a bcrypt hash suitable for PasswordConfig.PasswordHash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
