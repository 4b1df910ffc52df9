package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// TokenPrefix marks Codeck bearer tokens.
	TokenPrefix = "codeck_"
	// TokenBytes is the amount of randomness in a token.
	TokenBytes = 32
)

var tokenEncoding = base64.RawURLEncoding

// newToken returns a fresh bearer token and the digest it is stored under.
// Tokens are codeck_ followed by unpadded base64url so they survive being
// passed as a query parameter.
func newToken() (token, digest string, err error) {
	var raw [TokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", "", fmt.Errorf("read random bytes: %w", err)
	}
	token = TokenPrefix + tokenEncoding.EncodeToString(raw[:])
	return token, hashToken(token), nil
}

// hashToken is the only form of a token that is ever stored.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// newSessionID returns the public identifier of a session. It is unrelated
// to the token so listing sessions never leaks a credential.
func newSessionID() string {
	return uuid.NewString()
}

// checkTokenFormat rejects anything that could not have come from newToken,
// which saves a store lookup for garbage input.
func checkTokenFormat(token string) error {
	payload, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return fmt.Errorf("%w: missing %q prefix", ErrInvalidTokenFormat, TokenPrefix)
	}
	if n := tokenEncoding.DecodedLen(len(payload)); n != TokenBytes {
		return fmt.Errorf("%w: want %d random bytes, got %d", ErrInvalidTokenFormat, TokenBytes, n)
	}
	if _, err := tokenEncoding.DecodeString(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTokenFormat, err)
	}
	return nil
}
