package httputil

import (
	"errors"
	"net/http"
	"strings"
)

// TokenQueryParam carries the bearer token for clients that cannot set
// headers (WebSocket upgrades, EventSource).
const TokenQueryParam = "token"

var (
	// ErrNoToken means the request carries no credential at all.
	ErrNoToken = errors.New("missing bearer token")
	// ErrMalformedAuthHeader means an Authorization header is present but is
	// not "Bearer <token>".
	ErrMalformedAuthHeader = errors.New("invalid authorization header format")
)

// TokenSource records where a bearer token was found.
type TokenSource string

const (
	TokenSourceHeader TokenSource = "header"
	TokenSourceQuery  TokenSource = "query"
)

// Token is a bearer credential taken from a request.
type Token struct {
	Value  string
	Source TokenSource
}

// ExtractToken reads the bearer token from the Authorization header, falling
// back to the token query parameter. A malformed header is an error rather
// than a reason to try the query string.
func ExtractToken(r *http.Request) (Token, error) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return Token{}, ErrMalformedAuthHeader
		}
		value := strings.TrimSpace(parts[1])
		if value == "" {
			return Token{}, ErrMalformedAuthHeader
		}
		return Token{Value: value, Source: TokenSourceHeader}, nil
	}

	if value := r.URL.Query().Get(TokenQueryParam); value != "" {
		return Token{Value: value, Source: TokenSourceQuery}, nil
	}

	return Token{}, ErrNoToken
}
