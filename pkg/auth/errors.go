package auth

import "errors"

var (
	// ErrInvalidTokenFormat is returned for strings that cannot be a session token.
	ErrInvalidTokenFormat = errors.New("invalid token format")

	// ErrInvalidPasswordHash is returned when the configured hash is not bcrypt.
	ErrInvalidPasswordHash = errors.New("invalid password hash")

	// ErrEmptyPassword is returned by HashPassword for empty input.
	ErrEmptyPassword = errors.New("password must not be empty")
)
