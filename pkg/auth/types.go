package auth

import (
	"time"
)

// DefaultDeviceID is recorded when a client does not identify its device.
const DefaultDeviceID = "unknown"

// Session is the server-side record behind a bearer token.
type Session struct {
	ID         string    `json:"id"`
	TokenHash  string    `json:"-"`
	DeviceID   string    `json:"deviceId"`
	IP         string    `json:"ip"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Summary projects the session for listing. The token never leaves the store.
func (s Session) Summary(current bool) SessionSummary {
	return SessionSummary{
		ID:         s.ID,
		DeviceID:   s.DeviceID,
		CreatedAt:  s.CreatedAt.UnixMilli(),
		LastSeenAt: s.LastSeenAt.UnixMilli(),
		IP:         s.IP,
		Current:    current,
	}
}

// SessionSummary is the public view of a session. Timestamps are Unix
// milliseconds.
type SessionSummary struct {
	ID         string `json:"id"`
	DeviceID   string `json:"deviceId"`
	CreatedAt  int64  `json:"createdAt"`
	LastSeenAt int64  `json:"lastSeenAt"`
	IP         string `json:"ip"`
	Current    bool   `json:"current"`
}

// Issued is returned once, at login. Token is the only copy of the secret
// bearer value.
type Issued struct {
	SessionID string
	Token     string
}

// PasswordConfig holds the verification material. The system is configured
// iff either field is non-empty; PasswordHash wins when both are set.
type PasswordConfig struct {
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

// Configured reports whether a password has been set.
func (c PasswordConfig) Configured() bool {
	return c.Password != "" || c.PasswordHash != ""
}

// String redacts the secret so the config can be logged.
func (c PasswordConfig) String() string {
	switch {
	case c.PasswordHash != "":
		return "PasswordConfig{hash:[REDACTED]}"
	case c.Password != "":
		return "PasswordConfig{password:[REDACTED]}"
	default:
		return "PasswordConfig{not configured}"
	}
}

// GoString keeps %#v from printing the secret.
func (c PasswordConfig) GoString() string {
	return c.String()
}

type sessionConfig struct {
	now func() time.Time
}

// SessionOption configures a session store.
type SessionOption func(*sessionConfig)

// WithClock overrides the time source used for session timestamps.
func WithClock(now func() time.Time) SessionOption {
	return func(c *sessionConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func newSessionConfig(opts []SessionOption) sessionConfig {
	cfg := sessionConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
