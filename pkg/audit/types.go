package audit

import "time"

// EventKind identifies what happened.
type EventKind string

const (
	EventLoginSuccess   EventKind = "login_success"
	EventLoginFailure   EventKind = "login_failure"
	EventLogout         EventKind = "logout"
	EventSessionRevoked EventKind = "session_revoked"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventLoginSuccess, EventLoginFailure, EventLogout, EventSessionRevoked:
		return true
	}
	return false
}

// Event is an immutable audit record. Timestamp is Unix milliseconds.
type Event struct {
	Kind      EventKind         `json:"type"`
	IP        string            `json:"ip"`
	Timestamp int64             `json:"timestamp"`
	SessionID string            `json:"sessionId,omitempty"`
	DeviceID  string            `json:"deviceId,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Detail carries the optional fields of a recorded event.
type Detail struct {
	SessionID string
	DeviceID  string
	Metadata  map[string]string
}

// SearchFilter selects events from a durable sink.
type SearchFilter struct {
	Kinds []EventKind
	IP    string
	Since *time.Time
	Until *time.Time
	Limit int
	// Latest keeps the last Limit matches rather than the first.
	Latest bool
}
