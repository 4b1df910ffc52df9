package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SessionStore owns every live session. Implementations must be safe for
// concurrent use; each token and each id maps to at most one live session.
type SessionStore interface {
	// Issue creates a session and returns its id and bearer token.
	Issue(ctx context.Context, ip, deviceID string) (Issued, error)
	// Validate reports whether token belongs to a live session.
	Validate(ctx context.Context, token string) (bool, error)
	// Touch advances the session's last-seen time. Unknown tokens are ignored.
	Touch(ctx context.Context, token string) error
	GetByToken(ctx context.Context, token string) (Session, bool, error)
	GetByID(ctx context.Context, id string) (Session, bool, error)
	// Invalidate ends the session owning token and returns it.
	Invalidate(ctx context.Context, token string) (Session, bool, error)
	// RevokeByID ends the session with the given id and returns it.
	RevokeByID(ctx context.Context, id string) (Session, bool, error)
	// ListActive returns every live session, oldest first. The session owning
	// currentToken is flagged as current.
	ListActive(ctx context.Context, currentToken string) ([]SessionSummary, error)
	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)
}

// MemorySessionStore keeps sessions in process memory. Sessions do not
// survive a restart.
type MemorySessionStore struct {
	mu     sync.RWMutex
	byHash map[string]*Session
	byID   map[string]string // session id -> token hash
	now    func() time.Time
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore(opts ...SessionOption) *MemorySessionStore {
	cfg := newSessionConfig(opts)
	return &MemorySessionStore{
		byHash: make(map[string]*Session),
		byID:   make(map[string]string),
		now:    cfg.now,
	}
}

func (s *MemorySessionStore) Issue(ctx context.Context, ip, deviceID string) (Issued, error) {
	token, hash, err := newToken()
	if err != nil {
		return Issued{}, fmt.Errorf("failed to issue session: %w", err)
	}
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}

	now := s.now()
	sess := &Session{
		ID:         newSessionID(),
		TokenHash:  hash,
		DeviceID:   deviceID,
		IP:         ip,
		CreatedAt:  now,
		LastSeenAt: now,
	}

	s.mu.Lock()
	s.byHash[hash] = sess
	s.byID[sess.ID] = hash
	s.mu.Unlock()

	return Issued{SessionID: sess.ID, Token: token}, nil
}

func (s *MemorySessionStore) Validate(ctx context.Context, token string) (bool, error) {
	if checkTokenFormat(token) != nil {
		return false, nil
	}
	s.mu.RLock()
	_, ok := s.byHash[hashToken(token)]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemorySessionStore) Touch(ctx context.Context, token string) error {
	hash := hashToken(token)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byHash[hash]; ok && now.After(sess.LastSeenAt) {
		sess.LastSeenAt = now
	}
	return nil
}

func (s *MemorySessionStore) GetByToken(ctx context.Context, token string) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byHash[hashToken(token)]
	if !ok {
		return Session{}, false, nil
	}
	return *sess, true, nil
}

func (s *MemorySessionStore) GetByID(ctx context.Context, id string) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.byID[id]
	if !ok {
		return Session{}, false, nil
	}
	return *s.byHash[hash], true, nil
}

func (s *MemorySessionStore) Invalidate(ctx context.Context, token string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(hashToken(token))
}

func (s *MemorySessionStore) RevokeByID(ctx context.Context, id string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.byID[id]
	if !ok {
		return Session{}, false, nil
	}
	return s.removeLocked(hash)
}

func (s *MemorySessionStore) removeLocked(hash string) (Session, bool, error) {
	sess, ok := s.byHash[hash]
	if !ok {
		return Session{}, false, nil
	}
	delete(s.byHash, hash)
	delete(s.byID, sess.ID)
	return *sess, true, nil
}

func (s *MemorySessionStore) ListActive(ctx context.Context, currentToken string) ([]SessionSummary, error) {
	currentHash := ""
	if currentToken != "" {
		currentHash = hashToken(currentToken)
	}

	s.mu.RLock()
	sessions := make([]Session, 0, len(s.byHash))
	for _, sess := range s.byHash {
		sessions = append(sessions, *sess)
	}
	s.mu.RUnlock()

	return summarize(sessions, currentHash), nil
}

func (s *MemorySessionStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHash), nil
}

func summarize(sessions []Session, currentHash string) []SessionSummary {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Summary(currentHash != "" && sess.TokenHash == currentHash))
	}
	return out
}
