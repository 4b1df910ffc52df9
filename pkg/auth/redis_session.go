package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// touchScript advances last_seen only forward so concurrent touches from
// several replicas cannot move it back.
var touchScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'last_seen')
if not cur then
	return 0
end
if tonumber(ARGV[1]) > tonumber(cur) then
	redis.call('HSET', KEYS[1], 'last_seen', ARGV[1])
end
return 1
`)

// RedisSessionStore keeps sessions in Redis so several gateway replicas
// share them. Layout under prefix:
//
//	<prefix>:token:<hash>  hash of session fields
//	<prefix>:id:<id>       token hash
//	<prefix>:ids           set of live session ids
type RedisSessionStore struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore creates a Redis-backed store.
func NewRedisSessionStore(client *redis.Client, prefix string, opts ...SessionOption) *RedisSessionStore {
	if prefix == "" {
		prefix = "codeck:sessions"
	}
	cfg := newSessionConfig(opts)
	return &RedisSessionStore{
		redis:  client,
		prefix: prefix,
		now:    cfg.now,
	}
}

func (s *RedisSessionStore) tokenKey(hash string) string {
	return fmt.Sprintf("%s:token:%s", s.prefix, hash)
}

func (s *RedisSessionStore) idKey(id string) string {
	return fmt.Sprintf("%s:id:%s", s.prefix, id)
}

func (s *RedisSessionStore) idsKey() string {
	return s.prefix + ":ids"
}

func (s *RedisSessionStore) Issue(ctx context.Context, ip, deviceID string) (Issued, error) {
	token, hash, err := newToken()
	if err != nil {
		return Issued{}, fmt.Errorf("failed to issue session: %w", err)
	}
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}

	id := newSessionID()
	now := strconv.FormatInt(s.now().UnixMilli(), 10)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.tokenKey(hash), map[string]interface{}{
			"id":         id,
			"device_id":  deviceID,
			"ip":         ip,
			"created_at": now,
			"last_seen":  now,
		})
		pipe.Set(ctx, s.idKey(id), hash, 0)
		pipe.SAdd(ctx, s.idsKey(), id)
		return nil
	})
	if err != nil {
		return Issued{}, fmt.Errorf("failed to store session: %w", err)
	}

	return Issued{SessionID: id, Token: token}, nil
}

func (s *RedisSessionStore) Validate(ctx context.Context, token string) (bool, error) {
	if checkTokenFormat(token) != nil {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, s.tokenKey(hashToken(token))).Result()
	if err != nil {
		return false, fmt.Errorf("failed to validate session: %w", err)
	}
	return n == 1, nil
}

func (s *RedisSessionStore) Touch(ctx context.Context, token string) error {
	key := s.tokenKey(hashToken(token))
	err := touchScript.Run(ctx, s.redis, []string{key}, s.now().UnixMilli()).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) GetByToken(ctx context.Context, token string) (Session, bool, error) {
	return s.load(ctx, hashToken(token))
}

func (s *RedisSessionStore) GetByID(ctx context.Context, id string) (Session, bool, error) {
	hash, err := s.redis.Get(ctx, s.idKey(id)).Result()
	if err == redis.Nil {
		return Session{}, false, nil
	} else if err != nil {
		return Session{}, false, fmt.Errorf("failed to look up session id: %w", err)
	}
	return s.load(ctx, hash)
}

func (s *RedisSessionStore) Invalidate(ctx context.Context, token string) (Session, bool, error) {
	return s.remove(ctx, hashToken(token))
}

func (s *RedisSessionStore) RevokeByID(ctx context.Context, id string) (Session, bool, error) {
	hash, err := s.redis.Get(ctx, s.idKey(id)).Result()
	if err == redis.Nil {
		return Session{}, false, nil
	} else if err != nil {
		return Session{}, false, fmt.Errorf("failed to look up session id: %w", err)
	}
	return s.remove(ctx, hash)
}

func (s *RedisSessionStore) remove(ctx context.Context, hash string) (Session, bool, error) {
	sess, ok, err := s.load(ctx, hash)
	if err != nil || !ok {
		return Session{}, false, err
	}

	var del *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.tokenKey(hash))
		pipe.Del(ctx, s.idKey(sess.ID))
		pipe.SRem(ctx, s.idsKey(), sess.ID)
		return nil
	})
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to remove session: %w", err)
	}

	// Another replica may have removed it between load and delete
	return sess, del.Val() == 1, nil
}

func (s *RedisSessionStore) ListActive(ctx context.Context, currentToken string) ([]SessionSummary, error) {
	ids, err := s.redis.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	currentHash := ""
	if currentToken != "" {
		currentHash = hashToken(currentToken)
	}

	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, ok, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			sessions = append(sessions, sess)
		}
	}

	return summarize(sessions, currentHash), nil
}

func (s *RedisSessionStore) Count(ctx context.Context) (int, error) {
	n, err := s.redis.SCard(ctx, s.idsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(n), nil
}

func (s *RedisSessionStore) load(ctx context.Context, hash string) (Session, bool, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(hash)).Result()
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to load session: %w", err)
	}
	if len(fields) == 0 {
		return Session{}, false, nil
	}

	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return Session{}, false, fmt.Errorf("corrupt session created_at: %w", err)
	}
	lastSeen, err := strconv.ParseInt(fields["last_seen"], 10, 64)
	if err != nil {
		return Session{}, false, fmt.Errorf("corrupt session last_seen: %w", err)
	}

	return Session{
		ID:         fields["id"],
		TokenHash:  hash,
		DeviceID:   fields["device_id"],
		IP:         fields["ip"],
		CreatedAt:  time.UnixMilli(created),
		LastSeenAt: time.UnixMilli(lastSeen),
	}, true, nil
}
