package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound indicates the token is unknown or expired.
var ErrSessionNotFound = errors.New("sessions: not found")

// Session is a server-side login session addressed by an opaque token.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Login     string    `json:"login"`
	Remember  bool      `json:"remember"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store keeps sessions in Redis with per-user indexing so that all of a
// user's sessions can be revoked at once.
type Store struct {
	client      *redis.Client
	ttl         time.Duration
	rememberTTL time.Duration
}

// NewStore constructs a Store. rememberTTL applies to "remember me"
// sessions and should exceed ttl.
func NewStore(client *redis.Client, ttl, rememberTTL time.Duration) *Store {
	return &Store{client: client, ttl: ttl, rememberTTL: rememberTTL}
}

// Create issues a new session token for the user.
func (s *Store) Create(ctx context.Context, userID int64, login string, remember bool) (*Session, error) {
	ttl := s.ttl
	if remember {
		ttl = s.rememberTTL
	}
	now := time.Now().UTC()
	sess := &Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		Login:     login,
		Remember:  remember,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.Token), payload, ttl)
	pipe.SAdd(ctx, userIndexKey(userID), sess.Token)
	pipe.Expire(ctx, userIndexKey(userID), s.rememberTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("sessions: create: %w", err)
	}
	return sess, nil
}

// Validate returns the session for a token, or ErrSessionNotFound when
// the token is unknown or has expired. A successful validation slides
// the session lifetime forward by its full TTL.
func (s *Store) Validate(ctx context.Context, token string) (*Session, error) {
	payload, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("sessions: validate: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, err
	}
	if !sess.ExpiresAt.After(time.Now().UTC()) {
		_ = s.Invalidate(ctx, token)
		return nil, ErrSessionNotFound
	}
	s.refresh(ctx, &sess)
	return &sess, nil
}

// refresh re-arms the TTL after a successful validation. Failures are
// ignored: the caller already holds a valid session.
func (s *Store) refresh(ctx context.Context, sess *Session) {
	ttl := s.ttl
	if sess.Remember {
		ttl = s.rememberTTL
	}
	sess.ExpiresAt = time.Now().UTC().Add(ttl)
	payload, err := json.Marshal(sess)
	if err != nil {
		return
	}
	_ = s.client.Set(ctx, sessionKey(sess.Token), payload, ttl).Err()
}

// Invalidate removes one session.
func (s *Store) Invalidate(ctx context.Context, token string) error {
	payload, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err == nil {
		_ = s.client.SRem(ctx, userIndexKey(sess.UserID), token).Err()
	}
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// InvalidateAllForUser removes every session the user holds and returns
// how many were dropped.
func (s *Store) InvalidateAllForUser(ctx context.Context, userID int64) (int, error) {
	tokens, err := s.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, token := range tokens {
		exists, err := s.client.Exists(ctx, sessionKey(token)).Result()
		if err != nil {
			return count, err
		}
		if exists > 0 {
			if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
				return count, err
			}
			count++
		}
	}
	if err := s.client.Del(ctx, userIndexKey(userID)).Err(); err != nil {
		return count, err
	}
	return count, nil
}

// ListForUser returns the user's live sessions.
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]Session, error) {
	tokens, err := s.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var sessions []Session
	for _, token := range tokens {
		payload, err := s.client.Get(ctx, sessionKey(token)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				_ = s.client.SRem(ctx, userIndexKey(userID), token).Err()
				continue
			}
			return nil, err
		}
		var sess Session
		if err := json.Unmarshal(payload, &sess); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func sessionKey(token string) string {
	return "session:" + token
}

func userIndexKey(userID int64) string {
	return fmt.Sprintf("user_sessions:%d", userID)
}
