package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

var errBackend = errors.New("session backend unavailable")

// Config holds store tunables.
type Config struct {
	// Prefix namespaces the redis keys.
	Prefix string
	// Lifetime is the ordinary session TTL; Get slides it forward on
	// each access.
	Lifetime time.Duration
	// RememberMeLifetime is applied instead when the context carries the
	// remember-me flag. It is effectively non-expiring.
	RememberMeLifetime time.Duration
}

// Store persists Contexts in redis, one JSON row per session id.
type Store struct {
	redis *redis.Client
	cfg   Config
}

// NewStore builds a Store on the given client.
func NewStore(redisClient *redis.Client, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "ntsess"
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 24 * time.Hour
	}
	if cfg.RememberMeLifetime < cfg.Lifetime {
		cfg.RememberMeLifetime = cfg.Lifetime
	}
	return &Store{redis: redisClient, cfg: cfg}
}

func (s *Store) key(sid string) string {
	return s.cfg.Prefix + ":" + sid
}

// NewID returns a fresh 128-bit session id, base64url without padding.
func NewID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func (s *Store) ttlFor(sess *Context) time.Duration {
	if sess.RememberMe {
		return s.cfg.RememberMeLifetime
	}
	return s.cfg.Lifetime
}

// Save writes sess under sid with the lifetime matching its remember-me
// flag.
func (s *Store) Save(ctx context.Context, sid string, sess *Context) error {
	if sess.CreatedAt == 0 {
		sess.CreatedAt = time.Now().Unix()
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sid), data, s.ttlFor(sess)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errBackend, err)
	}
	return nil
}

// Get loads the context for sid, sliding the expiry forward.
func (s *Store) Get(ctx context.Context, sid string) (*Context, error) {
	data, err := s.redis.Get(ctx, s.key(sid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", errBackend, err)
	}

	sess := &Context{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, err
	}

	// Sliding expiration is best-effort; a failed EXPIRE only shortens
	// the session, never extends it.
	_ = s.redis.Expire(ctx, s.key(sid), s.ttlFor(sess)).Err()

	return sess, nil
}

// Delete removes the session row. Deleting an absent row is not an
// error.
func (s *Store) Delete(ctx context.Context, sid string) error {
	if err := s.redis.Del(ctx, s.key(sid)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errBackend, err)
	}
	return nil
}
