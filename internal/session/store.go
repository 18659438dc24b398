// Package session stores the per-(entity, user) conversation sessions that
// correlate command dispatches with module responses.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

// ErrNotFound is returned when a session is absent or expired.
var ErrNotFound = errors.New("session not found")

// Session is the correlation token for a user's in-flight exchange on one
// entity.
type Session struct {
	SessionID     string    `json:"session_id"`
	EntityID      string    `json:"entity_id"`
	UserID        string    `json:"user_id"`
	CorrelationID string    `json:"correlation_id"`
	ModuleID      string    `json:"module_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists sessions in Redis with a refresh-on-touch TTL.
type Store struct {
	cache *redis.Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewStore creates a session store. ttl defaults to one hour.
func NewStore(client *redis.Client, ttl time.Duration, log *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		cache: redis.NewCache(client, "waddlebot", "session"),
		ttl:   ttl,
		log:   log.With(zap.String("module", "session")),
	}
}

func key(entityID, userID string) string {
	return fmt.Sprintf("%s|%s", entityID, userID)
}

// Resolve returns the live session for (entityID, userID), minting a new one
// when absent or expired. The TTL is refreshed on every call.
func (s *Store) Resolve(ctx context.Context, entityID, userID string) (*Session, error) {
	var sess Session
	err := s.cache.Get(ctx, key(entityID, userID), "", &sess)
	switch {
	case err == nil && sess.SessionID != "":
	case errors.Is(err, redis.ErrCacheMiss):
		sess = Session{
			SessionID:     uuid.NewString(),
			EntityID:      entityID,
			UserID:        userID,
			CorrelationID: uuid.NewString(),
			CreatedAt:     time.Now().UTC(),
		}
	default:
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if err := s.cache.Set(ctx, key(entityID, userID), "", &sess, s.ttl); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return &sess, nil
}

// Get returns the session by its composite key without refreshing the TTL.
func (s *Store) Get(ctx context.Context, entityID, userID string) (*Session, error) {
	var sess Session
	err := s.cache.Get(ctx, key(entityID, userID), "", &sess)
	if errors.Is(err, redis.ErrCacheMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Touch updates the stored session, refreshing its TTL.
func (s *Store) Touch(ctx context.Context, sess *Session) error {
	return s.cache.Set(ctx, key(sess.EntityID, sess.UserID), "", sess, s.ttl)
}
