// Package ratelimit provides a distributed fixed-window rate limiter backed by
// Redis, with an in-memory fallback window used when Redis is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/pkg/redis"
)

// Limiter counts calls per key in fixed windows. Keys are namespaced per
// caller: <namespace>:<subject>:<window-start>.
type Limiter struct {
	client    *redis.Client
	namespace string
	log       *zap.Logger

	mu       sync.Mutex
	fallback map[string]*window
}

type window struct {
	start time.Time
	count int
}

// New creates a Limiter. client may be nil, in which case only the in-memory
// fallback is used.
func New(client *redis.Client, namespace string, log *zap.Logger) *Limiter {
	return &Limiter{
		client:    client,
		namespace: namespace,
		log:       log.With(zap.String("module", "ratelimit")),
		fallback:  make(map[string]*window),
	}
}

// Allow records one call for subject and reports whether it is within limit
// calls per windowLen. The counter for a window expires with the window.
func (l *Limiter) Allow(ctx context.Context, subject string, limit int, windowLen time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	now := time.Now()
	bucket := now.Truncate(windowLen).Unix()
	key := fmt.Sprintf("%s:%s:%d", l.namespace, subject, bucket)

	if l.client != nil {
		count, err := l.client.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				// First hit in the window owns the expiry.
				if err := l.client.Expire(ctx, key, windowLen).Err(); err != nil {
					l.log.Warn("failed to set rate-limit ttl", zap.String("key", key), zap.Error(err))
				}
			}
			return count <= int64(limit), nil
		}
		l.log.Warn("redis unavailable, using in-memory rate limit", zap.Error(err))
	}

	return l.allowLocal(key, now, limit, windowLen), nil
}

func (l *Limiter) allowLocal(key string, now time.Time, limit int, windowLen time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.fallback[key]
	if !ok || now.Sub(w.start) >= windowLen {
		// Sweep stale windows so the fallback map stays bounded.
		for k, old := range l.fallback {
			if now.Sub(old.start) >= windowLen {
				delete(l.fallback, k)
			}
		}
		w = &window{start: now.Truncate(windowLen)}
		l.fallback[key] = w
	}
	w.count++
	return w.count <= limit
}
