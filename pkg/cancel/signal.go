// Package cancel implements the out-of-band cancellation signal: a keyed
// TTL flag in Redis that any process replica can set and the orchestrator
// polls at phase boundaries and drain ticks.
package cancel

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// flagTTL bounds how long a cancel request stays pending. A session that
// never observes the flag (already finished, crashed) must not be killed
// by a stale request minutes later.
const flagTTL = 5 * time.Minute

// Signal is the cancellation interface the orchestrator polls.
type Signal interface {
	// Request sets the cancel flag for a session. Idempotent.
	Request(ctx context.Context, sessionID string) error
	// IsCancelled reports whether the flag is set.
	IsCancelled(ctx context.Context, sessionID string) bool
	// Clear removes the flag. Called on run start and after observation.
	Clear(ctx context.Context, sessionID string) error
}

// RedisSignal stores cancel flags in Redis.
type RedisSignal struct {
	client *redis.Client
}

// NewRedisSignal wraps an existing Redis client.
func NewRedisSignal(client *redis.Client) *RedisSignal {
	return &RedisSignal{client: client}
}

func cancelKey(sessionID string) string {
	return "research:cancel:" + sessionID
}

// Request implements Signal.
func (s *RedisSignal) Request(ctx context.Context, sessionID string) error {
	if err := s.client.Set(ctx, cancelKey(sessionID), "1", flagTTL).Err(); err != nil {
		return fmt.Errorf("setting cancel flag for %s: %w", sessionID, err)
	}
	return nil
}

// IsCancelled implements Signal. Redis errors read as "not cancelled":
// a flaky flag store must not kill healthy runs.
func (s *RedisSignal) IsCancelled(ctx context.Context, sessionID string) bool {
	n, err := s.client.Exists(ctx, cancelKey(sessionID)).Result()
	return err == nil && n > 0
}

// Clear implements Signal.
func (s *RedisSignal) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, cancelKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clearing cancel flag for %s: %w", sessionID, err)
	}
	return nil
}

var _ Signal = (*RedisSignal)(nil)
