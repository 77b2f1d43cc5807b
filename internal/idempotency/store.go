package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/retry"
)

const (
	valueProcessing = "processing"
	valueSent       = "sent"
	valueFailed     = "failed"
)

// Store tracks the delivery state of logical notifications in Redis. The
// check-then-mark sequence is deliberately non-atomic; the guarantee is
// at-most-one successful delivery per key within the TTL window, with the
// push gateway deduplicating near-simultaneous races on the same key.
type Store struct {
	client      *redis.Client
	ttl         time.Duration
	retryConfig retry.Config
}

// NewStore creates an idempotency store. MarkSent writes are wrapped in the
// retry engine; the other writes fail fast.
func NewStore(client *redis.Client, ttl time.Duration, retryConfig retry.Config) *Store {
	return &Store{
		client:      client,
		ttl:         ttl,
		retryConfig: retryConfig,
	}
}

// Key builds the cache key for an idempotency key.
func (s *Store) Key(idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s", idempotencyKey)
}

// Check reads the current state for a key. Unknown stored values are logged
// and reported as NotFound.
func (s *Store) Check(ctx context.Context, idempotencyKey string) (domain.IdempotencyStatus, error) {
	key := s.Key(idempotencyKey)

	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.IdempotencyNotFound, nil
		}
		return domain.IdempotencyNotFound, fmt.Errorf("failed to read idempotency state: %w", err)
	}

	switch value {
	case valueProcessing:
		return domain.IdempotencyProcessing, nil
	case valueSent:
		return domain.IdempotencySent, nil
	case valueFailed:
		return domain.IdempotencyFailed, nil
	default:
		logger.Logger.Warn().
			Str("key", key).
			Str("value", value).
			Msg("unknown idempotency state, treating as not found")
		return domain.IdempotencyNotFound, nil
	}
}

// MarkProcessing records that this worker is handling the key.
func (s *Store) MarkProcessing(ctx context.Context, idempotencyKey string) error {
	if err := s.client.Set(ctx, s.Key(idempotencyKey), valueProcessing, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark as processing: %w", err)
	}
	return nil
}

// MarkSent records successful delivery. Retried: losing this write after a
// successful push risks a duplicate send on redelivery.
func (s *Store) MarkSent(ctx context.Context, idempotencyKey string) error {
	key := s.Key(idempotencyKey)
	err := retry.Do(ctx, s.retryConfig, func() error {
		return s.client.Set(ctx, key, valueSent, s.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to mark as sent: %w", err)
	}
	return nil
}

// MarkFailed records terminal failure.
func (s *Store) MarkFailed(ctx context.Context, idempotencyKey string) error {
	if err := s.client.Set(ctx, s.Key(idempotencyKey), valueFailed, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark as failed: %w", err)
	}
	return nil
}
