package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
)

// State of a circuit, as stored in the cache.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Settings configures one circuit.
type Settings struct {
	FailureThreshold int           // consecutive failures before opening
	Timeout          time.Duration // open duration before a half-open trial
	SuccessThreshold int           // half-open successes before closing
}

// Breaker gates calls to one named dependency. State lives in Redis under
// circuit:<name>:{state,failures,successes,opened_at} so every worker
// instance observes the same circuit. Cache errors fail open: a Redis outage
// must not flap delivery on top of the outage itself.
type Breaker struct {
	name     string
	client   *redis.Client
	settings Settings
	log      zerolog.Logger
}

func New(name string, client *redis.Client, settings Settings) *Breaker {
	return &Breaker{
		name:     name,
		client:   client,
		settings: settings,
		log:      logger.WithComponent("circuit_breaker").With().Str("service", name).Logger(),
	}
}

// Name returns the dependency this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Call runs fn under the circuit. When the circuit is open and the timeout
// has not elapsed, fn is not invoked and domain.ErrCircuitOpen is returned.
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	switch b.State(ctx) {
	case StateOpen:
		if !b.shouldAttemptReset(ctx) {
			b.log.Warn().Msg("circuit open, rejecting request")
			return fmt.Errorf("%w for %s", domain.ErrCircuitOpen, b.name)
		}
		b.log.Info().Msg("circuit attempting reset")
		b.setState(ctx, StateHalfOpen)
		return b.try(ctx, fn)
	case StateHalfOpen:
		b.log.Debug().Msg("circuit half-open, trial call")
		return b.try(ctx, fn)
	default:
		return b.try(ctx, fn)
	}
}

// State reads the current circuit state; absence and read errors count as
// closed.
func (b *Breaker) State(ctx context.Context) State {
	value, err := b.client.Get(ctx, b.key("state")).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.log.Error().Err(err).Msg("circuit state read failed, failing open")
		}
		return StateClosed
	}
	switch State(value) {
	case StateOpen, StateHalfOpen, StateClosed:
		return State(value)
	default:
		return StateClosed
	}
}

func (b *Breaker) try(ctx context.Context, fn func() error) error {
	if err := fn(); err != nil {
		b.recordFailure(ctx)
		return err
	}
	b.recordSuccess(ctx)
	return nil
}

func (b *Breaker) recordSuccess(ctx context.Context) {
	switch b.State(ctx) {
	case StateHalfOpen:
		successes, err := b.client.Incr(ctx, b.key("successes")).Result()
		if err != nil {
			b.log.Error().Err(err).Msg("circuit success count update failed")
			return
		}
		b.log.Debug().
			Int64("successes", successes).
			Int("threshold", b.settings.SuccessThreshold).
			Msg("circuit success recorded")

		if successes >= int64(b.settings.SuccessThreshold) {
			b.setState(ctx, StateClosed)
			b.resetCounters(ctx)
			b.log.Info().Msg("circuit closed after recovery")
		}
	case StateClosed:
		if err := b.client.Del(ctx, b.key("failures")).Err(); err != nil {
			b.log.Error().Err(err).Msg("circuit failure count reset failed")
		}
	}
}

func (b *Breaker) recordFailure(ctx context.Context) {
	if b.State(ctx) == StateHalfOpen {
		b.setState(ctx, StateOpen)
		b.setOpenedAt(ctx)
		b.log.Warn().Msg("circuit reopened after failed recovery attempt")
		return
	}

	failures, err := b.client.Incr(ctx, b.key("failures")).Result()
	if err != nil {
		b.log.Error().Err(err).Msg("circuit failure count update failed")
		return
	}
	// Counter carries the breaker timeout as TTL so stale failures age out.
	if err := b.client.Expire(ctx, b.key("failures"), b.settings.Timeout).Err(); err != nil {
		b.log.Error().Err(err).Msg("circuit failure count expire failed")
	}

	b.log.Debug().
		Int64("failures", failures).
		Int("threshold", b.settings.FailureThreshold).
		Msg("circuit failure recorded")

	if failures >= int64(b.settings.FailureThreshold) {
		b.setState(ctx, StateOpen)
		b.setOpenedAt(ctx)
		b.log.Warn().Int64("failures", failures).Msg("circuit opened after consecutive failures")
	}
}

func (b *Breaker) shouldAttemptReset(ctx context.Context) bool {
	openedAt, err := b.client.Get(ctx, b.key("opened_at")).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.log.Error().Err(err).Msg("circuit opened_at read failed, failing open")
			return true
		}
		return false
	}
	return time.Now().Unix()-openedAt >= int64(b.settings.Timeout.Seconds())
}

func (b *Breaker) setState(ctx context.Context, state State) {
	if err := b.client.Set(ctx, b.key("state"), string(state), 0).Err(); err != nil {
		b.log.Error().Err(err).Str("state", string(state)).Msg("circuit state write failed")
	}
}

func (b *Breaker) setOpenedAt(ctx context.Context) {
	if err := b.client.Set(ctx, b.key("opened_at"), time.Now().Unix(), 0).Err(); err != nil {
		b.log.Error().Err(err).Msg("circuit opened_at write failed")
	}
}

func (b *Breaker) resetCounters(ctx context.Context) {
	keys := []string{b.key("failures"), b.key("successes"), b.key("opened_at")}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		b.log.Error().Err(err).Msg("circuit counter reset failed")
	}
}

func (b *Breaker) key(field string) string {
	return fmt.Sprintf("circuit:%s:%s", b.name, field)
}
