package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/circuitbreaker"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Status       string `json:"status"` // "up", "degraded" or "down"
	ResponseTime string `json:"response_time,omitempty"`
	CircuitState string `json:"circuit_state,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Response aggregates all dependency probes.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
	Uptime    string                 `json:"uptime"`
}

// Pinger covers the database handle.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerChecker reports broker connection liveness.
type BrokerChecker interface {
	IsClosed() bool
}

var startTime = time.Now()

// Checker probes the worker's dependencies: Postgres, Redis, RabbitMQ and
// the two outbound circuit breakers. Broker, cache or database loss is
// unhealthy; an open or recovering circuit only degrades the service.
type Checker struct {
	db       Pinger
	redis    *redis.Client
	broker   BrokerChecker
	breakers []*circuitbreaker.Breaker
}

func NewChecker(db Pinger, redisClient *redis.Client, broker BrokerChecker, breakers ...*circuitbreaker.Breaker) *Checker {
	return &Checker{
		db:       db,
		redis:    redisClient,
		broker:   broker,
		breakers: breakers,
	}
}

func (c *Checker) Check(ctx context.Context) Response {
	checks := make(map[string]CheckResult)

	checks["database"] = c.checkDatabase(ctx)
	checks["cache"] = c.checkRedis(ctx)
	checks["message_broker"] = c.checkBroker()
	for _, b := range c.breakers {
		checks[b.Name()] = c.checkCircuit(ctx, b)
	}

	return Response{
		Status:    overall(checks),
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Checks:    checks,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
}

func (c *Checker) checkDatabase(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.db.Ping(ctx); err != nil {
		return CheckResult{Status: "down", Error: err.Error()}
	}
	return CheckResult{Status: "up", ResponseTime: time.Since(start).String()}
}

func (c *Checker) checkRedis(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: "down", Error: err.Error()}
	}
	return CheckResult{Status: "up", ResponseTime: time.Since(start).String()}
}

func (c *Checker) checkBroker() CheckResult {
	if c.broker.IsClosed() {
		return CheckResult{Status: "down", Error: "connection closed"}
	}
	return CheckResult{Status: "up"}
}

func (c *Checker) checkCircuit(ctx context.Context, b *circuitbreaker.Breaker) CheckResult {
	state := b.State(ctx)
	switch state {
	case circuitbreaker.StateClosed:
		return CheckResult{Status: "up", CircuitState: string(state)}
	case circuitbreaker.StateHalfOpen:
		return CheckResult{Status: "degraded", CircuitState: string(state), Error: "circuit in recovery"}
	default:
		return CheckResult{Status: "degraded", CircuitState: string(state), Error: "circuit open"}
	}
}

func overall(checks map[string]CheckResult) Status {
	status := StatusHealthy
	for name, check := range checks {
		switch check.Status {
		case "down":
			// Core infrastructure loss means the worker cannot make progress.
			if name == "database" || name == "cache" || name == "message_broker" {
				return StatusUnhealthy
			}
			status = StatusDegraded
		case "degraded":
			status = StatusDegraded
		}
	}
	return status
}
