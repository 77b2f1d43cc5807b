package template

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/circuitbreaker"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/retry"
)

func testBreaker(t *testing.T) *circuitbreaker.Breaker {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return circuitbreaker.New("template_service", client, circuitbreaker.Settings{
		FailureThreshold: 3,
		Timeout:          time.Hour,
		SuccessThreshold: 1,
	})
}

func testRetryConfig(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:       attempts,
		InitialDelay:      time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/templates/WELCOME", r.URL.Path)
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"code": "WELCOME",
			"language": "en",
			"content": {"title": "Hi {{user_name}}", "body": "Welcome"},
			"variables": ["user_name"]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testBreaker(t), testRetryConfig(1))

	tmpl, err := c.Fetch(context.Background(), "WELCOME", "en")
	require.NoError(t, err)
	assert.Equal(t, "WELCOME", tmpl.Code)
	assert.Equal(t, "Hi {{user_name}}", tmpl.Content.Title)
	assert.Equal(t, []string{"user_name"}, tmpl.Variables)
}

func TestClient_Fetch_DefaultLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		_, _ = w.Write([]byte(`{"code":"X","language":"en","content":{"title":"t","body":"b"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testBreaker(t), testRetryConfig(1))

	_, err := c.Fetch(context.Background(), "X", "")
	require.NoError(t, err)
}

func TestClient_Fetch_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testBreaker(t), testRetryConfig(1))

	_, err := c.Fetch(context.Background(), "MISSING", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestClient_Fetch_RetriesUpToMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"code":"X","language":"en","content":{"title":"t","body":"b"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testBreaker(t), testRetryConfig(3))

	_, err := c.Fetch(context.Background(), "X", "en")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Fetch_CircuitOpenShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testBreaker(t), testRetryConfig(1))

	// Trip the breaker: one breaker failure per Fetch.
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "X", "en")
		require.Error(t, err)
	}
	before := calls.Load()

	_, err := c.Fetch(context.Background(), "X", "en")
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, before, calls.Load())
}
