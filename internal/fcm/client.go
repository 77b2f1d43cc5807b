package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/circuitbreaker"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/retry"
)

// Scope required by the FCM v1 send API.
const Scope = "https://www.googleapis.com/auth/firebase.messaging"

const requestTimeout = 10 * time.Second

// sendRequest is the FCM v1 envelope.
type sendRequest struct {
	Message message `json:"message"`
}

type message struct {
	Token        string            `json:"token"`
	Notification notification      `json:"notification"`
	Data         map[string]string `json:"data"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Client delivers rendered notifications to FCM. Sends run through the
// circuit breaker, with the retry engine inside it.
type Client struct {
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	endpoint    string
	breaker     *circuitbreaker.Breaker
	retryConfig retry.Config
	log         zerolog.Logger
}

// NewClient builds a client authenticating via Application Default
// Credentials.
func NewClient(ctx context.Context, projectID string, breaker *circuitbreaker.Breaker, retryConfig retry.Config) (*Client, error) {
	ts, err := google.DefaultTokenSource(ctx, Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to build FCM token source: %w", err)
	}
	return NewClientWithTokenSource(projectID, ts, breaker, retryConfig), nil
}

// NewClientWithTokenSource builds a client with an explicit token source.
func NewClientWithTokenSource(projectID string, ts oauth2.TokenSource, breaker *circuitbreaker.Breaker, retryConfig retry.Config) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: requestTimeout},
		tokenSource: ts,
		endpoint:    fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", projectID),
		breaker:     breaker,
		retryConfig: retryConfig,
		log:         logger.WithComponent("fcm_client"),
	}
}

// Send pushes one notification to a device. The trace id always travels in
// the payload data map.
func (c *Client) Send(ctx context.Context, deviceToken, title, body, traceID string, extraData map[string]string) error {
	data := make(map[string]string, len(extraData)+1)
	for k, v := range extraData {
		data[k] = v
	}
	data["trace_id"] = traceID

	payload := sendRequest{
		Message: message{
			Token:        deviceToken,
			Notification: notification{Title: title, Body: body},
			Data:         data,
		},
	}

	return c.breaker.Call(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			return c.sendOnce(ctx, payload)
		})
	})
}

func (c *Client) sendOnce(ctx context.Context, payload sendRequest) error {
	token, err := c.tokenSource.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain FCM bearer token: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode FCM payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build FCM request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("FCM request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		c.log.Debug().Msg("push notification sent")
		return nil
	}

	// Surface the gateway response verbatim.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("FCM request failed: %s", string(body))
}
