package template

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/circuitbreaker"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/retry"
)

const requestTimeout = 10 * time.Second

// Client fetches notification templates from the template service. Calls run
// through the circuit breaker, with the retry engine inside it.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	breaker     *circuitbreaker.Breaker
	retryConfig retry.Config
	log         zerolog.Logger
}

func NewClient(baseURL string, breaker *circuitbreaker.Breaker, retryConfig retry.Config) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: requestTimeout},
		baseURL:     baseURL,
		breaker:     breaker,
		retryConfig: retryConfig,
		log:         logger.WithComponent("template_client"),
	}
}

// Fetch retrieves a template by code and language.
func (c *Client) Fetch(ctx context.Context, templateCode, language string) (*domain.Template, error) {
	if language == "" {
		language = "en"
	}
	endpoint := fmt.Sprintf("%s/api/v1/templates/%s?lang=%s",
		c.baseURL, url.PathEscape(templateCode), url.QueryEscape(language))

	var tmpl domain.Template
	err := c.breaker.Call(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			return c.fetchOnce(ctx, endpoint, &tmpl)
		})
	})
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string, out *domain.Template) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build template request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("template service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("template service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse template JSON: %w", err)
	}

	c.log.Debug().Str("code", out.Code).Str("language", out.Language).Msg("template fetched")
	return nil
}
