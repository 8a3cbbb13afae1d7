// Package upstream talks to the public statistics providers (REST Countries,
// World Bank, Our World in Data and Wikidata) and exposes them to the
// aggregator through the cache-backed Fetchers facade.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/illmade-knight/go-worldstats/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "World-Data-Explorer/1.0"

	maxBodyBytes = 32 << 20
)

// ClientConfig holds transport settings shared by all providers.
type ClientConfig struct {
	Timeout   time.Duration
	UserAgent string
	// RatePerSecond caps outbound requests per provider. Zero disables the limiter.
	RatePerSecond float64
	Burst         int
}

// Client is the shared HTTP transport used by every provider client.
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a Client. A nil httpClient uses a dedicated keep-alive client.
func NewClient(cfg ClientConfig, httpClient *http.Client, m *metrics.Metrics, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With().Str("component", "UpstreamClient").Logger(),
		limiters:   make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiter(provider string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[provider]
	if !ok {
		limit := rate.Inf
		if c.cfg.RatePerSecond > 0 {
			limit = rate.Limit(c.cfg.RatePerSecond)
		}
		l = rate.NewLimiter(limit, c.cfg.Burst)
		c.limiters[provider] = l
	}
	return l
}

// get performs one GET against a provider and returns the body of a 2xx response.
// All failures are returned as *ProviderError.
func (c *Client) get(ctx context.Context, provider, url, accept string) (body []byte, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(CategoryOf(err))
		}
		c.metrics.ObserveUpstream(provider, outcome, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter(provider).Wait(ctx); err != nil {
		return nil, NewProviderError(CategoryTimeout, provider, "waiting for rate limiter", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewProviderError(CategoryInternal, provider, "build request", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(provider, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(provider, resp); err != nil {
		return nil, err
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransport(provider, err)
	}
	c.logger.Debug().Str("provider", provider).Str("url", url).Int("bytes", len(body)).Msg("Upstream response received.")
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, provider, url, accept string, out any) error {
	body, err := c.get(ctx, provider, url, accept)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewProviderError(CategoryBadData, provider, "decode response", err)
	}
	return nil
}

func classifyTransport(provider string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewProviderError(CategoryTimeout, provider, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewProviderError(CategoryInternal, provider, "request cancelled", err)
	}
	return NewProviderError(CategoryOutage, provider, "request failed", err)
}

func classifyStatus(provider string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return NewProviderError(CategoryNotFound, provider, resp.Status, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewProviderError(CategoryRateLimited, provider, resp.Status, nil)
	case resp.StatusCode >= 500:
		return NewProviderError(CategoryOutage, provider, resp.Status, nil)
	default:
		return NewProviderError(CategoryBadData, provider, fmt.Sprintf("unexpected status %s", resp.Status), nil)
	}
}
