package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pricewatch/internal/metrics"
	"pricewatch/internal/version"
)

const maxBodyBytes = 4 << 20

// httpClient is the transport shared by the JSON-over-HTTP adapters: it applies
// the rate limiter, the per-call timeout and error normalisation.
type httpClient struct {
	name      string
	baseURL   string
	apiKey    string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	limiter   *Limiter
	logger    zerolog.Logger
}

func newHTTPClient(name string, cfg Config, deps Deps, defaultBaseURL string, defaultTimeout time.Duration) *httpClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	return &httpClient{
		name:      name,
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		userAgent: userAgent,
		timeout:   timeout,
		client:    client,
		limiter:   NewLimiter(cfg.Requests, cfg.Window, deps.Clock),
		logger:    deps.Logger.With().Str("component", "provider").Str("provider", name).Logger(),
	}
}

// getJSON issues a GET and decodes the body into out. It returns the raw body
// so adapters can keep per-offer payloads.
func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, out any) ([]byte, error) {
	waited, err := c.limiter.Wait(ctx)
	metrics.RateLimitWait.WithLabelValues(c.name).Observe(waited.Seconds())
	if err != nil {
		return nil, c.fail(transportError(c.name, err))
	}
	if waited > 0 {
		c.logger.Debug().Dur("waited", waited).Msg("rate limit window wait")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, c.fail(&Error{Provider: c.name, Kind: KindProvider, Err: err})
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ProviderLatency.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.fail(transportError(c.name, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(transportError(c.name, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := statusError(c.name, resp.StatusCode, resp.Header, body)
		if perr.Kind == KindRateLimited {
			c.limiter.Penalize(perr.RetryAfter)
		}
		return nil, c.fail(perr)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return nil, c.fail(&Error{Provider: c.name, Kind: KindProvider, Err: fmt.Errorf("decode response: %w", err)})
	}

	metrics.ProviderRequests.WithLabelValues(c.name, "ok").Inc()
	return body, nil
}

func (c *httpClient) fail(err *Error) error {
	metrics.ProviderRequests.WithLabelValues(c.name, string(err.Kind)).Inc()
	c.logger.Warn().Err(err).Str("kind", string(err.Kind)).Msg("provider request failed")
	return err
}
