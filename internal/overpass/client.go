// Package overpass fetches territory boundary polygons from the Overpass
// API and materializes them into concrete geometries.
package overpass

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/terrastat/soil-pipeline/internal/config"
	"github.com/terrastat/soil-pipeline/internal/model"
	"github.com/terrastat/soil-pipeline/internal/resilience"
)

// Client fetches country boundaries from an Overpass endpoint with a
// bounded timeout, client-side rate limiting, and the standard retry
// policy (linear backoff on 429, exponential on transient failures,
// immediate abort otherwise).
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	policy     resilience.Policy
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPolicy overrides the retry policy.
func WithPolicy(p resilience.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient creates a boundary source client from configuration.
func NewClient(cfg config.OverpassConfig, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 6
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		policy: resilience.Policy{
			MaxAttempts:      cfg.MaxAttempts,
			RateLimitBackoff: resilience.LinearBackoff(time.Duration(cfg.RateLimitBackoffSecs) * time.Second),
			TransientBackoff: resilience.ExponentialBackoff(time.Second, 30*time.Second),
			OnRetry:          resilience.RetryLogger("overpass", "fetch_boundaries"),
		},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type string            `json:"type"`
	ID   int64             `json:"id"`
	Tags map[string]string `json:"tags"`
}

// FetchBoundaries requests the boundary relation for each code (or the
// default allowlist when codes is empty) and returns materialized
// territories in response order. Territories whose geometry cannot be
// materialized are dropped with a warning. Exhausted retries surface as
// an error; the caller treats that as fatal.
func (c *Client) FetchBoundaries(ctx context.Context, countryCodes []string) ([]*model.Territory, error) {
	if len(countryCodes) == 0 {
		countryCodes = config.DefaultCountryCodes
	}
	log := zap.L().With(zap.String("component", "overpass"))

	query := BuildQuery(countryCodes)
	log.Info("fetching territory boundaries",
		zap.Int("codes", len(countryCodes)),
		zap.String("url", c.baseURL),
	)

	resp, err := resilience.DoVal(ctx, c.policy, func(ctx context.Context) (*overpassResponse, error) {
		return c.request(ctx, query)
	})
	if err != nil {
		return nil, eris.Wrap(err, "overpass: fetch boundaries")
	}

	territories := c.parseElements(resp, log)
	if len(territories) == 0 {
		log.Warn("no territories found in Overpass response")
	}

	log.Info("boundary fetch complete", zap.Int("territories", len(territories)))
	return territories, nil
}

// request issues a single POST. Errors are classified so the retry policy
// can distinguish rate limiting and transient failures from permanent ones.
func (c *Client) request(ctx context.Context, query string) (*overpassResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "overpass: rate limiter wait")
	}

	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures carry their transient nature
		// in the error chain; IsTransient picks them up.
		return nil, eris.Wrap(err, "overpass: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resilience.NewTransientError(
			eris.Errorf("overpass: rate limited (status %d)", resp.StatusCode),
			resp.StatusCode,
		)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// Not transient: abort without retry.
		return nil, eris.Errorf("overpass: request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// Malformed body is a permanent failure, not worth retrying.
		return nil, eris.Wrap(err, "overpass: decode response")
	}
	return &parsed, nil
}

// parseElements extracts (code, name, relation id) tuples from relation
// elements, deduplicates by code (first occurrence wins), and materializes
// each territory's boundary geometry.
func (c *Client) parseElements(resp *overpassResponse, log *zap.Logger) []*model.Territory {
	seen := make(map[string]bool)
	var territories []*model.Territory

	for _, el := range resp.Elements {
		if el.Type != "relation" {
			continue
		}
		code := el.Tags["ISO3166-1"]
		if code == "" {
			continue
		}
		if seen[code] {
			log.Warn("duplicate territory code in response, keeping first",
				zap.String("code", code),
				zap.Int64("relation_id", el.ID),
			)
			continue
		}
		seen[code] = true

		name := el.Tags["name"]
		if name == "" {
			name = el.Tags["name:en"]
		}
		if name == "" {
			name = "Unknown"
		}

		boundary, err := MaterializeGeometry(code)
		if err != nil {
			log.Warn("dropping territory: geometry not materializable",
				zap.String("code", code),
				zap.Error(err),
			)
			continue
		}

		territories = append(territories, &model.Territory{
			Code:       code,
			Name:       name,
			RelationID: el.ID,
			Boundary:   boundary,
		})
	}

	return territories
}
