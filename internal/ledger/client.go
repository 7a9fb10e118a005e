// Package ledger is the rate-limited client for the remote accounting API.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/service"
)

// ClientConfig configures the remote client.
type ClientConfig struct {
	BaseURL     string
	TenantID    string
	MaxAttempts int // first try included
	BackoffBase time.Duration
	BackoffMax  time.Duration
	RateLimit   float64 // requests per second
	RateBurst   int
	Timeout     time.Duration
}

type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewClient creates a client. tokens may be nil for unauthenticated endpoints (tests, stubs).
func NewClient(cfg ClientConfig, tokens oauth2.TokenSource) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = 60 * cfg.BackoffBase
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if tokens != nil {
		httpClient.Transport = &oauth2.Transport{Source: tokens, Base: http.DefaultTransport}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		sleep:      sleepContext,
		now:        time.Now,
	}
}

// SetSleep replaces the backoff sleep (tests)
func (c *Client) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	c.sleep = sleep
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// List fetches one page of a remote listing
func (c *Client) List(ctx context.Context, query service.ListQuery) (*service.Page, error) {
	ep, ok := endpoints[query.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrUnknownEntityKind, query.Kind)
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(query.Page))
	if query.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(query.PageSize))
	}
	if where := whereClause(query.Kind, query.Since); where != "" {
		params.Set("where", where)
	}

	header := http.Header{}
	if query.ModifiedSince != nil {
		header.Set("If-Modified-Since", query.ModifiedSince.UTC().Format(http.TimeFormat))
	}

	body, err := c.call(ctx, ep.collection, params, header)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s page %d: %w", query.Kind, query.Page, err)
	}

	items, err := decodeCollection(query.Kind, body)
	if err != nil {
		return nil, err
	}

	zap.S().Debugf("Ledger API returned %d %s (page %d)", len(items), query.Kind, query.Page)
	return &service.Page{Items: items}, nil
}

// Get fetches a single entity by its remote ID
func (c *Client) Get(ctx context.Context, kind models.EntityKind, remoteID string) (*service.RemoteEntity, error) {
	ep, ok := endpoints[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrUnknownEntityKind, kind)
	}

	body, err := c.call(ctx, ep.collection+"/"+url.PathEscape(remoteID), nil, nil)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s %s", service.ErrEntityNotFound, kind, remoteID)
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, remoteID, err)
	}

	items, err := decodeCollection(kind, body)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].RemoteID == remoteID {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", service.ErrEntityNotFound, kind, remoteID)
}

// call performs a GET with rate limiting and bounded retries.
// Each call keeps its own attempt counter; the limiter is the only shared state.
func (c *Client) call(ctx context.Context, path string, params url.Values, header http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.doOnce(ctx, path, params, header)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			return nil, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(attempt, err, c.cfg.BackoffBase, c.cfg.BackoffMax)
		zap.S().Warnf("Warning: ledger call %s failed (attempt %d/%d), retrying in %s: %v",
			path, attempt, c.cfg.MaxAttempts, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &service.RemoteUnavailableError{Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

func (c *Client) doOnce(ctx context.Context, path string, params url.Values, header http.Header) ([]byte, error) {
	fullURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.TenantID != "" {
		req.Header.Set("Tenant-Id", c.cfg.TenantID)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// nothing modified since If-Modified-Since
	if resp.StatusCode == http.StatusNotModified {
		return []byte("{}"), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	}

	return body, nil
}
