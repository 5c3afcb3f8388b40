// Package rest is the authenticated read side of the venue connector: /info
// queries routed through the shared rate limiter, with retry and exponential
// backoff on the venue's rate-limit signal. Non-transient errors propagate to
// the caller untouched.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hl-funding-bot/internal/ratelimit"

	"go.uber.org/zap"
)

var (
	// ErrRateLimited marks a venue-side throttle response. Retried with
	// backoff inside the client; surfaced only after attempts are exhausted.
	ErrRateLimited = errors.New("rate limited by venue")
	// ErrTransient marks a network-level failure worth retrying.
	ErrTransient = errors.New("transient network error")
)

const (
	backoffInitial  = 250 * time.Millisecond
	backoffMax      = 8 * time.Second
	backoffAttempts = 5
)

type Client struct {
	baseURL string
	http    *http.Client
	limiter *ratelimit.Limiter
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, limiter *ratelimit.Limiter, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
		log:     log,
	}
}

type InfoRequest struct {
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	Coin      string `json:"coin,omitempty"`
	StartTime int64  `json:"startTime,omitempty"`
	EndTime   int64  `json:"endTime,omitempty"`
}

// Info posts an /info query and decodes the object response.
func (c *Client) Info(ctx context.Context, req interface{}) (map[string]any, error) {
	var data map[string]any
	if err := c.postRetry(ctx, "/info", req, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// InfoAny posts an /info query whose response shape varies (array or object).
func (c *Client) InfoAny(ctx context.Context, req interface{}) (any, error) {
	var data any
	if err := c.postRetry(ctx, "/info", req, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// Post sends a pre-signed payload to an arbitrary path. Used by the exchange
// client so that order traffic shares this limiter and retry policy.
func (c *Client) Post(ctx context.Context, path string, req interface{}) (map[string]any, error) {
	var data map[string]any
	if err := c.postRetry(ctx, path, req, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) postRetry(ctx context.Context, path string, req, out interface{}) error {
	backoff := backoffInitial
	var lastErr error
	for attempt := 0; attempt < backoffAttempts; attempt++ {
		err := c.postOnce(ctx, path, req, out)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrTransient) {
			return err
		}
		lastErr = err
		if c.log != nil {
			c.log.Debug("retrying request",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
	return fmt.Errorf("retries exhausted: %w", lastErr)
}

func (c *Client) postOnce(ctx context.Context, path string, req, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, ratelimit.ChannelREST); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if isRateLimitText(string(body)) {
			return fmt.Errorf("%w: http %d", ErrRateLimited, resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: http %d", ErrTransient, resp.StatusCode)
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}

func isRateLimitText(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests")
}
