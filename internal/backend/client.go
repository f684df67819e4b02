// Package backend holds the HTTP clients for the three consumed
// systems: the order store, the payment ledger and the seating service.
// Clients make exactly one attempt per call; retry and timeout policy
// belongs to the orchestration step that wraps them.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dinehub/pos-billing-service/internal/config"
	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/dinehub/pos-billing-service/pkg/limiter"
	"github.com/dinehub/pos-billing-service/pkg/logger"
)

// TokenSource supplies the bearer token attached to every outbound
// call. A 401 response invalidates it; re-acquiring a session is the
// caller's concern.
type TokenSource interface {
	Token() (string, error)
	Invalidate()
}

// Client is the shared transport for all backend calls.
type Client struct {
	http    *http.Client
	tokens  TokenSource
	limiter *limiter.Limiter
	logger  logger.Logger
}

// NewClient builds the shared transport. The http.Client carries no
// timeout of its own: per-call deadlines come from the step contexts.
func NewClient(cfg *config.Config, tokens TokenSource, logger logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("nil dependency: config")
	}
	if tokens == nil {
		return nil, errors.New("nil dependency: token source")
	}

	return &Client{
		http:    &http.Client{},
		tokens:  tokens,
		limiter: limiter.New(cfg.Backends.RateInterval, cfg.Backends.RateBurst),
		logger:  logger,
	}, nil
}

// do performs one authenticated JSON round trip. A non-2xx status maps
// to *errs.HTTPStatusError; an unreadable success body maps to
// errs.ErrAmbiguousOutcome so callers can verify instead of assuming
// failure.
func (c *Client) do(ctx context.Context, op, method, url string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: marshal payload: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%s: session token: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()

	c.logger.With(ctx, "op", op, "status", res.StatusCode,
		"duration", time.Since(start).String()).Debugf("backend call")

	if res.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &errs.HTTPStatusError{Operation: op, Code: res.StatusCode}
	}

	if out != nil {
		if err = json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: read response: %w", op, errs.ErrAmbiguousOutcome)
		}
	}

	return nil
}
