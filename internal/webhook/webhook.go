// Package webhook delivers task responses to their callback URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fieldtasks/pkg/api"

	"github.com/cenkalti/backoff/v4"
)

// Config holds webhook delivery settings.
type Config struct {
	Timeout         time.Duration // Per-attempt request timeout (default: 10s)
	MaxElapsed      time.Duration // Give up after this long (default: 1m)
	InitialInterval time.Duration // First retry delay (default: 500ms)
	Logger          *slog.Logger
}

// Client PATCHes JSON task responses to callback URLs.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     *slog.Logger
}

// New creates a webhook client.
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxElapsed <= 0 {
		config.MaxElapsed = time.Minute
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		logger:     config.Logger,
	}
}

// StatusError is returned when the callback answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("callback %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Notify sends rsp to callbackURL, retrying with exponential backoff.
// Client errors other than 429 are not retried.
func (c *Client) Notify(ctx context.Context, callbackURL string, rsp api.TaskResponse) error {
	body, err := json.Marshal(rsp)
	if err != nil {
		return fmt.Errorf("marshal task response: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialInterval
	b.MaxElapsedTime = c.config.MaxElapsed

	op := func() error {
		err := c.send(ctx, callbackURL, body)
		if se, ok := err.(*StatusError); ok && se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("callback failed, retrying", "callback_url", callbackURL, "error", err, "retry_in", next)
	}

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

func (c *Client) send(ctx context.Context, callbackURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, callbackURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: callbackURL, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}
