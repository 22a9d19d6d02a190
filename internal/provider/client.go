package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/whitebl3ck/event-payments/internal/observability"
)

// SleepFunc is the backoff primitive between attempts, injected so tests can
// record the schedule instead of sleeping.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type ClientConfig struct {
	Name           string
	BaseURL        string
	Secret         string
	MaxAttempts    int
	AttemptTimeout time.Duration
}

// Client performs HTTPS calls to a payment provider with bounded retry.
// Transport failures and response parse failures are retried with linear
// backoff (attempt-number seconds). An HTTP response with any status code and
// a parseable body is a successful transport result; the caller decides
// whether the provider's logical answer is an error.
type Client struct {
	name           string
	baseURL        string
	secret         string
	maxAttempts    int
	attemptTimeout time.Duration
	hc             *http.Client
	sleep          SleepFunc
	logger         observability.Logger
}

func NewClient(cfg ClientConfig, logger observability.Logger) *Client {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	attemptTimeout := cfg.AttemptTimeout
	if attemptTimeout == 0 {
		attemptTimeout = 15 * time.Second
	}
	return &Client{
		name:           cfg.Name,
		baseURL:        cfg.BaseURL,
		secret:         cfg.Secret,
		maxAttempts:    maxAttempts,
		attemptTimeout: attemptTimeout,
		hc:             &http.Client{},
		sleep:          sleepWithContext,
		logger:         logger.WithField("provider", cfg.Name),
	}
}

// Do performs the call and decodes the JSON response body into out. It
// returns the HTTP status code of the final response. The error, when set,
// carries ErrUnavailable or ErrResponseInvalid wrapping the last cause.
func (c *Client) Do(ctx context.Context, method, path, contentType string, body []byte, out interface{}) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		observability.ProviderAttemptsTotal.WithLabelValues(c.name).Inc()

		status, err := c.attempt(ctx, method, path, contentType, body, out)
		if err == nil {
			return status, nil
		}
		lastErr = err

		if !retryable(err) {
			observability.ProviderFailuresTotal.WithLabelValues(c.name, "transport").Inc()
			return 0, errors.Mark(errors.Wrapf(err, "%s %s", method, path), ErrUnavailable)
		}
		c.logger.WithError(err).WithField("attempt", attempt).Warn("provider call failed")

		if attempt == c.maxAttempts {
			break
		}
		observability.ProviderRetriesTotal.WithLabelValues(c.name).Inc()
		if serr := c.sleep(ctx, time.Duration(attempt)*time.Second); serr != nil {
			return 0, errors.Mark(errors.Wrap(lastErr, "backoff interrupted"), ErrUnavailable)
		}
	}

	mark := ErrUnavailable
	kind := "transport"
	if errors.Is(lastErr, errParse) {
		mark = ErrResponseInvalid
		kind = "parse"
	}
	observability.ProviderFailuresTotal.WithLabelValues(c.name, kind).Inc()
	return 0, errors.Mark(errors.Wrapf(lastErr, "%s %s after %d attempts", method, path, c.maxAttempts), mark)
}

func (c *Client) attempt(ctx context.Context, method, path, contentType string, body []byte, out interface{}) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, classifyTransport(err)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return 0, errors.Mark(err, errParse)
		}
	}
	return resp.StatusCode, nil
}
