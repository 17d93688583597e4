package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/moment-museum/giftscan/pkg/retry"
	"github.com/moment-museum/giftscan/pkg/utils"
	"go.uber.org/zap"
)

// ErrMalformedResponse marks a 2xx response whose body could not be
// decoded. The payload will not change on a retry, so the loop stops
// immediately; callers decide whether the record it belongs to can be
// skipped.
var ErrMalformedResponse = errors.New("malformed response")

// Client is the single resilience wrapper for every outbound call.
// 429 responses honor Retry-After, 5xx and transport errors back off
// exponentially with jitter, any other 4xx fails immediately since it
// signals a request bug rather than transient unavailability. The
// wrapper is stateless between calls.
type Client struct {
	client *http.Client
	logger *zap.Logger
	retry  retry.Config
}

// Opts is the set of options for a new Client.
type Opts struct {
	Timeout    time.Duration
	Retry      retry.Config
	HTTPClient *http.Client
}

// New creates a resilient HTTP client with the given options.
func New(logger *zap.Logger, o Opts) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Retry.MaxRetries == 0 {
		o.Retry = retry.DefaultConfig()
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}
	return &Client{client: client, logger: logger, retry: o.Retry}
}

// GetJSON performs a GET with the retry policy and decodes into out.
func (c *Client) GetJSON(ctx context.Context, operation, url string, out any) error {
	return c.do(ctx, operation, http.MethodGet, url, nil, out)
}

// PostJSON performs a POST with a JSON payload and the retry policy.
func (c *Client) PostJSON(ctx context.Context, operation, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", operation, err)
	}
	return c.do(ctx, operation, http.MethodPost, url, body, out)
}

func (c *Client) do(ctx context.Context, operation, method, url string, body []byte, out any) error {
	return retry.WithBackoff(ctx, c.retry, c.logger, operation, func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			after := parseRetryAfter(resp.Header.Get("Retry-After"))
			_ = utils.DrainAndClose(resp.Body)
			rateErr := fmt.Errorf("%s: http 429", operation)
			if after > 0 {
				return retry.After(after, rateErr)
			}
			return rateErr
		case resp.StatusCode >= 500:
			_ = utils.DrainAndClose(resp.Body)
			return fmt.Errorf("%s: server %d", operation, resp.StatusCode)
		case resp.StatusCode >= 400:
			_ = utils.DrainAndClose(resp.Body)
			return retry.Permanent(fmt.Errorf("%s: http %d", operation, resp.StatusCode))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				_ = utils.DrainAndClose(resp.Body)
				return retry.Permanent(fmt.Errorf("%s: %w: %w", operation, ErrMalformedResponse, err))
			}
		}
		return utils.DrainAndClose(resp.Body)
	})
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
