package flow

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/moment-museum/giftscan/pkg/httpx"
	"github.com/moment-museum/giftscan/pkg/retry"
	"go.uber.org/zap"
)

// Client talks to the simple block/event/transaction API of a public
// Flow access node through the shared resilient HTTP wrapper.
type Client struct {
	baseURL string
	http    *httpx.Client

	// safetyDelay is added on top of a requested height before the
	// indexer is trusted to have a complete event log for it.
	safetyDelay uint64
}

// Opts is the set of options for a new Client.
type Opts struct {
	BaseURL     string
	Timeout     time.Duration
	Retry       retry.Config
	SafetyDelay uint64
	HTTPClient  *httpx.Client
}

// New creates a node client with the given options.
func New(logger *zap.Logger, o Opts) *Client {
	hc := o.HTTPClient
	if hc == nil {
		hc = httpx.New(logger, httpx.Opts{Timeout: o.Timeout, Retry: o.Retry})
	}
	return &Client{
		baseURL:     strings.TrimRight(o.BaseURL, "/"),
		http:        hc,
		safetyDelay: o.SafetyDelay,
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.http.GetJSON(ctx, "GET "+path, u, out)
}
