package catalog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/moment-museum/giftscan/pkg/httpx"
	"github.com/moment-museum/giftscan/pkg/retry"
	"go.uber.org/zap"
)

// Metadata describes a collectible as known to the asset catalog.
type Metadata struct {
	Tier           string `json:"tier"`
	EditionID      uint64 `json:"editionID"`
	PlayerIdentity string `json:"playerIdentity"`
}

// Resolver looks up catalog metadata for a moment.
type Resolver interface {
	Metadata(ctx context.Context, momentID uint64) (*Metadata, error)
}

const momentQuery = `query ($momentId: ID!) {
  moment(id: $momentId) {
    tier
    editionID
    playerIdentity
  }
}`

// Client queries the asset-catalog GraphQL API through the shared
// resilient HTTP wrapper.
type Client struct {
	endpoint string
	http     *httpx.Client
}

var _ Resolver = (*Client)(nil)

// Opts is the set of options for a new catalog Client.
type Opts struct {
	Endpoint   string
	Timeout    time.Duration
	Retry      retry.Config
	HTTPClient *httpx.Client
}

// NewClient creates a catalog client with the given options.
func NewClient(logger *zap.Logger, o Opts) *Client {
	hc := o.HTTPClient
	if hc == nil {
		hc = httpx.New(logger, httpx.Opts{Timeout: o.Timeout, Retry: o.Retry})
	}
	return &Client{endpoint: o.Endpoint, http: hc}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type momentResponse struct {
	Data struct {
		Moment *Metadata `json:"moment"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// Metadata returns tier, edition and player identity for a moment.
func (c *Client) Metadata(ctx context.Context, momentID uint64) (*Metadata, error) {
	req := graphqlRequest{
		Query:     momentQuery,
		Variables: map[string]any{"momentId": strconv.FormatUint(momentID, 10)},
	}

	var resp momentResponse
	if err := c.http.PostJSON(ctx, "catalog metadata", c.endpoint, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("catalog query for moment %d: %s", momentID, resp.Errors[0].Message)
	}
	if resp.Data.Moment == nil {
		return nil, fmt.Errorf("moment %d not found in catalog", momentID)
	}
	return resp.Data.Moment, nil
}
