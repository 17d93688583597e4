package flow

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// BlockAt returns the block the node reports for the given height.
// Public indexers lag the chain head, so the returned height may be
// lower than requested.
func (c *Client) BlockAt(ctx context.Context, height uint64) (*Block, error) {
	var resp blocksResponse
	q := url.Values{"height": []string{strconv.FormatUint(height, 10)}}
	if err := c.getJSON(ctx, "/blocks", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Blocks) == 0 {
		return nil, fmt.Errorf("no block returned for height %d", height)
	}
	return &resp.Blocks[0], nil
}

// Available reports whether the event log up to the given height can be
// trusted. The node must have indexed safetyDelay blocks past the
// requested height; querying a block the indexer only just reached
// returns an incomplete event set and silently under-counts transfers.
func (c *Client) Available(ctx context.Context, height uint64) (bool, error) {
	target := height + c.safetyDelay
	b, err := c.BlockAt(ctx, target)
	if err != nil {
		return false, err
	}
	return b.Height >= target, nil
}
