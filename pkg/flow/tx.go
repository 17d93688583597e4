package flow

import (
	"context"
	"fmt"
	"net/url"
)

// Transaction returns the full detail for a transaction: its ordered
// event list, sealing status and referenced block.
func (c *Client) Transaction(ctx context.Context, id string) (*Transaction, error) {
	var resp transactionsResponse
	q := url.Values{"id": []string{id}}
	if err := c.getJSON(ctx, "/transaction", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Transactions) == 0 {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	return &resp.Transactions[0], nil
}
