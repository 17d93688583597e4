package flow

import (
	"context"
	"net/url"
	"strconv"
)

// EventsInRange returns all events with the given fully-qualified name
// emitted in [from, to], inclusive.
func (c *Client) EventsInRange(ctx context.Context, from, to uint64, name string) ([]Event, error) {
	var resp eventsResponse
	q := url.Values{
		"from_height": []string{strconv.FormatUint(from, 10)},
		"to_height":   []string{strconv.FormatUint(to, 10)},
		"name":        []string{name},
	}
	if err := c.getJSON(ctx, "/events", q, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}
