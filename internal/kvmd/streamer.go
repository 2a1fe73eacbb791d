package kvmd

import (
	"context"
	"net/url"
)

// StreamerState fetches the video streamer state
func (c *Client) StreamerState(ctx context.Context) (map[string]any, error) {
	var state map[string]any
	if err := c.Get(ctx, "/api/streamer", nil, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// StreamerSnapshot captures a screen snapshot. With ocr set the device
// returns recognized text instead of image bytes.
func (c *Client) StreamerSnapshot(ctx context.Context, ocr bool) ([]byte, error) {
	params := url.Values{"allow_offline": {"1"}}
	if ocr {
		params.Set("ocr", "1")
	}

	return c.getRaw(ctx, "/api/streamer/snapshot", params)
}
