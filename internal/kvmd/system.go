package kvmd

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SystemInfo fetches device information, optionally narrowed to the
// given top-level fields (hw, system, msd, extras, ...)
func (c *Client) SystemInfo(ctx context.Context, fields ...string) (map[string]any, error) {
	var params url.Values
	if len(fields) > 0 {
		params = url.Values{"fields": {strings.Join(fields, ",")}}
	}

	var info map[string]any
	if err := c.Get(ctx, "/api/info", params, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// SystemLog fetches device logs; seek limits the window to the most
// recent duration, zero fetches everything
func (c *Client) SystemLog(ctx context.Context, seek time.Duration) (string, error) {
	params := url.Values{}
	if seek > 0 {
		params.Set("seek", strconv.Itoa(int(seek.Seconds())))
	}

	body, err := c.getRaw(ctx, "/api/log", params)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PrometheusMetrics fetches the device's own metrics exposition
func (c *Client) PrometheusMetrics(ctx context.Context) (string, error) {
	body, err := c.getRaw(ctx, "/api/export/prometheus/metrics", nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
