package kvmd

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// GPIOChannel is the state of one input or output channel
type GPIOChannel struct {
	State bool `json:"state"`
	Busy  bool `json:"busy"`
}

// GPIOState is the GPIO subsystem state
type GPIOState struct {
	Inputs  map[string]GPIOChannel `json:"inputs"`
	Outputs map[string]GPIOChannel `json:"outputs"`
}

// GPIOState fetches the current GPIO state
func (c *Client) GPIOState(ctx context.Context) (*GPIOState, error) {
	var state GPIOState
	if err := c.Get(ctx, "/api/gpio", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SwitchGPIOChannel sets an output channel to 0 or 1
func (c *Client) SwitchGPIOChannel(ctx context.Context, channel string, state int, wait bool) error {
	if state != 0 && state != 1 {
		return fmt.Errorf("invalid GPIO state: %d", state)
	}

	params := url.Values{
		"channel": {channel},
		"state":   {strconv.Itoa(state)},
	}
	if wait {
		params.Set("wait", "1")
	}

	return c.Post(ctx, "/api/gpio/switch", params, nil, "", nil)
}

// PulseGPIOChannel pulses an output channel; a zero delay uses the
// channel's configured pulse time
func (c *Client) PulseGPIOChannel(ctx context.Context, channel string, delay time.Duration, wait bool) error {
	params := url.Values{"channel": {channel}}
	if delay > 0 {
		params.Set("delay", strconv.FormatFloat(delay.Seconds(), 'f', -1, 64))
	}
	if wait {
		params.Set("wait", "1")
	}

	return c.Post(ctx, "/api/gpio/pulse", params, nil, "", nil)
}
