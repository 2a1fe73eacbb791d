package kvmd

import (
	"context"
	"fmt"
	"net/url"
)

// ATXLeds reports the front-panel LED states
type ATXLeds struct {
	Power bool `json:"power"`
	HDD   bool `json:"hdd"`
}

// ATXState is the power-control subsystem state
type ATXState struct {
	Enabled bool    `json:"enabled"`
	Busy    bool    `json:"busy"`
	Leds    ATXLeds `json:"leds"`
}

// ATXState fetches the current power-control state
func (c *Client) ATXState(ctx context.Context) (*ATXState, error) {
	var state ATXState
	if err := c.Get(ctx, "/api/atx", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SetATXPower changes the host power state. Valid actions are "on",
// "off", "off_hard" and "reset_hard".
func (c *Client) SetATXPower(ctx context.Context, action string, wait bool) error {
	switch action {
	case "on", "off", "off_hard", "reset_hard":
	default:
		return fmt.Errorf("invalid ATX power action: %q", action)
	}

	params := url.Values{"action": {action}}
	if wait {
		params.Set("wait", "1")
	}

	return c.Post(ctx, "/api/atx/power", params, nil, "", nil)
}

// ClickATXButton sends a front-panel button press. Valid buttons are
// "power", "power_long" and "reset".
func (c *Client) ClickATXButton(ctx context.Context, button string, wait bool) error {
	switch button {
	case "power", "power_long", "reset":
	default:
		return fmt.Errorf("invalid ATX button: %q", button)
	}

	params := url.Values{"button": {button}}
	if wait {
		params.Set("wait", "1")
	}

	return c.Post(ctx, "/api/atx/click", params, nil, "", nil)
}
