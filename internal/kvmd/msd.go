package kvmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// MSDImage describes one stored image
type MSDImage struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Complete bool   `json:"complete"`
}

// MSDDrive is the emulated drive state
type MSDDrive struct {
	Image     *MSDImage `json:"image"`
	Connected bool      `json:"connected"`
	CDROM     bool      `json:"cdrom"`
	RW        bool      `json:"rw"`
}

// MSDState is the mass-storage subsystem state
type MSDState struct {
	Enabled bool     `json:"enabled"`
	Online  bool     `json:"online"`
	Busy    bool     `json:"busy"`
	Drive   MSDDrive `json:"drive"`
}

// MSDState fetches the current mass-storage state
func (c *Client) MSDState(ctx context.Context) (*MSDState, error) {
	var state MSDState
	if err := c.Get(ctx, "/api/msd", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// UploadMSDImage uploads a local image file to the device. An empty
// name uses the local filename.
func (c *Client) UploadMSDImage(ctx context.Context, path, name string) error {
	f, err := os.Open(path) //#nosec G304 -- path is operator-supplied by design
	if err != nil {
		return fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()

	if name == "" {
		name = filepath.Base(path)
	}

	params := url.Values{"image": {name}}
	return c.Post(ctx, "/api/msd/write", params, f, "application/octet-stream", nil)
}

// UploadMSDRemote tells the device to fetch an image from a URL
func (c *Client) UploadMSDRemote(ctx context.Context, imageURL, name string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	params := url.Values{
		"url":     {imageURL},
		"timeout": {strconv.Itoa(int(timeout.Seconds()))},
	}
	if name != "" {
		params.Set("image", name)
	}

	return c.Post(ctx, "/api/msd/write_remote", params, nil, "", nil)
}

// SetMSDParams selects the active image and drive mode. rw is ignored
// in CD-ROM mode; pass nil to leave it unspecified.
func (c *Client) SetMSDParams(ctx context.Context, image string, cdrom bool, rw *bool) error {
	params := url.Values{
		"image": {image},
		"cdrom": {boolParam(cdrom)},
	}
	if rw != nil && !cdrom {
		params.Set("rw", boolParam(*rw))
	}

	return c.Post(ctx, "/api/msd/set_params", params, nil, "", nil)
}

// ConnectMSD attaches or detaches the emulated drive from the host
func (c *Client) ConnectMSD(ctx context.Context, connected bool) error {
	params := url.Values{"connected": {boolParam(connected)}}
	return c.Post(ctx, "/api/msd/set_connected", params, nil, "", nil)
}

// RemoveMSDImage deletes a stored image
func (c *Client) RemoveMSDImage(ctx context.Context, name string) error {
	params := url.Values{"image": {name}}
	return c.Post(ctx, "/api/msd/remove", params, nil, "", nil)
}

// ResetMSD resets the mass-storage subsystem
func (c *Client) ResetMSD(ctx context.Context) error {
	return c.Post(ctx, "/api/msd/reset", nil, nil, "", nil)
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
