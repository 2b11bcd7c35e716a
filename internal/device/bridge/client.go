// Package bridge talks to an emulator over a small HTTP bridge. The client
// implements device.Device and detect.MemoryReader.
package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andywolf/gamepilot/internal/action"
	"github.com/andywolf/gamepilot/internal/device"
	"github.com/andywolf/gamepilot/internal/version"
)

// DefaultTimeout bounds every bridge request.
const DefaultTimeout = 5 * time.Second

// Client is an HTTP bridge client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Status is the bridge's view of the emulator.
type Status struct {
	Running bool   `json:"running"`
	Title   string `json:"title"`
}

type inputRequest struct {
	Button string `json:"button"`
	State  string `json:"state"`
}

type memoryResponse struct {
	Data string `json:"data"`
}

// New creates a bridge client rooted at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Status fetches the emulator status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	resp, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("failed to decode status: %w", err)
	}
	return st, nil
}

// IsRunning reports whether the emulator is running. Bridge errors count as
// not running.
func (c *Client) IsRunning(ctx context.Context) bool {
	st, err := c.Status(ctx)
	return err == nil && st.Running
}

// Title returns the running game's title.
func (c *Client) Title(ctx context.Context) (string, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return "", err
	}
	return st.Title, nil
}

// CaptureFrame fetches and decodes the current PNG frame.
func (c *Client) CaptureFrame(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/frame", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, device.ErrNoFrame
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("/frame", resp)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// PressButton implements action.Input.
func (c *Client) PressButton(ctx context.Context, b action.Button) error {
	return c.input(ctx, b, "press")
}

// ReleaseButton implements action.Input.
func (c *Client) ReleaseButton(ctx context.Context, b action.Button) error {
	return c.input(ctx, b, "release")
}

func (c *Client) input(ctx context.Context, b action.Button, state string) error {
	if !b.IsDevice() {
		return fmt.Errorf("button %q is not a device button", b)
	}
	body, err := json.Marshal(inputRequest{Button: string(b), State: state})
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/input", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ReadMemory implements detect.MemoryReader.
func (c *Client) ReadMemory(ctx context.Context, address uint32, length int) ([]byte, error) {
	q := url.Values{}
	q.Set("address", strconv.FormatUint(uint64(address), 10))
	q.Set("length", strconv.Itoa(length))

	resp, err := c.do(ctx, http.MethodGet, "/memory?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mr memoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("failed to decode memory response: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(mr.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode memory data: %w", err)
	}
	if len(data) < length {
		return nil, fmt.Errorf("short memory read at 0x%04X: got %d bytes, want %d", address, len(data), length)
	}
	return data[:length], nil
}

// do sends a request and returns the response if it is 2xx.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge request %s %s failed: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(path, resp)
	}
	return resp, nil
}

func statusError(path string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("bridge %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
}
