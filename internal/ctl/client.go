package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/classline/classline/internal/broadcast"
	"github.com/classline/classline/internal/model"
)

// Client talks to a session daemon's control socket over HTTP.
type Client struct {
	httpc *http.Client
}

// Status is the daemon's /status payload.
type Status struct {
	Session         string `json:"session"`
	State           string `json:"state"`
	Blocked         bool   `json:"blocked"`
	Network         string `json:"network"`
	Server          string `json:"server"`
	LastConnectedAt int64  `json:"lastConnectedAt"`
}

// New returns a client bound to the daemon's Unix domain socket.
func New(socketPath string) *Client {
	return &Client{
		httpc: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Status fetches the daemon's connection and gate state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Retry triggers the manual connectivity retry.
func (c *Client) Retry(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/retry", nil, nil)
}

// Foreground notifies the daemon the app surface is visible again.
func (c *Client) Foreground(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/foreground", nil, nil)
}

// ForceReconnect tears the realtime connection down and redials.
func (c *Client) ForceReconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/force-reconnect", nil, nil)
}

// Broadcast fans a message out to every enrolled student.
func (c *Client) Broadcast(ctx context.Context, body string) (*broadcast.Result, error) {
	req := map[string]string{"body": body, "kind": string(model.KindText)}
	var res broadcast.Result
	if err := c.do(ctx, http.MethodPost, "/broadcast", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Rooms lists the cached rooms in render order.
func (c *Client) Rooms(ctx context.Context) ([]model.Room, error) {
	var rooms []model.Room
	if err := c.do(ctx, http.MethodGet, "/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// Messages lists a room's reconciled messages.
func (c *Client) Messages(ctx context.Context, roomID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, "/rooms/"+roomID+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Send transmits a text message into a room.
func (c *Client) Send(ctx context.Context, roomID, body string) (*model.Message, error) {
	req := map[string]string{"body": body}
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, "/rooms/"+roomID+"/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Join opens the room's realtime session.
func (c *Client) Join(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+roomID+"/join", nil, nil)
}

// Leave closes the room's realtime session.
func (c *Client) Leave(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+roomID+"/leave", nil, nil)
}

// TogglePin flips a room's pin and returns the new state.
func (c *Client) TogglePin(ctx context.Context, roomID string) (bool, error) {
	var res struct {
		Pinned bool `json:"pinned"`
	}
	if err := c.do(ctx, http.MethodPost, "/rooms/"+roomID+"/pin", nil, &res); err != nil {
		return false, err
	}
	return res.Pinned, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://daemon"+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("dial daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("daemon: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
