package config

import "strings"

// Endpoint paths relative to ServerURL.
const (
	wsPath        = "/ws"
	probePath     = "/health"
	broadcastPath = "/api/broadcast"
	uploadPath    = "/api/upload"
)

func (c *Config) base() string {
	return strings.TrimSuffix(c.ServerURL, "/")
}

// WebsocketURL derives the realtime endpoint from the server base.
func (c *Config) WebsocketURL() string {
	base := c.base()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + wsPath
}

// ProbeURL is the liveness endpoint checked by the connectivity monitor.
func (c *Config) ProbeURL() string { return c.base() + probePath }

// BroadcastURL is the fan-out REST endpoint.
func (c *Config) BroadcastURL() string { return c.base() + broadcastPath }

// UploadURL is the image upload endpoint.
func (c *Config) UploadURL() string { return c.base() + uploadPath }
