package config

import "testing"

func TestEndpointDerivation(t *testing.T) {
	cases := []struct {
		base  string
		ws    string
		probe string
	}{
		{"https://chat.example.edu", "wss://chat.example.edu/ws", "https://chat.example.edu/health"},
		{"http://localhost:8080", "ws://localhost:8080/ws", "http://localhost:8080/health"},
		{"http://localhost:8080/", "ws://localhost:8080/ws", "http://localhost:8080/health"},
	}
	for _, c := range cases {
		cfg := &Config{ServerURL: c.base}
		if got := cfg.WebsocketURL(); got != c.ws {
			t.Errorf("WebsocketURL(%q) = %q, want %q", c.base, got, c.ws)
		}
		if got := cfg.ProbeURL(); got != c.probe {
			t.Errorf("ProbeURL(%q) = %q, want %q", c.base, got, c.probe)
		}
	}
}

func TestEndpointPaths(t *testing.T) {
	cfg := &Config{ServerURL: "https://chat.example.edu"}
	if got := cfg.BroadcastURL(); got != "https://chat.example.edu/api/broadcast" {
		t.Errorf("BroadcastURL() = %q", got)
	}
	if got := cfg.UploadURL(); got != "https://chat.example.edu/api/upload" {
		t.Errorf("UploadURL() = %q", got)
	}
}
