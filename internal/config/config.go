package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents a session's config.toml. Zero values fall back to the
// defaults below at load time.
type Config struct {
	// ServerURL is the http(s) base of the backend; the websocket endpoint
	// and the health/broadcast/upload paths are derived from it.
	ServerURL string `toml:"server_url"`

	// Identity handed to the join handshake. Token may also come from an
	// external auth collaborator; this is the standalone-daemon fallback.
	UserID   string `toml:"user_id"`
	UserRole string `toml:"user_role"`
	Token    string `toml:"token"`

	ReconnectAttempts int `toml:"reconnect_attempts"`
	ReconnectDelayMS  int `toml:"reconnect_delay_ms"`
	TypingQuietMS     int `toml:"typing_quiet_ms"`
	ProbeIntervalS    int `toml:"probe_interval_s"`
	ProbeTimeoutS     int `toml:"probe_timeout_s"`
	RecoveryDelayMS   int `toml:"recovery_delay_ms"`
}

// Default returns the config with all tunables at their standard values.
func Default() *Config {
	return &Config{
		ReconnectAttempts: 5,
		ReconnectDelayMS:  1000,
		TypingQuietMS:     1000,
		ProbeIntervalS:    30,
		ProbeTimeoutS:     5,
		RecoveryDelayMS:   1000,
	}
}

// Load reads config from the given path and fills unset tunables with
// defaults. A missing file yields defaults without error; any other read
// or parse failure is returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = d.ReconnectAttempts
	}
	if c.ReconnectDelayMS <= 0 {
		c.ReconnectDelayMS = d.ReconnectDelayMS
	}
	if c.TypingQuietMS <= 0 {
		c.TypingQuietMS = d.TypingQuietMS
	}
	if c.ProbeIntervalS <= 0 {
		c.ProbeIntervalS = d.ProbeIntervalS
	}
	if c.ProbeTimeoutS <= 0 {
		c.ProbeTimeoutS = d.ProbeTimeoutS
	}
	if c.RecoveryDelayMS <= 0 {
		c.RecoveryDelayMS = d.RecoveryDelayMS
	}
}
