package config

import (
	"fmt"
	"time"
)

// Config represents the main Tether configuration
type Config struct {
	// Gateway connection settings
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Client identity presented during the handshake
	Client ClientConfig `json:"client" mapstructure:"client"`

	// Subscription / persistent connection behavior
	Subscribe SubscribeConfig `json:"subscribe" mapstructure:"subscribe"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway endpoint and credentials
type GatewayConfig struct {
	URL      string `json:"url" mapstructure:"url"`
	Token    string `json:"token" mapstructure:"token"`
	Password string `json:"password" mapstructure:"password"`

	// RequestTimeout bounds one RPC round trip including the handshake
	RequestTimeoutMs int `json:"request_timeout_ms" mapstructure:"request_timeout_ms"`
}

// ClientConfig identifies this client to the gateway
type ClientConfig struct {
	ID          string   `json:"id" mapstructure:"id"`
	DisplayName string   `json:"display_name" mapstructure:"display_name"`
	Mode        string   `json:"mode" mapstructure:"mode"`
	Role        string   `json:"role" mapstructure:"role"`
	Scopes      []string `json:"scopes" mapstructure:"scopes"`
}

// SubscribeConfig holds persistent connection tuning
type SubscribeConfig struct {
	PingIntervalMs   int  `json:"ping_interval_ms" mapstructure:"ping_interval_ms"`
	ReconnectDelayMs int  `json:"reconnect_delay_ms" mapstructure:"reconnect_delay_ms"`
	AutoReconnect    bool `json:"auto_reconnect" mapstructure:"auto_reconnect"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a configuration with sane defaults
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:              "ws://127.0.0.1:18789/ws",
			RequestTimeoutMs: 30000,
		},
		Client: ClientConfig{
			ID:          "tether",
			DisplayName: "Tether",
			Mode:        "backend",
			Role:        "operator",
			Scopes:      []string{"operator.read", "operator.write"},
		},
		Subscribe: SubscribeConfig{
			PingIntervalMs:   15000,
			ReconnectDelayMs: 2000,
			AutoReconnect:    true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}

// Validate checks the configuration for required fields
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Gateway.Token == "" && c.Gateway.Password == "" {
		return fmt.Errorf("gateway.token or gateway.password is required")
	}
	if c.Client.ID == "" {
		return fmt.Errorf("client.id is required")
	}
	if c.Gateway.RequestTimeoutMs <= 0 {
		return fmt.Errorf("gateway.request_timeout_ms must be positive")
	}
	return nil
}

// RequestTimeout returns the RPC timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutMs) * time.Millisecond
}

// PingInterval returns the keep-alive interval as a duration
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Subscribe.PingIntervalMs) * time.Millisecond
}

// ReconnectDelay returns the reconnect delay as a duration
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Subscribe.ReconnectDelayMs) * time.Millisecond
}
