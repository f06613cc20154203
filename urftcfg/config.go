// Package urftcfg holds urft's session configuration: the protocol tuning
// knobs, collected into a value passed into the sender and receiver at
// construction, loadable from a TOML file organized into [Section] tables.
package urftcfg

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// ProtocolConfig holds the ARQ/reassembly tuning parameters.
type ProtocolConfig struct {
	WindowSize          int
	TimeoutMs           int
	MaxRetries          int
	InactivityTimeoutMs int
	PayloadSize         int
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Debug bool
}

// MetricsConfig controls the optional Prometheus exporter.
type MetricsConfig struct {
	Enable  bool
	Address string
}

// Config is urft's full session configuration.
type Config struct {
	Protocol ProtocolConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// Default returns the configuration matching the reference
// implementation's hard-coded constants.
func Default() *Config {
	return &Config{
		Protocol: ProtocolConfig{
			WindowSize:          10,
			TimeoutMs:           1000,
			MaxRetries:          20,
			InactivityTimeoutMs: 10000,
			PayloadSize:         1450,
		},
		Logging: LoggingConfig{
			Debug: false,
		},
		Metrics: MetricsConfig{
			Enable:  false,
			Address: "127.0.0.1:9469",
		},
	}
}

// Load reads a TOML file into a copy of Default, so that any table or
// field the file omits keeps its default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("urftcfg: loading %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the protocol cannot operate under.
func (c *Config) Validate() error {
	switch {
	case c.Protocol.WindowSize < 1:
		return fmt.Errorf("urftcfg: window_size must be >= 1, got %d", c.Protocol.WindowSize)
	case c.Protocol.TimeoutMs < 1:
		return fmt.Errorf("urftcfg: timeout_ms must be >= 1, got %d", c.Protocol.TimeoutMs)
	case c.Protocol.MaxRetries < 0:
		return fmt.Errorf("urftcfg: max_retries must be >= 0, got %d", c.Protocol.MaxRetries)
	case c.Protocol.InactivityTimeoutMs < 1:
		return fmt.Errorf("urftcfg: inactivity_timeout_ms must be >= 1, got %d", c.Protocol.InactivityTimeoutMs)
	case c.Protocol.PayloadSize < 1 || c.Protocol.PayloadSize > 1450:
		return fmt.Errorf("urftcfg: payload_size must be in [1, 1450], got %d", c.Protocol.PayloadSize)
	}
	return nil
}

// Timeout is the per-packet retransmission / socket read deadline.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Protocol.TimeoutMs) * time.Millisecond
}

// InactivityTimeout is the receiver's watchdog threshold.
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.Protocol.InactivityTimeoutMs) * time.Millisecond
}
