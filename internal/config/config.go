// Package config loads the client configuration from a JSONC file.
//
// Behavior toggles that the original design kept in ambient per-session
// storage (intermediate steps on/off, step override) are explicit fields
// here and are passed into the engine and decoder as values, so the fold
// stays a pure function of its inputs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ServerConfig holds backend endpoints
type ServerConfig struct {
	// DuplexURL is the websocket endpoint; chat_id and session
	// parameters are appended per conversation.
	DuplexURL string `json:"duplex_url"`

	// StreamURL is the chunked-HTTP endpoint used when the duplex
	// channel is unavailable.
	StreamURL string `json:"stream_url"`

	// Schema is an optional schema query parameter
	Schema string `json:"schema,omitempty"`
}

// SessionConfig holds connection lifecycle policy
type SessionConfig struct {
	AlwaysOn              bool `json:"always_on"`
	ConnectTimeoutSeconds int  `json:"connect_timeout_seconds"`
	ReconnectBaseMillis   int  `json:"reconnect_base_ms"`
	MaxReconnects         int  `json:"max_reconnects"`
}

// EngineConfig holds reconciliation toggles
type EngineConfig struct {
	IntermediateSteps bool `json:"intermediate_steps"`

	// StepOverride forces step folding even when intermediate_steps is
	// off. Mirrors the per-session override the behavior toggles allow.
	StepOverride bool `json:"step_override,omitempty"`
}

// ArchiveConfig holds transcript archive settings
type ArchiveConfig struct {
	Enabled       bool   `json:"enabled"`
	DataDir       string `json:"data_dir"`
	SweepSchedule string `json:"sweep_schedule,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Dir  string `json:"dir"`
	JSON bool   `json:"json"`
}

// MetricsConfig holds the optional metrics endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"`
}

// Config is the full client configuration
type Config struct {
	Server  ServerConfig  `json:"server"`
	Session SessionConfig `json:"session"`
	Engine  EngineConfig  `json:"engine"`
	Archive ArchiveConfig `json:"archive"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			DuplexURL: "ws://localhost:8800/chat",
			StreamURL: "http://localhost:8800/stream",
		},
		Session: SessionConfig{
			AlwaysOn:              true,
			ConnectTimeoutSeconds: 10,
			ReconnectBaseMillis:   1000,
			MaxReconnects:         5,
		},
		Engine: EngineConfig{
			IntermediateSteps: true,
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			DataDir:       defaultDataDir(),
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Dir: defaultLogDir(),
		},
		Metrics: MetricsConfig{
			Address: "localhost:9190",
		},
	}
}

// Load reads a JSONC config file, layering it over the defaults. A
// missing file returns the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(StripJSONComments(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.DuplexURL == "" && c.Server.StreamURL == "" {
		return fmt.Errorf("at least one of server.duplex_url or server.stream_url is required")
	}
	if c.Session.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("session.connect_timeout_seconds must not be negative")
	}
	if c.Session.MaxReconnects < 0 {
		return fmt.Errorf("session.max_reconnects must not be negative")
	}
	return nil
}

// ConnectTimeout returns the connect timeout as a duration
func (c *SessionConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// ReconnectBase returns the reconnect base delay as a duration
func (c *SessionConfig) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMillis) * time.Millisecond
}

// Retention returns the archive retention window as a duration
func (c *ArchiveConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	return home + "/.parley"
}

func defaultLogDir() string {
	return defaultDataDir() + "/logs"
}
