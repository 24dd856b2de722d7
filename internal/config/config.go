// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config provides configuration parsing and validation for kspeth.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Recording RecordingConfig `yaml:"recording"`
}

// ClientConfig contains connection state machine settings.
type ClientConfig struct {
	Port            int           `yaml:"port"`             // UDP discovery and stream port
	RefreshInterval time.Duration `yaml:"refresh_interval"` // control packet period
	Tick            time.Duration `yaml:"tick"`             // state machine step period
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"` // socket read deadline
	WriteTimeout    time.Duration `yaml:"write_timeout"` // socket write deadline
	AutoStart       bool          `yaml:"auto_start"`
}

// TransportConfig selects how the stream to the host is carried.
type TransportConfig struct {
	Kind          string `yaml:"kind"`    // tcp, ws, serial
	WSPath        string `yaml:"ws_path"` // ws: path on the discovered host
	WSUsername    string `yaml:"ws_username"`
	WSNoSSLVerify bool   `yaml:"ws_no_ssl_verify"`
	WSSecure      bool   `yaml:"ws_secure"`   // use wss://
	SerialPort    string `yaml:"serial_port"` // serial: device path
	Baud          int    `yaml:"baud"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// RecordingConfig contains telemetry recording settings.
type RecordingConfig struct {
	Path string `yaml:"path"` // empty disables recording
}

// Transport kinds
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
	TransportSerial    = "serial"
)

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Port:            2342,
			RefreshInterval: 50 * time.Millisecond,
			Tick:            5 * time.Millisecond,
			ConnectTimeout:  1000 * time.Millisecond,
			PollInterval:    10 * time.Millisecond,
			WriteTimeout:    100 * time.Millisecond,
		},
		Transport: TransportConfig{
			Kind:   TransportTCP,
			WSPath: "/kspio",
			Baud:   115200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9342",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default when VAR is unset.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Client.Port < 1 || c.Client.Port > 65535 {
		errs = append(errs, fmt.Sprintf("client.port must be between 1 and 65535, got %d", c.Client.Port))
	}
	if c.Client.Tick <= 0 {
		errs = append(errs, "client.tick must be positive")
	}
	if c.Client.RefreshInterval < c.Client.Tick {
		errs = append(errs, "client.refresh_interval must be at least client.tick")
	}
	if c.Client.ConnectTimeout <= 0 {
		errs = append(errs, "client.connect_timeout must be positive")
	}
	if c.Client.PollInterval <= 0 {
		errs = append(errs, "client.poll_interval must be positive")
	}
	if c.Client.WriteTimeout <= 0 {
		errs = append(errs, "client.write_timeout must be positive")
	}

	switch c.Transport.Kind {
	case TransportTCP, TransportWebSocket:
	case TransportSerial:
		if c.Transport.SerialPort == "" {
			errs = append(errs, "transport.serial_port is required for serial transport")
		}
		if c.Transport.Baud <= 0 {
			errs = append(errs, "transport.baud must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid transport.kind: %s (must be tcp, ws, or serial)", c.Transport.Kind))
	}

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("error marshaling config: %v", err)
	}
	return string(data)
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# kspeth configuration\n\n"
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
