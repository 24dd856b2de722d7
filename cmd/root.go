// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kspethernetio/kspeth/internal/client"
	"github.com/kspethernetio/kspeth/internal/config"
	"github.com/kspethernetio/kspeth/internal/logging"
	"github.com/kspethernetio/kspeth/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	configPath string

	// Client flags
	port    int
	refresh time.Duration

	// Transport flags
	transportKind string
	wsPath        string
	wsUsername    string
	wsNoSSLVerify bool
	wsSecure      bool
	serialPort    string
	baudRate      int

	// Logging and metrics flags
	logLevel    string
	logFormat   string
	metricsOn   bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "kspeth",
	Short: "KSPEthernetIO telemetry and control client",
	Long: `kspeth - a controller for the KSPEthernetIO game plugin.

The client listens for the host's UDP handshake broadcasts, opens the stream
to the first host it hears, streams vessel telemetry and sends control
packets at a fixed refresh rate.

Transports:
  tcp (default): connect to the discovered host on --kspio-port
  ws:            reach the host through a WebSocket bridge [--ws-path /kspio]
  serial:        use a serial link once a host has been discovered
                 [--serial-port /dev/ttyUSB0 --baud 115200]

Settings are read from --config (YAML) first; flags given on the command
line override the file.

For WebSocket authentication, the password is read from the KSPETH_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	pf.IntVar(&port, "kspio-port", 2342, "UDP discovery and stream port")
	pf.DurationVar(&refresh, "refresh", 50*time.Millisecond, "Control packet refresh interval")

	pf.StringVarP(&transportKind, "transport", "t", config.TransportTCP, "Stream transport (tcp, ws, serial)")
	pf.StringVar(&wsPath, "ws-path", "/kspio", "WebSocket bridge path (ws only)")
	pf.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth (ws only)")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss only)")
	pf.BoolVar(&wsSecure, "wss", false, "Use wss:// for the WebSocket bridge")
	pf.StringVarP(&serialPort, "serial-port", "p", "", "Serial port device (serial only)")
	pf.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	pf.BoolVar(&metricsOn, "metrics", false, "Serve Prometheus metrics")
	pf.StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9342", "Prometheus metrics listen address")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads --config when given and applies every flag the user set
// explicitly on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("kspio-port") {
		cfg.Client.Port = port
	}
	if flags.Changed("refresh") {
		cfg.Client.RefreshInterval = refresh
	}
	if flags.Changed("transport") {
		cfg.Transport.Kind = transportKind
	}
	if flags.Changed("ws-path") {
		cfg.Transport.WSPath = wsPath
	}
	if flags.Changed("username") {
		cfg.Transport.WSUsername = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Transport.WSNoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("wss") {
		cfg.Transport.WSSecure = wsSecure
	}
	if flags.Changed("serial-port") {
		cfg.Transport.SerialPort = serialPort
	}
	if flags.Changed("baud") {
		cfg.Transport.Baud = baudRate
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled = metricsOn
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Address = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. Interactive commands pass a file or
// io.Discard so log lines do not tear the terminal UI.
func newLogger(cfg *config.Config) *slog.Logger {
	return logging.NewLoggerWithWriter(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}

// startMetrics serves /metrics when enabled. The returned stop function is
// never nil.
func startMetrics(cfg *config.Config, logger *slog.Logger) (*metrics.Metrics, func(), error) {
	m := metrics.NewMetrics()
	if !cfg.Metrics.Enabled {
		return m, func() {}, nil
	}

	srv := metrics.NewServer(cfg.Metrics.Address, metrics.Handler())
	if err := srv.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	logger.Info("metrics server listening", logging.KeyLocalAddr, srv.Addr().String())

	return m, func() {
		if err := srv.Stop(); err != nil {
			logger.Warn("metrics server shutdown failed", logging.KeyError, err)
		}
	}, nil
}

// clientOptions maps the configuration onto client options. The caller adds
// the observer and tap.
func clientOptions(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (client.Options, error) {
	dialer, err := newDialer(cfg)
	if err != nil {
		return client.Options{}, err
	}
	return client.Options{
		Port:           cfg.Client.Port,
		Refresh:        cfg.Client.RefreshInterval,
		Tick:           cfg.Client.Tick,
		ConnectTimeout: cfg.Client.ConnectTimeout,
		PollInterval:   cfg.Client.PollInterval,
		WriteTimeout:   cfg.Client.WriteTimeout,
		Dialer:         dialer,
		Logger:         logger,
		Metrics:        m,
	}, nil
}
