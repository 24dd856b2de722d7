// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/kspethernetio/kspeth/internal/config"
	"github.com/spf13/cobra"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file interactively",
	Long: `Walk through the client settings and write them to a YAML file.

The file can then be passed to every command with --config.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying --config and command line flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Print(cfg.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configInitCmd.Flags().StringVarP(&configOutput, "output", "o", "./kspeth.yaml", "Where to write the configuration")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	theme := huh.ThemeDracula()

	fmt.Println(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Render("kspeth setup"))
	fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("Answers are written to " + configOutput))
	fmt.Println()

	portStr := strconv.Itoa(cfg.Client.Port)
	refreshStr := cfg.Client.RefreshInterval.String()
	kind := cfg.Transport.Kind

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Connection").
				Description("The host broadcasts on this port and accepts the stream on it."),

			huh.NewInput().
				Title("Port").
				Value(&portStr).
				Validate(validatePort),

			huh.NewInput().
				Title("Control refresh interval").
				Description("How often control packets are sent, e.g. 50ms").
				Value(&refreshStr).
				Validate(func(s string) error {
					d, err := time.ParseDuration(s)
					if err != nil {
						return fmt.Errorf("invalid duration")
					}
					if d < cfg.Client.Tick {
						return fmt.Errorf("must be at least %s", cfg.Client.Tick)
					}
					return nil
				}),

			huh.NewSelect[string]().
				Title("Transport").
				Options(
					huh.NewOption("TCP (direct to the host)", config.TransportTCP),
					huh.NewOption("WebSocket (through a bridge)", config.TransportWebSocket),
					huh.NewOption("Serial (USB adapter)", config.TransportSerial),
				).
				Value(&kind),

			huh.NewConfirm().
				Title("Start listening immediately?").
				Value(&cfg.Client.AutoStart),
		),
	).WithTheme(theme)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Client.Port, _ = strconv.Atoi(portStr)
	cfg.Client.RefreshInterval, _ = time.ParseDuration(refreshStr)
	cfg.Transport.Kind = kind

	switch kind {
	case config.TransportWebSocket:
		if err := askWebSocket(cfg, theme); err != nil {
			return err
		}
	case config.TransportSerial:
		if err := askSerial(cfg, theme); err != nil {
			return err
		}
	}

	if err := askExtras(cfg, theme); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(configOutput); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", configOutput)
	if cfg.Transport.Kind == config.TransportWebSocket && cfg.Transport.WSUsername != "" {
		fmt.Fprintf(os.Stderr, "Set %s or enter the password when prompted.\n", passwordEnv)
	}
	return nil
}

func askWebSocket(cfg *config.Config, theme *huh.Theme) error {
	t := &cfg.Transport
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bridge path").
				Value(&t.WSPath).
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "/") {
						return fmt.Errorf("path must start with /")
					}
					return nil
				}),
			huh.NewInput().
				Title("Username").
				Description("Leave empty if the bridge needs no authentication").
				Value(&t.WSUsername),
			huh.NewConfirm().
				Title("Use wss://?").
				Value(&t.WSSecure),
			huh.NewConfirm().
				Title("Skip TLS certificate verification?").
				Value(&t.WSNoSSLVerify),
		),
	).WithTheme(theme).Run()
}

func askSerial(cfg *config.Config, theme *huh.Theme) error {
	t := &cfg.Transport
	baudStr := strconv.Itoa(t.Baud)
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Serial port").
				Placeholder("/dev/ttyUSB0").
				Value(&t.SerialPort).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("serial port is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Baud rate").
				Options(huh.NewOptions("9600", "38400", "57600", "115200")...).
				Value(&baudStr),
		),
	).WithTheme(theme).Run()
	if err != nil {
		return err
	}
	t.Baud, _ = strconv.Atoi(baudStr)
	return nil
}

func askExtras(cfg *config.Config, theme *huh.Theme) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&cfg.Log.Level),
			huh.NewSelect[string]().
				Title("Log format").
				Options(huh.NewOptions("text", "json")...).
				Value(&cfg.Log.Format),
			huh.NewConfirm().
				Title("Serve Prometheus metrics?").
				Value(&cfg.Metrics.Enabled),
			huh.NewInput().
				Title("Recording file").
				Description("Record every session to this CBOR file; empty disables").
				Value(&cfg.Recording.Path),
		),
	).WithTheme(theme).Run()
}

func validatePort(s string) error {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
