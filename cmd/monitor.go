// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kspethernetio/kspeth/internal/client"
	"github.com/kspethernetio/kspeth/internal/recorder"
	"github.com/kspethernetio/kspeth/pkg/kspio"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	monitorRecord         string
	monitorAutoStart      bool
	monitorTelemetryEvery time.Duration
	monitorStatsEvery     time.Duration
	monitorDuration       time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Headless client printing state and telemetry",
	Long: `Run the client without a terminal UI.

State changes, host state changes and decode errors are printed as they
happen; telemetry is summarized at most once per --telemetry-every. Error
output is rate limited so a noisy link does not flood the terminal.

Unless --start (or client.auto_start) is given, the client waits for a
command on stdin:
  start   begin listening for the host
  stop    close the connection and stop
  reset   stop and return to waiting for start
  stats   print link statistics
  quit    exit

Examples:
  # Connect to the first host heard and record everything
  kspeth monitor --start --record flight.cbor

  # Monitor for 10 minutes with statistics every 30s
  kspeth monitor --start --duration 10m --stats-every 30s`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorRecord, "record", "", "Record events to a CBOR file")
	monitorCmd.Flags().BoolVar(&monitorAutoStart, "start", false, "Start the client immediately")
	monitorCmd.Flags().DurationVar(&monitorTelemetryEvery, "telemetry-every", time.Second, "Minimum interval between telemetry lines (0 disables)")
	monitorCmd.Flags().DurationVar(&monitorStatsEvery, "stats-every", 0, "Print link statistics at this interval (0 disables)")
	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", 0, "Exit after this long (0 runs until interrupted)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("record") {
		cfg.Recording.Path = monitorRecord
	}
	if monitorAutoStart {
		cfg.Client.AutoStart = true
	}

	logger := newLogger(cfg)
	m, stopMetrics, err := startMetrics(cfg, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	opts, err := clientOptions(cfg, logger, m)
	if err != nil {
		return err
	}

	var rec *recorder.Recorder
	if cfg.Recording.Path != "" {
		rec, err = recorder.Create(cfg.Recording.Path)
		if err != nil {
			return err
		}
		opts.Tap = rec
	}

	errLimiter := rate.NewLimiter(rate.Every(time.Second), 5)
	var suppressed int
	telemetryLimiter := rate.NewLimiter(rate.Inf, 1)
	if monitorTelemetryEvery > 0 {
		telemetryLimiter = rate.NewLimiter(rate.Every(monitorTelemetryEvery), 1)
	}

	opts.Observer = client.ObserverFuncs{
		StateChanged: func(s client.State) {
			fmt.Printf("[%s] STATE %s\n", stamp(), s)
		},
		HostStateChanged: func(s kspio.HostState) {
			fmt.Printf("[%s] HOST  %s\n", stamp(), s)
		},
		Telemetry: func(v *kspio.VesselData) {
			if monitorTelemetryEvery <= 0 || !telemetryLimiter.Allow() {
				return
			}
			fmt.Printf("[%s] TELEM %s\n", stamp(), formatTelemetry(v))
		},
		Error: func(err error) {
			if !errLimiter.Allow() {
				suppressed++
				return
			}
			if suppressed > 0 {
				fmt.Printf("[%s] ERROR (%d suppressed)\n", stamp(), suppressed)
				suppressed = 0
			}
			fmt.Printf("[%s] ERROR %v\n", stamp(), err)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	fmt.Printf("kspeth - Monitor\n")
	fmt.Printf("Transport: %s\n", connectionInfo(cfg))
	if rec != nil {
		fmt.Printf("Recording: %s\n", cfg.Recording.Path)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	c := client.New(opts)

	if cfg.Client.AutoStart {
		c.Start()
	} else {
		fmt.Println("Type 'start' to begin listening for a host")
		go readMonitorCommands(c, stop)
	}

	var statsC <-chan time.Time
	if monitorStatsEvery > 0 {
		ticker := time.NewTicker(monitorStatsEvery)
		defer ticker.Stop()
		statsC = ticker.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-statsC:
			fmt.Printf("\n--- Link statistics ---\n%s\n", formatStats(c.Stats()))
		}
	}

	c.Destroy()

	fmt.Printf("\n--- Monitor summary ---\n")
	fmt.Print(formatStats(c.Stats()))
	fmt.Printf("Dropped events: %d\n", c.Dropped())

	if rec != nil {
		fmt.Printf("Recorded: %d events to %s\n", rec.Count(), cfg.Recording.Path)
		if err := rec.Close(); err != nil {
			return fmt.Errorf("recording failed: %w", err)
		}
	}
	return nil
}

// readMonitorCommands drives the client from stdin until EOF or quit
func readMonitorCommands(c *client.Client, quit func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "start":
			c.Start()
		case "stop":
			c.Stop()
		case "reset":
			c.Reset()
		case "stats":
			fmt.Print(formatStats(c.Stats()))
		case "state":
			fmt.Printf("%s (host %s)\n", c.StateName(), c.HostState())
		case "quit", "exit":
			quit()
			return
		case "":
		default:
			fmt.Println("commands: start, stop, reset, stats, state, quit")
		}
	}
}

func stamp() string {
	return time.Now().Format("15:04:05.000")
}
