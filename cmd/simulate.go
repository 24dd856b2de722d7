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

	"github.com/kspethernetio/kspeth/internal/hostsim"
	"github.com/kspethernetio/kspeth/pkg/kspio"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	simInterval    time.Duration
	simBroadcast   string
	simListen      string
	simNotInFlight bool
	simShowControl time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated KSPEthernetIO host",
	Long: `Run a stand-in for the game plugin on this machine.

The simulator broadcasts its handshake while no controller is attached,
accepts one controller at a time, answers the client handshake with its
flight status and streams vessel telemetry while in flight. Control packets
from the controller are applied to the simulated vessel.

Commands on stdin:
  fly      report IN_FLIGHT
  menu     report NOT_IN_FLIGHT
  drop     disconnect the controller
  switch   switch to a fresh vessel (controller resynchronizes)
  status   print the simulator state
  quit     exit

Examples:
  # Serve on the default port, broadcasting to the local subnet
  kspeth simulate

  # Broadcast to loopback only, for a client on the same machine
  kspeth simulate --broadcast 127.0.0.1`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().DurationVar(&simInterval, "interval", hostsim.DefaultInterval, "Broadcast and telemetry interval")
	simulateCmd.Flags().StringVar(&simBroadcast, "broadcast", hostsim.DefaultBroadcastAddr, "Handshake broadcast address")
	simulateCmd.Flags().StringVar(&simListen, "listen", hostsim.DefaultListenAddr, "TCP listen address")
	simulateCmd.Flags().BoolVar(&simNotInFlight, "not-in-flight", false, "Start in NOT_IN_FLIGHT")
	simulateCmd.Flags().DurationVar(&simShowControl, "show-controls", 0, "Print received control packets at most this often (0 disables)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	state := kspio.HostInFlight
	if simNotInFlight {
		state = kspio.HostNotInFlight
	}

	opts := hostsim.Options{
		Port:          cfg.Client.Port,
		BroadcastAddr: simBroadcast,
		ListenAddr:    simListen,
		Interval:      simInterval,
		State:         state,
		Logger:        logger,
	}
	if simShowControl > 0 {
		limiter := rate.NewLimiter(rate.Every(simShowControl), 1)
		opts.OnControl = func(cp *kspio.ControlPacket) {
			if limiter.Allow() {
				fmt.Printf("[%s] CONTROL %s\n", stamp(), cp)
			}
		}
	}
	host := hostsim.New(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- host.Run(ctx)
	}()

	select {
	case <-host.Ready():
	case err := <-errCh:
		return err
	}

	fmt.Printf("kspeth - Host Simulator\n")
	fmt.Printf("Listening: %s\n", host.Addr())
	fmt.Printf("Broadcast: %s:%d every %s\n", simBroadcast, cfg.Client.Port, simInterval)
	fmt.Printf("State: %s\n", state)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go readSimulatorCommands(host, stop)

	return <-errCh
}

func readSimulatorCommands(host *hostsim.Host, quit func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "fly":
			host.SetState(kspio.HostInFlight)
		case "menu":
			host.SetState(kspio.HostNotInFlight)
		case "drop":
			host.Disconnect()
		case "switch":
			host.SwitchVessel(hostsim.DefaultVessel())
		case "status":
			v := host.Vessel()
			fmt.Printf("attached=%v sessions=%d controls=%d\n", host.Attached(), host.Sessions(), host.ControlCount())
			fmt.Printf("vessel: %s\n", formatTelemetry(&v))
		case "quit", "exit":
			quit()
			return
		case "":
		default:
			fmt.Println("commands: fly, menu, drop, switch, status, quit")
		}
	}
}
