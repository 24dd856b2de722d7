// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kspethernetio/kspeth/internal/client"
	"github.com/kspethernetio/kspeth/internal/discovery"
	"github.com/kspethernetio/kspeth/pkg/kspio"
	"github.com/spf13/cobra"
)

var packetTestTimeout int

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test the link by waiting for a telemetry packet",
	Long: `Start the client and wait until the first vessel telemetry arrives.

This exercises the whole path: discovery broadcast, stream connect,
handshake and telemetry decoding.

Exit codes:
  0 - Telemetry received before timeout
  1 - Timeout reached without telemetry
  2 - Socket error (discovery port unavailable)`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for telemetry")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	opts, err := clientOptions(cfg, logger, nil)
	if err != nil {
		return err
	}

	telemetry := make(chan *kspio.VesselData, 1)
	bindFailed := make(chan error, 1)
	opts.Observer = client.ObserverFuncs{
		Telemetry: func(v *kspio.VesselData) {
			select {
			case telemetry <- v:
			default:
			}
		},
		Error: func(err error) {
			if errors.Is(err, discovery.ErrBind) {
				select {
				case bindFailed <- err:
				default:
				}
			}
		},
		StateChanged: func(s client.State) {
			fmt.Printf("  %s\n", s)
		},
	}

	fmt.Printf("kspeth - Packet Test\n")
	fmt.Printf("Transport: %s\n", connectionInfo(cfg))
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for telemetry...\n\n")

	c := client.New(opts)
	c.Start()

	code := 0
	select {
	case v := <-telemetry:
		fmt.Printf("\nSUCCESS: Received telemetry\n")
		fmt.Printf("  Host: %s\n", c.HostState())
		fmt.Printf("  %s\n", formatTelemetry(v))
		fmt.Printf("  Vessel sync: %d\n", v.VesselSync)

	case err := <-bindFailed:
		fmt.Fprintf(os.Stderr, "Socket error: %v\n", err)
		code = 2

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No telemetry received within %d seconds (state %s)\n",
			packetTestTimeout, c.StateName())
		code = 1
	}

	c.Destroy()
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
