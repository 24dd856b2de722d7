// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kspethernetio/kspeth/internal/client"
	"github.com/kspethernetio/kspeth/internal/event"
	"github.com/kspethernetio/kspeth/internal/recorder"
	"github.com/kspethernetio/kspeth/pkg/kspio"
	"github.com/spf13/cobra"
)

var rawLogErrorsOnly bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every frame in human-readable format",
	Long: `Connect to the first host heard and print every frame as it is decoded,
together with connection lifecycle events.

With --errors only framing and decode errors and implausible telemetry
values are printed; link statistics are printed on exit either way.

Press Ctrl+C to exit.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogErrorsOnly, "errors", false, "Only print errors and anomalies")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	opts, err := clientOptions(cfg, logger, nil)
	if err != nil {
		return err
	}

	var anomalies int
	opts.Tap = event.SinkFunc(func(ev event.Event) {
		if pe, ok := ev.(event.PacketEvent); ok && pe.Kind == event.TelemetryDecoded {
			for _, a := range kspio.ValidateVesselData(pe.Vessel) {
				anomalies++
				fmt.Printf("[%s] ANOMALY %s\n", stamp(), a.Message)
			}
		}

		rec, ok := recorder.FromEvent(ev, time.Now())
		if !ok {
			return
		}
		if rawLogErrorsOnly && rec.Kind != recorder.KindDecodeError {
			return
		}
		fmt.Println(rec.String())
	})

	fmt.Printf("kspeth - Raw Frame Log\n")
	fmt.Printf("Transport: %s\n", connectionInfo(cfg))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(opts)
	c.Start()
	<-ctx.Done()
	c.Destroy()

	fmt.Printf("\n--- Link statistics ---\n")
	fmt.Print(formatStats(c.Stats()))
	fmt.Printf("Telemetry anomalies: %d\n", anomalies)
	return nil
}
