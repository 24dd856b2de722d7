// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/kspethernetio/kspeth/internal/recorder"
	"github.com/kspethernetio/kspeth/pkg/kspio"
	"github.com/spf13/cobra"
)

var (
	replaySummaryOnly bool
	replayKinds       []string
	replayValidate    bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <recording>",
	Short: "Decode a CBOR event recording",
	Long: `Print the events stored in a recording made with 'kspeth monitor --record'.

Packet records are decoded again and printed the same way the live client
sees them; a summary with link statistics follows the listing.

Examples:
  kspeth replay flight.cbor
  kspeth replay flight.cbor --kind telemetry --validate
  kspeth replay flight.cbor --summary`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replaySummaryOnly, "summary", false, "Only print the summary")
	replayCmd.Flags().StringSliceVar(&replayKinds, "kind", nil, "Only print these record kinds (e.g. telemetry,status)")
	replayCmd.Flags().BoolVar(&replayValidate, "validate", false, "Print telemetry anomalies")
}

func runReplay(cmd *cobra.Command, args []string) error {
	records, err := recorder.Open(args[0])
	if err != nil {
		return err
	}

	filter := make(map[string]bool, len(replayKinds))
	for _, k := range replayKinds {
		filter[strings.ToUpper(strings.TrimSpace(k))] = true
	}

	counts := make(map[recorder.Kind]int)
	for _, rec := range records {
		counts[rec.Kind]++
		if replaySummaryOnly {
			continue
		}
		if len(filter) > 0 && !filter[rec.Kind.String()] {
			continue
		}
		fmt.Println(rec.String())

		if replayValidate && rec.Kind == recorder.KindTelemetry {
			v, err := kspio.DecodeVesselData(rec.Data)
			if err != nil {
				continue
			}
			for _, anomaly := range kspio.ValidateVesselData(v) {
				fmt.Printf("  ANOMALY %s\n", anomaly.Message)
			}
		}
	}

	fmt.Printf("\n--- Replay summary ---\n")
	fmt.Printf("Records: %d\n", len(records))
	if len(records) > 0 {
		first := records[0].Timestamp()
		last := records[len(records)-1].Timestamp()
		fmt.Printf("Span:    %s (%s to %s)\n", last.Sub(first).Round(time.Millisecond),
			first.Format("15:04:05.000"), last.Format("15:04:05.000"))
	}
	for k := recorder.KindHandshake; k <= recorder.KindCommand; k++ {
		if counts[k] > 0 {
			fmt.Printf("  %-18s %d\n", k, counts[k])
		}
	}
	fmt.Println()
	fmt.Print(formatStats(*recorder.Summarize(records)))
	return nil
}
