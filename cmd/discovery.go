// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/kspethernetio/kspeth/internal/discovery"
	"github.com/kspethernetio/kspeth/internal/dispatch"
	"github.com/kspethernetio/kspeth/internal/event"
	"github.com/kspethernetio/kspeth/internal/logging"
	"github.com/kspethernetio/kspeth/pkg/kspio"
	"github.com/spf13/cobra"
)

var (
	discoveryTimeout int
	discoveryBind    string
	discoveryFirst   bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Listen for host handshake broadcasts",
	Long: `Listen on the KSPEthernetIO port for the host's UDP handshake broadcasts
and list every host heard.

A host broadcasts a handshake while no controller is attached, so a host
that already serves a controller does not show up here.

Examples:
  # Listen for 5 seconds on the default port
  kspeth discovery

  # Stop at the first host heard
  kspeth discovery --first --timeout 30

Exit codes:
  0 - Discovery successful (at least one host heard)
  1 - Discovery failed (no hosts before timeout)
  2 - Socket error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 5, "Timeout in seconds for discovery")
	discoveryCmd.Flags().StringVar(&discoveryBind, "bind", discovery.DefaultBindAddr, "Local address to listen on")
	discoveryCmd.Flags().BoolVar(&discoveryFirst, "first", false, "Exit after the first host")
}

type discoveredHost struct {
	addr      string
	m1, m2    uint8
	hostState kspio.HostState
	seen      int
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	handshakes := make(chan kspio.Handshake, 16)
	failures := make(chan error, 1)
	sink := event.SinkFunc(func(ev event.Event) {
		switch e := ev.(type) {
		case event.PacketEvent:
			switch e.Kind {
			case event.HandshakeDecoded:
				select {
				case handshakes <- e.Handshake:
				default:
				}
			case event.DecodeFailed:
				logger.Debug("ignoring datagram", logging.KeyError, e.Err)
			}
		case event.DiscoveryEvent:
			if e.Kind == event.DiscoveryCanceled && e.Err != nil {
				select {
				case failures <- e.Err:
				default:
				}
			}
		}
	})

	d := dispatch.New(sink, logger, nil)
	l := discovery.New(discovery.Options{
		Port:     cfg.Client.Port,
		BindAddr: discoveryBind,
		Logger:   logger,
	}, d)

	fmt.Printf("kspeth - Host Discovery\n")
	fmt.Printf("Listening: %s\n", net.JoinHostPort(discoveryBind, fmt.Sprint(cfg.Client.Port)))
	fmt.Printf("Timeout: %d seconds\n\n", discoveryTimeout)

	l.Start()
	defer func() {
		l.Cancel()
		l.Wait()
	}()

	hosts := make(map[string]*discoveredHost)
	var order []string
	timeout := time.After(time.Duration(discoveryTimeout) * time.Second)

wait:
	for {
		select {
		case hs := <-handshakes:
			key := senderKey(hs.Sender)
			if h, ok := hosts[key]; ok {
				h.seen++
				h.hostState = hs.HostState()
				continue
			}
			h := &discoveredHost{
				addr:      key,
				m1:        hs.M1,
				m2:        hs.M2,
				hostState: hs.HostState(),
				seen:      1,
			}
			hosts[key] = h
			order = append(order, key)

			fmt.Printf("Host found:\n")
			fmt.Printf("  Address: %s\n", h.addr)
			fmt.Printf("  ID: M1=%d M2=%d\n", h.m1, h.m2)
			fmt.Printf("  State: %s\n", h.hostState)

			if discoveryFirst {
				break wait
			}

		case err := <-failures:
			fmt.Fprintf(os.Stderr, "Socket error: %v\n", err)
			os.Exit(2)

		case <-timeout:
			if len(hosts) == 0 {
				fmt.Printf("TIMEOUT: No hosts heard in %ds\n", discoveryTimeout)
			}
			break wait
		}
	}

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Hosts found: %d\n", len(hosts))
	for _, key := range order {
		h := hosts[key]
		fmt.Printf("  %-21s %-14s %d broadcast(s)\n", h.addr, h.hostState, h.seen)
	}
	stats := d.Stats()
	if stats.TotalErrors() > 0 {
		fmt.Printf("Undecodable datagrams: %d\n", stats.TotalErrors())
	}

	if len(hosts) == 0 {
		fmt.Printf("No hosts discovered. Check that the game is running and the port is not firewalled.\n")
		os.Exit(1)
	}

	return nil
}

func senderKey(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	return addr.String()
}
