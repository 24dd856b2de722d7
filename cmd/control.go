// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kspethernetio/kspeth/internal/client"
	"github.com/kspethernetio/kspeth/internal/event"
	"github.com/kspethernetio/kspeth/internal/logging"
	"github.com/kspethernetio/kspeth/internal/recorder"
	"github.com/kspethernetio/kspeth/pkg/kspio"
	"github.com/spf13/cobra"
)

var controlLogFile string

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for flying a vessel",
	Long: `Monitor and control a vessel via an interactive terminal UI.

The dashboard shows the connection state, the host's flight state, live
telemetry and the switches the controller is sending. Keys follow the
game's defaults where they do not clash with the client commands:

  s start      e stop       ctrl+r reset    q quit
  t SAS        r RCS        l lights        g gear      b brakes
  space stage  backspace abort              1-0 action groups
  z full throttle  x cut throttle  +/- throttle 10%  i enter throttle
  [ ] SAS mode  n navball  v camera  u UI mode  m map  esc menu

Log output goes to --log-file; without it logging is disabled so log lines
do not tear the display.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().StringVar(&controlLogFile, "log-file", "", "Write logs to this file")
}

func runControl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.NopLogger()
	if controlLogFile != "" {
		f, err := os.OpenFile(controlLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logger = logging.NewLoggerWithWriter(cfg.Log.Level, cfg.Log.Format, f)
	}

	m, stopMetrics, err := startMetrics(cfg, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	// Dialer setup may prompt for a password, so it runs before the TUI
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
	}

	b := newUIBridge()
	opts.Observer = b
	if rec != nil {
		opts.Tap = event.Tee(b, rec)
	} else {
		opts.Tap = b
	}

	c := client.New(opts)
	model := initialControlModel(c, connectionInfo(cfg))

	p := tea.NewProgram(model, tea.WithAltScreen())
	b.start(p)

	if cfg.Client.AutoStart {
		c.Start()
	}

	_, runErr := p.Run()

	b.stop()
	c.Destroy()

	if rec != nil {
		if err := rec.Close(); err != nil && runErr == nil {
			runErr = fmt.Errorf("recording failed: %w", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("TUI error: %v", runErr)
	}
	return nil
}

// uiBridge carries client notifications to the TUI. The state machine must
// never block, so notifications go through a buffered channel and a batch
// loop forwards them to the program at a fixed rate.
type uiBridge struct {
	msgs    chan tea.Msg
	done    chan struct{}
	stopped chan struct{}
	dropped atomic.Uint64
}

func newUIBridge() *uiBridge {
	return &uiBridge{
		msgs:    make(chan tea.Msg, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (b *uiBridge) push(msg tea.Msg) {
	select {
	case b.msgs <- msg:
	default:
		b.dropped.Add(1)
	}
}

// start runs the batch loop until stop
func (b *uiBridge) start(p *tea.Program) {
	go func() {
		defer close(b.stopped)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-b.done:
				return
			case <-ticker.C:
				var batch controlBatchMsg
			drainLoop:
				for {
					select {
					case msg := <-b.msgs:
						batch.messages = append(batch.messages, msg)
					default:
						break drainLoop
					}
				}
				if n := b.dropped.Swap(0); n > 0 {
					batch.messages = append(batch.messages, logMsg{
						text:    fmt.Sprintf("%d notifications dropped", n),
						isError: true,
					})
				}
				if len(batch.messages) > 0 {
					p.Send(batch)
				}
			}
		}
	}()
}

func (b *uiBridge) stop() {
	close(b.done)
	<-b.stopped
}

func (b *uiBridge) OnError(err error) {
	b.push(logMsg{text: err.Error(), isError: true})
}

// Telemetry is polled by the view tick
func (b *uiBridge) OnTelemetry(v *kspio.VesselData) {}

func (b *uiBridge) OnStateChanged(s client.State) {
	b.push(stateMsg{state: s})
}

func (b *uiBridge) OnHostStateChanged(s kspio.HostState) {
	b.push(hostStateMsg{hostState: s})
}

// Post implements event.Sink for the client tap. Failures reach the log
// through OnError only.
func (b *uiBridge) Post(ev event.Event) {
	switch e := ev.(type) {
	case event.DiscoveryEvent:
		if e.Kind == event.DiscoveryStarted {
			b.push(logMsg{text: "Listening for host broadcasts"})
		}
	case event.TransportEvent:
		switch e.Kind {
		case event.TransportConnected:
			b.push(logMsg{text: "Stream connected"})
		case event.TransportDisconnected:
			if e.Err == nil {
				b.push(logMsg{text: "Stream closed"})
			}
		}
	case event.PacketEvent:
		if e.Kind == event.HandshakeDecoded {
			b.push(logMsg{text: "Handshake " + e.Handshake.String()})
		}
	}
}
