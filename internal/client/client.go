// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package client implements the KSPEthernetIO connection state machine.
//
// A Client waits for a start command, listens for the host's handshake
// broadcast, connects to the sender, performs the handshake and then sends
// its control packet at a fixed refresh rate while delivering telemetry to
// an Observer. Any failure falls back to listening for the next broadcast.
//
// The machine runs on a single ticker goroutine. Each tick consumes at most
// one event from a last-write-wins slot; events from replaced components
// are recognized by their instance ID and ignored.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kspethernetio/kspeth/internal/discovery"
	"github.com/kspethernetio/kspeth/internal/dispatch"
	"github.com/kspethernetio/kspeth/internal/event"
	"github.com/kspethernetio/kspeth/internal/logging"
	"github.com/kspethernetio/kspeth/internal/metrics"
	"github.com/kspethernetio/kspeth/internal/recovery"
	"github.com/kspethernetio/kspeth/internal/transport"
	"github.com/kspethernetio/kspeth/pkg/kspio"
)

const (
	DefaultPort    = 2342
	DefaultRefresh = 50 * time.Millisecond
	DefaultTick    = 5 * time.Millisecond

	// lostSteps is how many steps an inactive stream is given to deliver
	// its Disconnected event before the machine restarts without it.
	lostSteps = 2
)

var (
	// ErrNoSender is reported when a handshake arrives without a usable
	// sender address.
	ErrNoSender = errors.New("handshake has no sender address")
	// ErrStreamLost is reported when the stream stops without a reason.
	ErrStreamLost = errors.New("stream lost")
)

// Options configures a Client.
type Options struct {
	Port           int           // discovery and stream port
	Refresh        time.Duration // control packet period
	Tick           time.Duration // state machine step period
	BindAddr       string        // discovery bind address, default 0.0.0.0
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	WriteTimeout   time.Duration    // bound on a single packet write
	Dialer         transport.Dialer // default TCP

	Observer Observer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// Tap, if set, sees every event the state machine is offered, after
	// decoding. It must not block.
	Tap event.Sink
}

func (o *Options) setDefaults() {
	if o.Port <= 0 {
		o.Port = DefaultPort
	}
	if o.Refresh <= 0 {
		o.Refresh = DefaultRefresh
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.Observer == nil {
		o.Observer = ObserverFuncs{}
	}
}

type listener interface {
	ID() uint64
	Start()
	Cancel()
	Active() bool
}

type stream interface {
	ID() uint64
	Connect()
	Cancel()
	Active() bool
	Err() error
	Send(b []byte) error
}

// session holds the components and data owned by the state machine.
type session struct {
	listener   listener
	dispatcher *dispatch.Dispatcher
	stream     stream
	host       string
	sendTimer  time.Duration
	idleSteps  int // steps the stream has been seen inactive
}

// Client is a KSPEthernetIO controller.
type Client struct {
	id       uint64
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	observer Observer
	controls *Controls

	slot  *event.Slot
	inbox event.Sink

	newListener func(sink event.Sink) listener
	newStream   func(host string, sink event.Sink) stream

	stepMu sync.Mutex // serializes steps with Destroy
	sess   session

	// live is the session's stream, readable while a step is blocked
	liveMu sync.Mutex
	live   stream

	running    atomic.Bool
	state      atomic.Int32
	hostState  atomic.Uint32
	telemetry  atomic.Pointer[kspio.VesselData]
	dispatcher atomic.Pointer[dispatch.Dispatcher]

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client and starts its state machine. The client waits for
// Start before it looks for a host.
func New(opts Options) *Client {
	c := newClient(opts)
	c.begin()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx)
	return c
}

// newClient builds a client without starting the ticker.
func newClient(opts Options) *Client {
	opts.setDefaults()

	c := &Client{
		id:       event.NextID(),
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).With(logging.KeyComponent, "client"),
		metrics:  opts.Metrics,
		observer: opts.Observer,
		controls: &Controls{},
	}
	c.slot = event.NewSlot(c.metrics.RecordEventDropped)
	c.inbox = event.Tee(c.slot, opts.Tap)
	c.hostState.Store(uint32(kspio.HostDisconnected))

	c.newListener = func(sink event.Sink) listener {
		return discovery.New(discovery.Options{
			Port:         opts.Port,
			BindAddr:     opts.BindAddr,
			PollInterval: opts.PollInterval,
			Logger:       opts.Logger,
			Metrics:      opts.Metrics,
		}, sink)
	}
	c.newStream = func(host string, sink event.Sink) stream {
		return transport.New(transport.Options{
			Host:           host,
			Port:           opts.Port,
			Dialer:         opts.Dialer,
			ConnectTimeout: opts.ConnectTimeout,
			PollInterval:   opts.PollInterval,
			WriteTimeout:   opts.WriteTimeout,
			Logger:         opts.Logger,
			Metrics:        opts.Metrics,
		}, sink)
	}
	return c
}

// begin starts the machine in Initialize
func (c *Client) begin() {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	c.state.Store(int32(StateInitialize))
	c.running.Store(true)
	c.enter(StateInitialize, &c.sess)
}

func (c *Client) loop(ctx context.Context) {
	defer close(c.done)
	defer recovery.RecoverWithCallback(c.logger, "client", func(interface{}) {
		c.running.Store(false)
	})

	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick runs one step with the pending event, if any.
func (c *Client) tick() {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	if !c.running.Load() {
		return
	}
	c.step(c.slot.Take())
}

// Start asks an idle client to look for a host.
func (c *Client) Start() { c.command(event.CommandStart) }

// Stop drops the connection and waits for the next Start.
func (c *Client) Stop() { c.command(event.CommandStop) }

// Reset drops the connection and looks for a host again.
func (c *Client) Reset() { c.command(event.CommandReset) }

func (c *Client) command(cmd event.Command) {
	if !c.running.Load() {
		return
	}
	c.inbox.Post(event.CommandEvent{Command: cmd, Source: c.id})
}

// ID returns the instance ID carried by the commands this client posts.
func (c *Client) ID() uint64 {
	return c.id
}

// Destroy stops the state machine and every component it started. The
// client can not be used afterwards. Destroy must not be called from an
// Observer method.
func (c *Client) Destroy() {
	c.running.Store(false)

	// A step may be blocked writing to the stream
	c.liveMu.Lock()
	if c.live != nil {
		c.live.Cancel()
	}
	c.liveMu.Unlock()

	if c.cancel != nil {
		c.cancel()
		<-c.done
	}

	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	if c.sess.listener != nil {
		c.sess.listener.Cancel()
	}
	if c.sess.stream != nil {
		c.sess.stream.Cancel()
		c.sess.stream = nil
		c.setLive(nil)
	}
	c.slot.Clear()
	c.telemetry.Store(nil)
}

// State returns the current state. It is meaningless once the client has
// been destroyed, see StateName.
func (c *Client) State() State {
	return State(c.state.Load())
}

// StateName returns the name of the current state, or "Inactive" if the
// machine is not running.
func (c *Client) StateName() string {
	if !c.running.Load() {
		return InactiveName
	}
	return c.State().String()
}

// IsInitialized reports whether the machine has left Initialize.
func (c *Client) IsInitialized() bool {
	return c.running.Load() && c.State() != StateInitialize
}

// IsStopped reports whether the client is waiting for Start.
func (c *Client) IsStopped() bool {
	return c.running.Load() && c.State() == StateWaitStart
}

// IsActive reports whether the client is exchanging packets with a host.
func (c *Client) IsActive() bool {
	return c.running.Load() && c.State() == StateActive
}

// HostState returns the last known host state.
func (c *Client) HostState() kspio.HostState {
	return kspio.HostState(c.hostState.Load())
}

// Telemetry returns the latest snapshot, or nil when none is current. The
// snapshot is shared and must not be modified.
func (c *Client) Telemetry() *kspio.VesselData {
	return c.telemetry.Load()
}

// Controls returns the control intent sent to the host.
func (c *Client) Controls() *Controls {
	return c.controls
}

// Stats returns link statistics for the current dispatcher.
func (c *Client) Stats() kspio.Statistics {
	d := c.dispatcher.Load()
	if d == nil {
		return *kspio.NewStatistics()
	}
	return d.Stats()
}

// Dropped returns the number of events overwritten before a step took them.
func (c *Client) Dropped() uint64 {
	return c.slot.Dropped()
}

// ============================================================
// State machine
// ============================================================

func (c *Client) step(ev event.Event) {
	cur := c.State()
	ev = c.current(ev, &c.sess)
	next := c.execute(cur, ev, &c.sess)
	if next != cur {
		c.transition(cur, next)
	}
}

// current returns ev, or nil if it came from a component the session no
// longer owns. Decode failures are reported here and never reach a state.
func (c *Client) current(ev event.Event, s *session) event.Event {
	switch e := ev.(type) {
	case event.DiscoveryEvent:
		if s.listener == nil || e.Source != s.listener.ID() {
			return c.stale(ev)
		}
	case event.TransportEvent:
		if s.stream == nil || e.Source != s.stream.ID() {
			return c.stale(ev)
		}
	case event.PacketEvent:
		fromListener := s.listener != nil && e.Source == s.listener.ID()
		fromStream := s.stream != nil && e.Source == s.stream.ID()
		if !fromListener && !fromStream {
			return c.stale(ev)
		}
		if e.Kind == event.DecodeFailed {
			c.notifyError(e.Err)
			return nil
		}
	}
	return ev
}

func (c *Client) stale(ev event.Event) event.Event {
	c.logger.Debug("ignoring stale event", "event", fmt.Sprintf("%v", ev))
	return nil
}

// execute runs one step of state st and returns the next state.
func (c *Client) execute(st State, ev event.Event, s *session) State {
	switch st {
	case StateInitialize:
		return StateWaitStart

	case StateWaitStart:
		if isCommand(ev, event.CommandStart) {
			return StateWaitBroadcast
		}
		return st

	case StateWaitBroadcast:
		if isCommand(ev, event.CommandStop) {
			return StateStop
		}
		switch e := ev.(type) {
		case event.PacketEvent:
			if e.Kind == event.HandshakeDecoded {
				host, err := hostOf(e.Handshake.Sender)
				if err != nil {
					c.notifyError(err)
					return st
				}
				c.setHostState(e.Handshake.HostState())
				s.host = host
				c.logger.Info("host discovered", logging.KeyHost, host,
					logging.KeyHostState, e.Handshake.HostState().String())
				return StateConnect
			}
		case event.DiscoveryEvent:
			// A nil error is a cancel this client requested
			if e.Kind == event.DiscoveryCanceled && e.Err != nil {
				c.notifyError(e.Err)
				return StateInitialize
			}
		}
		if !s.listener.Active() {
			return StateInitialize
		}
		return st

	case StateConnect:
		if isCommand(ev, event.CommandReset) {
			return StateRestart
		}
		if isCommand(ev, event.CommandStop) {
			return StateStop
		}
		if e, ok := ev.(event.TransportEvent); ok {
			switch e.Kind {
			case event.TransportConnected:
				return StateHandshake
			case event.TransportDisconnected:
				c.notifyError(e.Err)
				return StateRestart
			}
		}
		if c.streamLost(s) {
			return StateRestart
		}
		return st

	case StateHandshake:
		if isCommand(ev, event.CommandReset) {
			return StateRestart
		}
		if isCommand(ev, event.CommandStop) {
			return StateStop
		}
		switch e := ev.(type) {
		case event.PacketEvent:
			if e.Kind == event.StatusDecoded {
				c.setHostState(e.Status.HostState())
			}
		case event.TransportEvent:
			if e.Kind == event.TransportDisconnected {
				c.notifyError(e.Err)
				return StateRestart
			}
		}
		// A failed send ends the stream, which reports why in Disconnected
		hs := kspio.ClientHandshake()
		if err := s.stream.Send(kspio.MustWrap(hs.Encode())); err != nil {
			c.logger.Debug("handshake not sent", logging.KeyError, err)
			if c.streamLost(s) {
				return StateRestart
			}
			return st
		}
		return StateActive

	case StateActive:
		if isCommand(ev, event.CommandReset) {
			return StateRestart
		}
		if isCommand(ev, event.CommandStop) {
			return StateStop
		}

		switch e := ev.(type) {
		case event.PacketEvent:
			switch e.Kind {
			case event.TelemetryDecoded:
				c.receiveTelemetry(e.Vessel)
			case event.StatusDecoded:
				c.setHostState(e.Status.HostState())
			}
		case event.TransportEvent:
			if e.Kind == event.TransportDisconnected {
				c.notifyError(e.Err)
				return StateRestart
			}
		}

		s.sendTimer += c.opts.Tick
		if s.sendTimer >= c.opts.Refresh {
			s.sendTimer = 0
			if err := c.sendControls(s); err != nil {
				c.logger.Debug("controls not sent", logging.KeyError, err)
			}
		}
		if c.streamLost(s) {
			return StateRestart
		}
		return st

	case StateRestart:
		return StateWaitBroadcast

	case StateStop:
		return StateWaitStart
	}
	return st
}

func (c *Client) transition(from, to State) {
	c.exit(from, &c.sess)
	c.slot.Clear()
	c.state.Store(int32(to))
	c.enter(to, &c.sess)
	c.controls.forceResync()

	c.metrics.RecordTransition(to.label())
	c.logger.Info("state changed", logging.KeyFrom, from.String(), logging.KeyTo, to.String())
	c.observer.OnStateChanged(to)
}

func (c *Client) enter(st State, s *session) {
	switch st {
	case StateInitialize:
		c.setHostState(kspio.HostDisconnected)
		if s.listener != nil {
			s.listener.Cancel()
		}
		s.dispatcher = dispatch.New(c.inbox, c.opts.Logger, c.metrics)
		c.dispatcher.Store(s.dispatcher)
		s.listener = c.newListener(s.dispatcher)

	case StateWaitStart:
		c.setHostState(kspio.HostDisconnected)

	case StateWaitBroadcast:
		c.setHostState(kspio.HostDisconnected)
		s.listener.Start()

	case StateConnect:
		s.stream = c.newStream(s.host, s.dispatcher)
		s.idleSteps = 0
		c.setLive(s.stream)
		s.stream.Connect()

	case StateActive:
		s.sendTimer = 0

	case StateRestart, StateStop:
		c.setHostState(kspio.HostDisconnected)
		if s.stream != nil {
			s.stream.Cancel()
			s.stream = nil
			c.setLive(nil)
		}
	}
}

func (c *Client) setLive(st stream) {
	c.liveMu.Lock()
	c.live = st
	c.liveMu.Unlock()
}

// streamLost reports whether the stream has been inactive for more than
// lostSteps steps. Its Disconnected event can be overwritten in the slot,
// so the machine must not wait for it forever. The stream's own error is
// reported when it has one.
func (c *Client) streamLost(s *session) bool {
	if s.stream.Active() {
		s.idleSteps = 0
		return false
	}
	s.idleSteps++
	if s.idleSteps <= lostSteps {
		return false
	}
	err := s.stream.Err()
	if err == nil {
		err = ErrStreamLost
	}
	c.notifyError(err)
	return true
}

func (c *Client) exit(st State, s *session) {
	switch st {
	case StateWaitBroadcast:
		s.listener.Cancel()
	case StateActive:
		c.telemetry.Store(nil)
	}
}

func (c *Client) sendControls(s *session) error {
	err := c.controls.send(func(payload []byte) error {
		frame, err := kspio.Wrap(payload)
		if err != nil {
			return err
		}
		return s.stream.Send(frame)
	})
	if err != nil {
		return fmt.Errorf("control: %w", err)
	}
	c.metrics.RecordControlSent()
	return nil
}

func (c *Client) receiveTelemetry(v *kspio.VesselData) {
	if v == nil {
		return
	}
	c.telemetry.Store(v)
	if c.controls.syncVessel(v) {
		c.logger.Info("vessel changed, controls synchronized", "vessel_sync", v.VesselSync)
	}
	c.observer.OnTelemetry(v)
}

// setHostState records hs and notifies the observer if it changed.
func (c *Client) setHostState(hs kspio.HostState) {
	old := kspio.HostState(c.hostState.Swap(uint32(hs)))
	if old == hs {
		return
	}
	c.logger.Info("host state changed", logging.KeyHostState, hs.String())
	if hs == kspio.HostNotInFlight {
		c.controls.forceResync()
		c.telemetry.Store(nil)
	}
	c.observer.OnHostStateChanged(hs)
}

// notifyError reports err to the observer. Nil errors are dropped.
func (c *Client) notifyError(err error) {
	if err == nil {
		return
	}
	c.logger.Warn("client error", logging.KeyError, err)
	c.observer.OnError(err)
}

func isCommand(ev event.Event, cmd event.Command) bool {
	e, ok := ev.(event.CommandEvent)
	return ok && e.Command == cmd
}

// hostOf returns the host part of a handshake sender address
func hostOf(addr net.Addr) (string, error) {
	switch a := addr.(type) {
	case nil:
		return "", ErrNoSender
	case *net.UDPAddr:
		if a == nil || a.IP == nil {
			return "", ErrNoSender
		}
		return a.IP.String(), nil
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoSender, err)
		}
		return host, nil
	}
}
