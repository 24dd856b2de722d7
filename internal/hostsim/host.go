// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hostsim is a stand-in for the game plugin. It broadcasts its
// handshake, accepts one controller at a time over TCP, streams telemetry
// and status packets and decodes the control packets it receives.
package hostsim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kspethernetio/kspeth/internal/logging"
	"github.com/kspethernetio/kspeth/internal/recovery"
	"github.com/kspethernetio/kspeth/pkg/kspio"
)

const (
	DefaultBroadcastAddr = "255.255.255.255"
	DefaultListenAddr    = "0.0.0.0"
	DefaultInterval      = 100 * time.Millisecond
)

// Host M1/M2 sent in broadcasts
const (
	HostM1 = 1
	HostM2 = 2
)

// ErrBadHandshake is returned when a controller opens with anything other
// than a valid client handshake.
var ErrBadHandshake = errors.New("controller did not send a valid handshake")

// Options configures a simulated host.
type Options struct {
	Port          int
	BroadcastAddr string        // default 255.255.255.255
	ListenAddr    string        // TCP bind address, default 0.0.0.0
	Interval      time.Duration // broadcast and telemetry period
	State         kspio.HostState
	Logger        *slog.Logger

	// OnControl is called for every control packet received
	OnControl func(cp *kspio.ControlPacket)
}

// Host is a simulated KSPEthernetIO host.
type Host struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	state       kspio.HostState
	vessel      kspio.VesselData
	lastControl *kspio.ControlPacket
	controls    int
	sessions    int
	conn        net.Conn // handshaken controller, if any
	serving     net.Conn // controller being served, handshaken or not
	addr        net.Addr

	writeMu sync.Mutex
	ready   chan struct{}
}

// New creates a host. It does not open sockets until Run.
func New(opts Options) *Host {
	if opts.BroadcastAddr == "" {
		opts.BroadcastAddr = DefaultBroadcastAddr
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = DefaultListenAddr
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.State == kspio.HostUndefined || opts.State == kspio.HostDisconnected {
		opts.State = kspio.HostInFlight
	}
	return &Host{
		opts:   opts,
		logger: logging.OrNop(opts.Logger).With(logging.KeyComponent, "hostsim"),
		state:  opts.State,
		vessel: DefaultVessel(),
		ready:  make(chan struct{}),
	}
}

// DefaultVessel returns the snapshot a fresh host starts from: a small
// rocket on the pad.
func DefaultVessel() kspio.VesselData {
	return kspio.VesselData{
		Alt: 75, RAlt: 8, Gravity: 9.81, Density: 1.2,
		LiquidFuel: 360, LiquidFuelTot: 360, Oxidizer: 440, OxidizerTot: 440,
		ECharge: 150, EChargeTot: 150, MonoProp: 30, MonoPropTot: 30,
		LiquidFuelS: 360, LiquidFuelTotS: 360, OxidizerS: 440, OxidizerTotS: 440,
		MissionTime: 10, Pitch: 16384, SOINumber: 100,
		CurrentStage: 2, TotalStage: 2,
		NavballSASMode: uint8(kspio.NavballSurface) << 4, VesselSync: 1,
	}
}

// Ready is closed once Run has opened its sockets.
func (h *Host) Ready() <-chan struct{} {
	return h.ready
}

// Addr returns the TCP listen address once Ready is closed.
func (h *Host) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Run serves until ctx is canceled.
func (h *Host) Run(ctx context.Context) error {
	listenAddr := net.JoinHostPort(h.opts.ListenAddr, strconv.Itoa(h.opts.Port))
	ln, err := net.Listen("tcp4", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	defer ln.Close()

	bcAddr := net.JoinHostPort(h.opts.BroadcastAddr, strconv.Itoa(h.opts.Port))
	raddr, err := net.ResolveUDPAddr("udp4", bcAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", bcAddr, err)
	}
	bc, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return fmt.Errorf("broadcast socket %s: %w", bcAddr, err)
	}
	defer bc.Close()

	h.mu.Lock()
	h.addr = ln.Addr()
	h.mu.Unlock()
	close(h.ready)
	h.logger.Info("host simulator running", logging.KeyLocalAddr, ln.Addr().String(), "broadcast", bcAddr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recovery.RecoverWithLog(h.logger, "hostsim-accept")
		h.acceptLoop(ctx, ln)
	}()

	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ln.Close()
			h.dropController()
			wg.Wait()
			return nil
		case <-ticker.C:
			h.pulse(bc)
		}
	}
}

// pulse broadcasts while no controller is attached and streams telemetry
// while one is.
func (h *Host) pulse(bc *net.UDPConn) {
	h.mu.Lock()
	conn := h.conn
	state := h.state
	if conn != nil && state == kspio.HostInFlight {
		h.advance()
	}
	vessel := h.vessel
	h.mu.Unlock()

	if conn == nil {
		hs := kspio.Handshake{M1: HostM1, M2: HostM2, State: uint8(state)}
		if _, err := bc.Write(kspio.MustWrap(hs.Encode())); err != nil {
			h.logger.Debug("broadcast failed", logging.KeyError, err)
		}
		return
	}
	if state != kspio.HostInFlight {
		return
	}
	if err := h.write(conn, vessel.Encode()); err != nil {
		h.logger.Debug("telemetry write failed", logging.KeyError, err)
	}
}

// advance moves the simulated flight forward by one interval. Must be
// called with h.mu held.
func (h *Host) advance() {
	dt := float32(h.opts.Interval.Seconds())
	h.vessel.MissionTime++
	h.vessel.DeltaTime = dt
	h.vessel.Alt += h.vessel.VVI * dt
	h.vessel.RAlt += h.vessel.VVI * dt
}

func (h *Host) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("accept failed", logging.KeyError, err)
			}
			return
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}

		h.mu.Lock()
		h.serving = conn
		h.mu.Unlock()
		if ctx.Err() != nil {
			conn.Close()
			return
		}

		// One controller at a time; the next accept waits for this one
		err = h.serve(conn)
		if err != nil && ctx.Err() == nil {
			h.logger.Info("controller session ended", logging.KeyRemoteAddr, conn.RemoteAddr().String(), logging.KeyError, err)
		}
	}
}

// serve runs one controller session until the connection drops.
func (h *Host) serve(conn net.Conn) error {
	defer conn.Close()
	dec := kspio.NewDecoder()
	buf := make([]byte, 1024)
	handshaken := false

	defer func() {
		h.mu.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		if h.serving == conn {
			h.serving = nil
		}
		h.mu.Unlock()
	}()

	for {
		n, err := conn.Read(buf)
		for _, b := range buf[:n] {
			payload, derr := dec.DecodeByte(b)
			if derr != nil {
				h.logger.Debug("bad frame from controller", logging.KeyError, derr)
				continue
			}
			if payload == nil {
				continue
			}
			if !handshaken {
				if err := h.acceptHandshake(conn, payload); err != nil {
					return err
				}
				handshaken = true
				continue
			}
			h.handlePayload(payload)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func (h *Host) acceptHandshake(conn net.Conn, payload []byte) error {
	hs, err := kspio.DecodeHandshake(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	want := kspio.ClientHandshake()
	if hs.M1 != want.M1 || hs.M2 != want.M2 || hs.State != want.State {
		return fmt.Errorf("%w: %s", ErrBadHandshake, hs)
	}

	h.mu.Lock()
	h.conn = conn
	h.sessions++
	state := h.state
	h.mu.Unlock()

	h.logger.Info("controller attached", logging.KeyRemoteAddr, conn.RemoteAddr().String())
	return h.write(conn, kspio.Status{State: uint8(state)}.Encode())
}

func (h *Host) handlePayload(payload []byte) {
	packetType, _ := kspio.PacketType(payload)
	if packetType != kspio.TypeControl {
		h.logger.Debug("ignoring packet", logging.KeyPacketType, kspio.FormatPacketType(packetType))
		return
	}
	cp, err := kspio.DecodeControl(payload)
	if err != nil {
		h.logger.Debug("bad control packet", logging.KeyError, err)
		return
	}

	h.mu.Lock()
	h.lastControl = cp
	h.controls++
	h.apply(cp)
	h.mu.Unlock()

	if h.opts.OnControl != nil {
		h.opts.OnControl(cp)
	}
}

// apply reflects the controller's switches in the simulated vessel the
// way the game would. Must be called with h.mu held.
func (h *Host) apply(cp *kspio.ControlPacket) {
	if cp.VesselSync != h.vessel.VesselSync {
		// The controller has not caught up with this vessel yet
		return
	}
	groups := h.vessel.ActionGroups &^ (kspio.AGSAS | kspio.AGRCS | kspio.AGLight | kspio.AGGear | kspio.AGBrakes)
	set := func(bit uint16, on bool) {
		if on {
			groups |= bit
		}
	}
	set(kspio.AGSAS, cp.SAS())
	set(kspio.AGRCS, cp.RCS())
	set(kspio.AGLight, cp.Light())
	set(kspio.AGGear, cp.Gear())
	set(kspio.AGBrakes, cp.Brakes())
	for i := 0; i < kspio.CustomGroups; i++ {
		bit := uint16(1) << (kspio.AGCustomShift + i)
		groups &^= bit
		set(bit, cp.ActionGroup(i))
	}
	h.vessel.ActionGroups = groups

	if cp.Stage() && h.vessel.CurrentStage > 0 {
		h.vessel.CurrentStage--
	}
	if cp.Abort() {
		h.vessel.ActionGroups |= kspio.AGAbort
	}

	throttle := float32(cp.Axis(kspio.AxisThrottle)) / 1000
	h.vessel.VVI = throttle * 50
}

func (h *Host) write(conn net.Conn, payload []byte) error {
	frame, err := kspio.Wrap(payload)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err = conn.Write(frame)
	return err
}

// dropController closes the served connection, ending its session.
func (h *Host) dropController() {
	h.mu.Lock()
	conn := h.serving
	h.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Disconnect drops the attached controller, if any. The host goes back to
// broadcasting.
func (h *Host) Disconnect() {
	h.dropController()
}

// SetState changes the host state and tells the attached controller.
func (h *Host) SetState(s kspio.HostState) {
	h.mu.Lock()
	h.state = s
	conn := h.conn
	h.mu.Unlock()
	if conn != nil {
		if err := h.write(conn, kspio.Status{State: uint8(s)}.Encode()); err != nil {
			h.logger.Debug("status write failed", logging.KeyError, err)
		}
	}
}

// SwitchVessel replaces the simulated vessel, bumping the sync token so
// the controller resynchronizes.
func (h *Host) SwitchVessel(v kspio.VesselData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v.VesselSync = h.vessel.VesselSync + 1
	if v.VesselSync == 0 {
		v.VesselSync = 1
	}
	h.vessel = v
}

// Vessel returns the current simulated snapshot
func (h *Host) Vessel() kspio.VesselData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vessel
}

// LastControl returns the most recent control packet, or nil
func (h *Host) LastControl() *kspio.ControlPacket {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastControl
}

// ControlCount returns how many control packets were received
func (h *Host) ControlCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controls
}

// Attached reports whether a handshaken controller is connected
func (h *Host) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// Sessions returns how many controllers completed the handshake
func (h *Host) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions
}
