// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostsim

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/kspethernetio/kspeth/internal/client"
	"github.com/kspethernetio/kspeth/pkg/kspio"
)

// ============================================================
// Test Helpers
// ============================================================

// freePort returns a port that is currently free for both UDP and TCP on
// loopback.
func freePort(t *testing.T) int {
	t.Helper()
	for i := 0; i < 20; i++ {
		udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		if err != nil {
			t.Fatalf("listen udp: %v", err)
		}
		port := udp.LocalAddr().(*net.UDPAddr).Port
		tcp, err := net.Listen("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		udp.Close()
		if err != nil {
			continue
		}
		tcp.Close()
		return port
	}
	t.Fatal("no free port")
	return 0
}

func startHost(t *testing.T, opts Options) (*Host, func()) {
	t.Helper()
	opts.BroadcastAddr = "127.0.0.1"
	opts.ListenAddr = "127.0.0.1"
	if opts.Interval == 0 {
		opts.Interval = 20 * time.Millisecond
	}
	h := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()

	select {
	case <-h.Ready():
	case err := <-errc:
		cancel()
		t.Fatalf("host failed to start: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("host did not start")
	}

	return h, func() {
		cancel()
		select {
		case <-errc:
		case <-time.After(2 * time.Second):
			t.Error("host did not stop")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func readFrame(t *testing.T, conn net.Conn, dec *kspio.Decoder) []byte {
	t.Helper()
	buf := make([]byte, 512)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, err := conn.Read(buf)
		for _, b := range buf[:n] {
			payload, derr := dec.DecodeByte(b)
			if derr != nil {
				t.Fatalf("bad frame from host: %v", derr)
			}
			if payload != nil {
				return payload
			}
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
}

// ============================================================
// Host Tests
// ============================================================

func TestHost_Broadcasts(t *testing.T) {
	port := freePort(t)
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer udp.Close()

	_, stop := startHost(t, Options{Port: port, State: kspio.HostNotInFlight})
	defer stop()

	buf := make([]byte, 64)
	udp.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := udp.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("no broadcast: %v", err)
	}
	payload, err := kspio.Unwrap(buf[:n])
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	hs, err := kspio.DecodeHandshake(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hs.M1 != HostM1 || hs.M2 != HostM2 || hs.HostState() != kspio.HostNotInFlight {
		t.Errorf("handshake = %s", hs)
	}
}

func TestHost_Session(t *testing.T) {
	port := freePort(t)
	controls := make(chan *kspio.ControlPacket, 4)
	h, stop := startHost(t, Options{Port: port, OnControl: func(cp *kspio.ControlPacket) { controls <- cp }})
	defer stop()

	conn, err := net.Dial("tcp4", h.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(kspio.MustWrap(kspio.ClientHandshake().Encode())); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	dec := kspio.NewDecoder()
	status, err := kspio.DecodeStatus(readFrame(t, conn, dec))
	if err != nil {
		t.Fatalf("expected status after handshake: %v", err)
	}
	if status.HostState() != kspio.HostInFlight {
		t.Errorf("status = %s", status)
	}
	waitFor(t, "attach", h.Attached)

	v, err := kspio.DecodeVesselData(readFrame(t, conn, dec))
	if err != nil {
		t.Fatalf("expected telemetry: %v", err)
	}
	if v.VesselSync != 1 {
		t.Errorf("vessel sync = %d, want 1", v.VesselSync)
	}

	var cp kspio.ControlPacket
	cp.SetGear(true)
	cp.TriggerStage()
	cp.SetAxis(kspio.AxisThrottle, 500)
	cp.VesselSync = 1
	if _, err := conn.Write(kspio.MustWrap(cp.Encode())); err != nil {
		t.Fatalf("write control: %v", err)
	}

	select {
	case got := <-controls:
		if !got.Gear() || !got.Stage() {
			t.Errorf("control = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("control not received")
	}

	vessel := h.Vessel()
	if !vessel.Gear() || vessel.CurrentStage != 1 || vessel.VVI != 25 {
		t.Errorf("control not applied: gear=%v stage=%d vvi=%v", vessel.Gear(), vessel.CurrentStage, vessel.VVI)
	}
	if h.ControlCount() != 1 || h.LastControl() == nil {
		t.Errorf("control count = %d", h.ControlCount())
	}
}

func TestHost_StaleSyncNotApplied(t *testing.T) {
	h := New(Options{})
	var cp kspio.ControlPacket
	cp.SetGear(true)
	cp.VesselSync = 0

	h.mu.Lock()
	h.apply(&cp)
	h.mu.Unlock()

	if h.Vessel().Gear() {
		t.Error("control for another vessel must not be applied")
	}
}

func TestHost_RejectsBadHandshake(t *testing.T) {
	port := freePort(t)
	h, stop := startHost(t, Options{Port: port})
	defer stop()

	conn, err := net.Dial("tcp4", h.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	bad := kspio.Handshake{M1: 9, M2: 9, State: 9}
	conn.Write(kspio.MustWrap(bad.Encode()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	if err == nil {
		t.Fatal("expected the host to close the connection")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatal("host kept a connection with a bad handshake open")
	}
	if h.Sessions() != 0 {
		t.Errorf("sessions = %d, want 0", h.Sessions())
	}
}

// ============================================================
// End to End
// ============================================================

func TestEndToEnd(t *testing.T) {
	port := freePort(t)
	h, stop := startHost(t, Options{Port: port})
	defer stop()

	c := client.New(client.Options{
		Port:     port,
		BindAddr: "127.0.0.1",
		Tick:     time.Millisecond,
		Refresh:  10 * time.Millisecond,
	})
	defer c.Destroy()

	waitFor(t, "WaitStart", c.IsStopped)
	c.Start()

	waitFor(t, "Active", c.IsActive)
	waitFor(t, "telemetry", func() bool { return c.Telemetry() != nil })
	if c.HostState() != kspio.HostInFlight {
		t.Errorf("host state = %s", c.HostState())
	}
	if c.Controls().Snapshot().VesselSync != 1 {
		t.Errorf("controls should sync to the vessel")
	}

	// Operator intent reaches the simulated vessel and comes back in telemetry
	c.Controls().SetGear(true)
	waitFor(t, "gear in telemetry", func() bool {
		v := c.Telemetry()
		return v != nil && v.Gear()
	})

	h.SetState(kspio.HostNotInFlight)
	waitFor(t, "NotInFlight", func() bool { return c.HostState() == kspio.HostNotInFlight })

	// Losing the stream sends the client back to discovery and it reconnects
	h.SetState(kspio.HostInFlight)
	h.Disconnect()
	waitFor(t, "second session", func() bool { return h.Sessions() >= 2 })
	waitFor(t, "Active again", c.IsActive)

	c.Stop()
	waitFor(t, "stopped", c.IsStopped)
	waitFor(t, "host detached", func() bool { return !h.Attached() })
}
