// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package discovery

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kspethernetio/kspeth/internal/event"
	"github.com/kspethernetio/kspeth/pkg/kspio"
)

// ============================================================
// Test Helpers
// ============================================================

type chanSink chan event.Event

func (c chanSink) Post(ev event.Event) { c <- ev }

func (c chanSink) next(t *testing.T) event.DiscoveryEvent {
	t.Helper()
	select {
	case ev := <-c:
		de, ok := ev.(event.DiscoveryEvent)
		if !ok {
			t.Fatalf("expected DiscoveryEvent, got %T", ev)
		}
		return de
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return event.DiscoveryEvent{}
}

func newLoopbackListener(port int) (*Listener, chanSink) {
	sink := make(chanSink, 64)
	l := New(Options{Port: port, BindAddr: "127.0.0.1"}, sink)
	return l, sink
}

// ============================================================
// Listener Tests
// ============================================================

func TestListener_ReceivesDatagram(t *testing.T) {
	l, sink := newLoopbackListener(0)
	l.Start()
	defer func() {
		l.Cancel()
		l.Wait()
	}()

	if ev := sink.next(t); ev.Kind != event.DiscoveryStarted || ev.Source != l.ID() {
		t.Fatalf("expected Started from %d, got %+v", l.ID(), ev)
	}
	if !l.Active() {
		t.Error("listener should be active")
	}

	conn, err := net.Dial("udp4", l.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame := kspio.MustWrap(kspio.Handshake{M1: 1, M2: 2, State: 1}.Encode())
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := sink.next(t)
	if ev.Kind != event.DiscoveryReceived {
		t.Fatalf("expected Received, got %s", ev.Kind)
	}
	if !bytes.Equal(ev.Data, frame) {
		t.Errorf("data mismatch: % X", ev.Data)
	}
	if ev.From == nil || ev.From.String() != conn.LocalAddr().String() {
		t.Errorf("expected sender %s, got %v", conn.LocalAddr(), ev.From)
	}
}

func TestListener_CancelPostsCanceled(t *testing.T) {
	l, sink := newLoopbackListener(0)
	l.Start()
	sink.next(t)

	l.Cancel()
	ev := sink.next(t)
	if ev.Kind != event.DiscoveryCanceled || ev.Err != nil {
		t.Fatalf("expected Canceled(nil), got %+v", ev)
	}
	l.Wait()
	if l.Active() {
		t.Error("listener should be inactive after cancel")
	}
}

func TestListener_StartIsIdempotent(t *testing.T) {
	l, sink := newLoopbackListener(0)
	l.Start()
	l.Start()
	sink.next(t)

	select {
	case ev := <-sink:
		t.Fatalf("unexpected second event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	l.Cancel()
	l.Wait()
}

func TestListener_RestartAfterCancel(t *testing.T) {
	l, sink := newLoopbackListener(0)
	l.Start()
	sink.next(t)
	l.Cancel()
	sink.next(t)
	l.Wait()

	l.Start()
	if ev := sink.next(t); ev.Kind != event.DiscoveryStarted {
		t.Fatalf("expected Started after restart, got %s", ev.Kind)
	}
	l.Cancel()
	l.Wait()
}

func TestListener_BindFailure(t *testing.T) {
	occupied, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	l, sink := newLoopbackListener(occupied.LocalAddr().(*net.UDPAddr).Port)
	l.Start()

	ev := sink.next(t)
	if ev.Kind != event.DiscoveryCanceled || ev.Err == nil {
		t.Fatalf("expected Canceled with error, got %+v", ev)
	}
	if !errors.Is(ev.Err, ErrBind) {
		t.Errorf("expected ErrBind, got %v", ev.Err)
	}
	l.Wait()
	if l.Active() {
		t.Error("listener should be inactive after bind failure")
	}
}

// panicSink panics on the first datagram and forwards everything else
type panicSink struct {
	chanSink
}

func (p panicSink) Post(ev event.Event) {
	if de, ok := ev.(event.DiscoveryEvent); ok && de.Kind == event.DiscoveryReceived {
		panic("sink failure")
	}
	p.chanSink.Post(ev)
}

func TestListener_PanicReleasesPort(t *testing.T) {
	sink := panicSink{make(chanSink, 8)}
	l := New(Options{BindAddr: "127.0.0.1"}, sink)
	l.Start()

	if ev := sink.next(t); ev.Kind != event.DiscoveryStarted {
		t.Fatalf("expected Started, got %s", ev.Kind)
	}
	local := l.LocalAddr().(*net.UDPAddr)

	conn, err := net.Dial("udp4", local.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := sink.next(t)
	if ev.Kind != event.DiscoveryCanceled || ev.Err == nil {
		t.Fatalf("expected Canceled with error, got %+v", ev)
	}
	l.Wait()
	if l.Active() {
		t.Error("listener should be inactive after a panic")
	}

	rebound, err := net.ListenUDP("udp4", local)
	if err != nil {
		t.Fatalf("port still held after panic: %v", err)
	}
	rebound.Close()
}

func TestListener_CancelWhenInactive(t *testing.T) {
	l, sink := newLoopbackListener(0)
	l.Cancel()
	select {
	case ev := <-sink:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}
