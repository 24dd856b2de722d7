// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kspethernetio/kspeth/internal/event"
)

// ============================================================
// Test Helpers
// ============================================================

type chanSink chan event.Event

func (c chanSink) Post(ev event.Event) { c <- ev }

func (c chanSink) next(t *testing.T) event.TransportEvent {
	t.Helper()
	select {
	case ev := <-c:
		te, ok := ev.(event.TransportEvent)
		if !ok {
			t.Fatalf("expected TransportEvent, got %T", ev)
		}
		return te
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return event.TransportEvent{}
}

// expect waits for the next event of the given kind, skipping Received
// events when looking for something else.
func (c chanSink) expect(t *testing.T, kind event.TransportKind) event.TransportEvent {
	t.Helper()
	for {
		ev := c.next(t)
		if ev.Kind == kind {
			return ev
		}
		if ev.Kind != event.TransportReceived {
			t.Fatalf("expected %s, got %s (%v)", kind, ev.Kind, ev.Err)
		}
	}
}

func listenTCP(t *testing.T) (net.Listener, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	return ln, addr.IP.String(), addr.Port
}

func acceptOne(t *testing.T, ln net.Listener) <-chan net.Conn {
	ch := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(ch)
			return
		}
		ch <- c
	}()
	return ch
}

// ============================================================
// TCP Stream Tests
// ============================================================

func TestStream_ConnectReceiveSendCancel(t *testing.T) {
	ln, host, port := listenTCP(t)
	defer ln.Close()
	accepted := acceptOne(t, ln)

	sink := make(chanSink, 64)
	s := New(Options{Host: host, Port: port}, sink)
	s.Connect()

	if ev := sink.next(t); ev.Kind != event.TransportConnected || ev.Source != s.ID() {
		t.Fatalf("expected Connected from %d, got %+v", s.ID(), ev)
	}
	server := <-accepted
	defer server.Close()

	if _, err := server.Write([]byte{0xBE, 0xEF, 0x01}); err != nil {
		t.Fatalf("server write: %v", err)
	}
	ev := sink.next(t)
	if ev.Kind != event.TransportReceived || !bytes.Equal(ev.Data, []byte{0xBE, 0xEF, 0x01}) {
		t.Fatalf("expected Received, got %+v", ev)
	}

	if err := s.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, 3)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(server, buf); err != nil || !bytes.Equal(buf, []byte{1, 2, 3}) {
		t.Fatalf("server read %v: % X", err, buf)
	}

	s.Cancel()
	if ev := sink.expect(t, event.TransportDisconnected); ev.Err != nil {
		t.Errorf("expected Disconnected(nil), got %v", ev.Err)
	}
	s.Wait()
	if s.Active() {
		t.Error("stream should be inactive after cancel")
	}
	if err := s.Send([]byte{1}); !errors.Is(err, ErrInactive) {
		t.Errorf("expected ErrInactive after cancel, got %v", err)
	}
}

func TestStream_SendInactive(t *testing.T) {
	s := New(Options{Host: "127.0.0.1", Port: 1}, event.Discard)
	if err := s.Send([]byte{1}); !errors.Is(err, ErrInactive) {
		t.Errorf("expected ErrInactive, got %v", err)
	}
}

func TestStream_ConnectFailure(t *testing.T) {
	ln, host, port := listenTCP(t)
	ln.Close()

	sink := make(chanSink, 8)
	s := New(Options{Host: host, Port: port, ConnectTimeout: 500 * time.Millisecond}, sink)
	s.Connect()

	ev := sink.next(t)
	if ev.Kind != event.TransportDisconnected || ev.Err == nil {
		t.Fatalf("expected Disconnected with error, got %+v", ev)
	}
	s.Wait()
	if s.Active() {
		t.Error("stream should be inactive after failed connect")
	}
}

func TestStream_PeerClose(t *testing.T) {
	ln, host, port := listenTCP(t)
	defer ln.Close()
	accepted := acceptOne(t, ln)

	sink := make(chanSink, 8)
	s := New(Options{Host: host, Port: port}, sink)
	s.Connect()
	sink.expect(t, event.TransportConnected)

	(<-accepted).Close()

	ev := sink.expect(t, event.TransportDisconnected)
	if !errors.Is(ev.Err, ErrPeerClosed) {
		t.Errorf("expected ErrPeerClosed, got %v", ev.Err)
	}
	s.Wait()
}

func TestStream_ConnectIsIdempotent(t *testing.T) {
	ln, host, port := listenTCP(t)
	defer ln.Close()
	acceptOne(t, ln)

	sink := make(chanSink, 8)
	s := New(Options{Host: host, Port: port}, sink)
	s.Connect()
	s.Connect()
	sink.expect(t, event.TransportConnected)

	select {
	case ev := <-sink:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	s.Cancel()
	s.Wait()
}

// ============================================================
// Send Failure
// ============================================================

var errWriteFailed = errors.New("write failed")

type brokenConn struct {
	closed chan struct{}
}

func (b *brokenConn) Read(p []byte) (int, error) {
	select {
	case <-b.closed:
		return 0, io.EOF
	case <-time.After(time.Millisecond):
		return 0, timeoutError{}
	}
}
func (b *brokenConn) Write(p []byte) (int, error)        { return 0, errWriteFailed }
func (b *brokenConn) Close() error                       { return nil }
func (b *brokenConn) SetReadDeadline(t time.Time) error  { return nil }
func (b *brokenConn) SetWriteDeadline(t time.Time) error { return nil }

type brokenDialer struct{}

func (brokenDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	return &brokenConn{closed: make(chan struct{})}, nil
}
func (brokenDialer) Name() string { return "broken" }

func TestStream_SendFailureDisconnects(t *testing.T) {
	sink := make(chanSink, 8)
	s := New(Options{Host: "host", Dialer: brokenDialer{}}, sink)
	s.Connect()
	sink.expect(t, event.TransportConnected)

	err := s.Send([]byte{1})
	if !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected write error, got %v", err)
	}

	ev := sink.expect(t, event.TransportDisconnected)
	if !errors.Is(ev.Err, errWriteFailed) {
		t.Errorf("expected Disconnected to carry the write error, got %v", ev.Err)
	}
	s.Wait()
}

// ============================================================
// Stalled Host
// ============================================================

// pipeDialer hands out one end of an in-memory pipe. Nothing reads the
// other end, so writes stall like a host that stopped draining its socket.
type pipeDialer struct {
	peers chan net.Conn
}

func (d pipeDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	local, peer := net.Pipe()
	d.peers <- peer
	return local, nil
}
func (pipeDialer) Name() string { return "pipe" }

func TestStream_SendTimesOutOnStalledHost(t *testing.T) {
	d := pipeDialer{peers: make(chan net.Conn, 1)}
	sink := make(chanSink, 8)
	s := New(Options{Host: "host", Dialer: d, WriteTimeout: 20 * time.Millisecond}, sink)
	s.Connect()
	sink.expect(t, event.TransportConnected)
	peer := <-d.peers
	defer peer.Close()

	start := time.Now()
	err := s.Send([]byte{1, 2, 3})
	if !isTimeout(err) {
		t.Fatalf("expected a timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send blocked for %v", elapsed)
	}

	ev := sink.expect(t, event.TransportDisconnected)
	if !isTimeout(ev.Err) {
		t.Errorf("expected Disconnected to carry the timeout, got %v", ev.Err)
	}
	s.Wait()
	if s.Active() {
		t.Error("stream should be inactive")
	}
	if !isTimeout(s.Err()) {
		t.Errorf("Err() = %v, want the timeout", s.Err())
	}
	if err := s.Send([]byte{1}); !errors.Is(err, ErrInactive) {
		t.Errorf("Send after disconnect = %v, want ErrInactive", err)
	}
}

func TestStream_CancelInterruptsStalledSend(t *testing.T) {
	d := pipeDialer{peers: make(chan net.Conn, 1)}
	sink := make(chanSink, 8)
	s := New(Options{Host: "host", Dialer: d, WriteTimeout: time.Minute}, sink)
	s.Connect()
	sink.expect(t, event.TransportConnected)
	peer := <-d.peers
	defer peer.Close()

	sent := make(chan error, 1)
	go func() { sent <- s.Send([]byte{1, 2, 3}) }()
	time.Sleep(20 * time.Millisecond)
	s.Cancel()

	select {
	case err := <-sent:
		if err == nil {
			t.Error("interrupted Send should fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel did not interrupt Send")
	}

	ev := sink.expect(t, event.TransportDisconnected)
	if ev.Err != nil {
		t.Errorf("requested cancel should disconnect cleanly, got %v", ev.Err)
	}
	s.Wait()
	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil", s.Err())
	}
}

// ============================================================
// WebSocket Tests
// ============================================================

func TestStream_WebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)
	authHeader := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kspio" {
			http.NotFound(w, r)
			return
		}
		authHeader <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		c.WriteMessage(websocket.TextMessage, []byte("ignored"))
		c.WriteMessage(websocket.BinaryMessage, []byte{0xBE, 0xEF})
		_, data, err := c.ReadMessage()
		if err == nil {
			received <- data
		}
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	hostPort := strings.TrimPrefix(srv.URL, "http://")
	host, portStr, _ := net.SplitHostPort(hostPort)
	port, _ := strconv.Atoi(portStr)

	dialer := &WebSocketDialer{Path: "/kspio", Username: "pilot", Password: "secret"}
	if got := dialer.URL(host, port); got != "ws://"+hostPort+"/kspio" {
		t.Errorf("URL = %s", got)
	}

	sink := make(chanSink, 16)
	s := New(Options{Host: host, Port: port, Dialer: dialer}, sink)
	s.Connect()
	sink.expect(t, event.TransportConnected)

	if got := <-authHeader; !strings.HasPrefix(got, "Basic ") {
		t.Errorf("expected basic auth header, got %q", got)
	}

	ev := sink.next(t)
	if ev.Kind != event.TransportReceived || !bytes.Equal(ev.Data, []byte{0xBE, 0xEF}) {
		t.Fatalf("expected binary payload, got %+v", ev)
	}

	if err := s.Send([]byte{9, 8, 7}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case data := <-received:
		if !bytes.Equal(data, []byte{9, 8, 7}) {
			t.Errorf("server received % X", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}

	ev = sink.expect(t, event.TransportDisconnected)
	if ev.Err == nil {
		t.Error("expected a close to be reported as an error")
	}
	s.Wait()
}

func TestWebSocketDialer_Secure(t *testing.T) {
	d := &WebSocketDialer{Secure: true}
	if got := d.URL("10.0.0.2", 2342); got != "wss://10.0.0.2:2342/" {
		t.Errorf("URL = %s", got)
	}
}
