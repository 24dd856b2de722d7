// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketDialer reaches the host through a WebSocket bridge running next
// to it. Frames travel as binary messages; message boundaries carry no
// meaning, the stream decoder reassembles frames either way.
type WebSocketDialer struct {
	Path          string // request path, default "/"
	Secure        bool   // use wss://
	Username      string // HTTP Basic auth, optional
	Password      string
	SkipSSLVerify bool
}

// URL returns the endpoint the dialer connects to for host:port
func (d *WebSocketDialer) URL(host string, port int) string {
	scheme := "ws"
	if d.Secure {
		scheme = "wss"
	}
	path := d.Path
	if path == "" {
		path = "/"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: path}
	return u.String()
}

// Dial implements Dialer
func (d *WebSocketDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if d.Secure {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: d.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if d.Username != "" && d.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	wsURL := d.URL(host, port)
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection to %s failed (HTTP %d): %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection to %s failed: %w", wsURL, err)
	}

	return newWebSocketConn(conn), nil
}

// Name implements Dialer
func (d *WebSocketDialer) Name() string {
	return "websocket"
}

// webSocketConn adapts a WebSocket connection to a byte stream with read
// deadlines. gorilla/websocket treats a read timeout as fatal for the
// connection, so messages are pumped by a goroutine and deadlines are
// applied to the channel receive instead.
type webSocketConn struct {
	conn *websocket.Conn

	messages  chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	deadline      time.Time
	writeDeadline time.Time
	readErr       error

	buf       []byte
	bufOffset int
}

func newWebSocketConn(conn *websocket.Conn) *webSocketConn {
	w := &webSocketConn{
		conn:     conn,
		messages: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
	go w.pump()
	return w
}

func (w *webSocketConn) pump() {
	defer close(w.messages)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}
		// Only binary messages carry protocol bytes
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case w.messages <- data:
		case <-w.closed:
			return
		}
	}
}

func (w *webSocketConn) Read(p []byte) (int, error) {
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	w.mu.Lock()
	deadline := w.deadline
	w.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-w.messages:
		if !ok {
			w.mu.Lock()
			err := w.readErr
			w.mu.Unlock()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, ErrConnectionClosed
			}
			if err == nil {
				err = ErrConnectionClosed
			}
			return 0, err
		}
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	case <-timeout:
		return 0, timeoutError{}
	case <-w.closed:
		return 0, ErrConnectionClosed
	}
}

func (w *webSocketConn) Write(p []byte) (int, error) {
	w.mu.Lock()
	deadline := w.writeDeadline
	w.mu.Unlock()

	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *webSocketConn) SetReadDeadline(t time.Time) error {
	w.mu.Lock()
	w.deadline = t
	w.mu.Unlock()
	return nil
}

// SetWriteDeadline applies to the next Write. It also interrupts a write in
// progress through the underlying connection.
func (w *webSocketConn) SetWriteDeadline(t time.Time) error {
	w.mu.Lock()
	w.writeDeadline = t
	w.mu.Unlock()
	return w.conn.UnderlyingConn().SetWriteDeadline(t)
}

func (w *webSocketConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		err = w.conn.Close()
	})
	return err
}
