// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport maintains the byte stream to the host.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kspethernetio/kspeth/internal/event"
	"github.com/kspethernetio/kspeth/internal/logging"
	"github.com/kspethernetio/kspeth/internal/metrics"
	"github.com/kspethernetio/kspeth/internal/recovery"
)

const (
	DefaultConnectTimeout = 1000 * time.Millisecond
	DefaultPollInterval   = 10 * time.Millisecond
	DefaultWriteTimeout   = 100 * time.Millisecond

	readBufferSize = 4096
)

var (
	// ErrInactive is returned by Send when no connection is up.
	ErrInactive = errors.New("transport inactive")
	// ErrPeerClosed is reported in Disconnected when the host closes the stream.
	ErrPeerClosed = errors.New("connection closed by peer")
)

// Options configures a Stream.
type Options struct {
	Host           string
	Port           int
	Dialer         Dialer // default TCPDialer
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	WriteTimeout   time.Duration // bound on a single Send
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Stream connects to one host and posts TransportEvents for the life of the
// connection. A Stream runs at most one connection loop at a time; the
// client creates a fresh Stream for every connection attempt.
type Stream struct {
	id      uint64
	opts    Options
	sink    event.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	conn      Conn
	active    bool
	canceling bool
	sendErr   error
	lastErr   error
	wg        sync.WaitGroup

	writeMu sync.Mutex
}

// New creates a stream to opts.Host that posts to sink. It does not dial
// until Connect.
func New(opts Options, sink event.Sink) *Stream {
	if opts.Dialer == nil {
		opts.Dialer = TCPDialer{}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	id := event.NextID()
	return &Stream{
		id:   id,
		opts: opts,
		sink: sink,
		logger: logging.OrNop(opts.Logger).With(
			logging.KeyComponent, "transport",
			logging.KeyInstance, id,
			logging.KeyHost, opts.Host),
		metrics: opts.Metrics,
	}
}

// ID returns the instance ID carried by every event this stream posts.
func (s *Stream) ID() uint64 {
	return s.id
}

// Connect starts the connection loop. Calling Connect while the loop is
// running is a no-op, except that it withdraws a pending Cancel.
func (s *Stream) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.canceling = false
	if s.active {
		return
	}
	s.active = true
	s.sendErr = nil
	s.lastErr = nil
	s.wg.Add(1)
	go s.run()
}

// Cancel asks the loop to close the connection. It returns immediately; the
// loop exits within one poll interval (or when the dial finishes) and posts
// Disconnected(nil). A Send blocked on a stalled host is interrupted.
func (s *Stream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.canceling = true
	if s.conn != nil {
		_ = s.conn.SetWriteDeadline(time.Now())
	}
}

// Active reports whether the connection loop is running.
func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Err returns the error the last connection loop ended with, or nil if it
// is still running or was canceled.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Wait blocks until the connection loop has exited.
func (s *Stream) Wait() {
	s.wg.Wait()
}

// Send writes b to the host, waiting at most Options.WriteTimeout. It
// returns ErrInactive when no connection is up. A write failure, timeouts
// included, cancels the connection; the loop then reports the same error in
// Disconnected.
func (s *Stream) Send(b []byte) error {
	s.mu.Lock()
	conn := s.conn
	ok := s.active && !s.canceling && conn != nil
	s.mu.Unlock()
	if !ok {
		return ErrInactive
	}

	s.writeMu.Lock()
	err := conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err == nil {
		_, err = conn.Write(b)
	}
	s.writeMu.Unlock()

	if err != nil {
		err = fmt.Errorf("send: %w", err)
		s.mu.Lock()
		// A write cut short by Cancel ends the loop as a requested cancel
		if s.sendErr == nil && !s.canceling {
			s.sendErr = err
		}
		s.canceling = true
		s.mu.Unlock()
		return err
	}

	s.metrics.RecordBytesSent("transport", len(b))
	return nil
}

func (s *Stream) run() {
	defer s.wg.Done()

	var conn Conn
	defer recovery.RecoverWithCallback(s.logger, "transport", func(r interface{}) {
		s.finish(conn, fmt.Errorf("transport loop panic: %v", r))
	})

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	c, err := s.opts.Dialer.Dial(ctx, s.opts.Host, s.opts.Port)
	cancel()
	if err != nil {
		s.finish(nil, fmt.Errorf("connect %s via %s: %w", s.opts.Host, s.opts.Dialer.Name(), err))
		return
	}
	conn = c

	s.mu.Lock()
	if s.canceling {
		s.mu.Unlock()
		s.finish(conn, nil)
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("connected", logging.KeyTransport, s.opts.Dialer.Name())
	s.metrics.RecordConnect()
	s.sink.Post(event.TransportEvent{Kind: event.TransportConnected, Source: s.id})

	s.finish(conn, s.readLoop(conn))
}

// readLoop reads until cancel, peer close or error. It returns nil for a
// requested cancel.
func (s *Stream) readLoop(conn Conn) error {
	buf := make([]byte, readBufferSize)
	for {
		s.mu.Lock()
		canceling, sendErr := s.canceling, s.sendErr
		s.mu.Unlock()
		if sendErr != nil {
			return sendErr
		}
		if canceling {
			return nil
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.opts.PollInterval)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.metrics.RecordBytesReceived("transport", n)
			s.sink.Post(event.TransportEvent{Kind: event.TransportReceived, Source: s.id, Data: data})
		}
		switch {
		case err == nil && n == 0:
			return ErrPeerClosed
		case err == nil:
		case isTimeout(err):
		case errors.Is(err, io.EOF):
			return ErrPeerClosed
		default:
			return fmt.Errorf("receive: %w", err)
		}
	}
}

// finish closes conn, marks the loop inactive and posts Disconnected.
func (s *Stream) finish(conn Conn, err error) {
	if conn != nil {
		conn.Close()
	}

	s.mu.Lock()
	s.conn = nil
	s.active = false
	s.canceling = false
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("disconnected", logging.KeyError, err)
	} else {
		s.logger.Info("disconnected")
	}
	if conn != nil {
		reason := "canceled"
		switch {
		case errors.Is(err, ErrPeerClosed):
			reason = "peer_closed"
		case err != nil:
			reason = "error"
		}
		s.metrics.RecordDisconnect(reason)
	}
	s.sink.Post(event.TransportEvent{Kind: event.TransportDisconnected, Source: s.id, Err: err})
}
