// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package discovery listens for the host's UDP handshake broadcasts.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kspethernetio/kspeth/internal/event"
	"github.com/kspethernetio/kspeth/internal/logging"
	"github.com/kspethernetio/kspeth/internal/metrics"
	"github.com/kspethernetio/kspeth/internal/recovery"
)

const (
	DefaultBindAddr     = "0.0.0.0"
	DefaultPollInterval = 10 * time.Millisecond

	// A frame is at most 259 bytes; anything larger is truncated and will
	// fail to unwrap.
	datagramSize = 1024
)

// ErrBind is reported in Canceled when the discovery port can not be bound.
var ErrBind = errors.New("discovery socket unavailable")

// Options configures a Listener.
type Options struct {
	Port         int
	BindAddr     string        // default 0.0.0.0
	PollInterval time.Duration // read deadline; bounds cancel latency
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Listener receives broadcast datagrams on a UDP port and posts them as
// DiscoveryEvents. It runs at most one receive loop at a time.
type Listener struct {
	id      uint64
	opts    Options
	sink    event.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	active    bool
	canceling bool
	localAddr net.Addr
	wg        sync.WaitGroup
}

// New creates a listener that posts to sink. It does not bind until Start.
func New(opts Options, sink event.Sink) *Listener {
	if opts.BindAddr == "" {
		opts.BindAddr = DefaultBindAddr
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	id := event.NextID()
	return &Listener{
		id:      id,
		opts:    opts,
		sink:    sink,
		logger:  logging.OrNop(opts.Logger).With(logging.KeyComponent, "discovery", logging.KeyInstance, id),
		metrics: opts.Metrics,
	}
}

// ID returns the instance ID carried by every event this listener posts.
func (l *Listener) ID() uint64 {
	return l.id
}

// Start begins listening. Calling Start while the loop is running is a
// no-op, except that it withdraws a pending Cancel.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.canceling = false
	if l.active {
		return
	}
	l.active = true
	l.localAddr = nil
	l.wg.Add(1)
	go l.run()
}

// Cancel asks the loop to stop. It returns immediately; the loop exits
// within one poll interval and posts Canceled(nil).
func (l *Listener) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		l.canceling = true
	}
}

// Active reports whether the receive loop is running.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// LocalAddr returns the bound address while the loop is running, or nil.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localAddr
}

// Wait blocks until the receive loop has exited.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) run() {
	defer l.wg.Done()

	var conn *net.UDPConn
	defer recovery.RecoverWithCallback(l.logger, "discovery", func(r interface{}) {
		if conn != nil {
			conn.Close()
		}
		l.finish(fmt.Errorf("discovery loop panic: %v", r))
	})

	addr := net.JoinHostPort(l.opts.BindAddr, strconv.Itoa(l.opts.Port))
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		l.finish(fmt.Errorf("%w: resolve %s: %w", ErrBind, addr, err))
		return
	}
	conn, err = net.ListenUDP("udp4", udpAddr)
	if err != nil {
		l.finish(fmt.Errorf("%w: bind %s: %w", ErrBind, addr, err))
		return
	}

	l.mu.Lock()
	l.localAddr = conn.LocalAddr()
	l.mu.Unlock()

	l.logger.Info("listening for broadcasts", logging.KeyLocalAddr, conn.LocalAddr().String())
	l.sink.Post(event.DiscoveryEvent{Kind: event.DiscoveryStarted, Source: l.id})

	buf := make([]byte, datagramSize)
	for {
		if l.stopRequested(conn) {
			l.report(nil)
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(l.opts.PollInterval)); err != nil {
			conn.Close()
			l.finish(fmt.Errorf("set read deadline: %w", err))
			return
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			conn.Close()
			l.finish(fmt.Errorf("receive: %w", err))
			return
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		l.metrics.RecordBytesReceived("discovery", n)
		l.logger.Debug("datagram received", logging.KeyFrom, from.String(), logging.KeyBytes, n)
		l.sink.Post(event.DiscoveryEvent{
			Kind:   event.DiscoveryReceived,
			Source: l.id,
			Data:   data,
			From:   from,
		})
	}
}

// stopRequested closes conn and marks the loop inactive if a cancel is
// pending. Both happen under the lock so a concurrent Start either
// withdraws the cancel in time or starts a fresh loop after the port is
// released.
func (l *Listener) stopRequested(conn *net.UDPConn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.canceling {
		return false
	}
	conn.Close()
	l.active = false
	l.canceling = false
	l.localAddr = nil
	return true
}

// finish marks the loop inactive and reports err.
func (l *Listener) finish(err error) {
	l.mu.Lock()
	l.active = false
	l.canceling = false
	l.localAddr = nil
	l.mu.Unlock()
	l.report(err)
}

// report posts Canceled. The loop must already be marked inactive.
func (l *Listener) report(err error) {
	if err != nil {
		l.logger.Warn("listener stopped", logging.KeyError, err)
	} else {
		l.logger.Info("listener canceled")
	}
	l.sink.Post(event.DiscoveryEvent{Kind: event.DiscoveryCanceled, Source: l.id, Err: err})
}
