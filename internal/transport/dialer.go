// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Conn is a connected byte stream. Read and Write must honour their
// deadlines by returning an error whose Timeout() reports true.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer opens a Conn to a discovered host. ctx carries the connect timeout.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
	// Name describes the transport for logs
	Name() string
}

// TCPDialer connects with plain TCP and disables Nagle's algorithm, since
// control packets are small and latency sensitive.
type TCPDialer struct{}

// Dial implements Dialer
func (TCPDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			c.Close()
			return nil, fmt.Errorf("set TCP_NODELAY: %w", err)
		}
	}
	return c, nil
}

// Name implements Dialer
func (TCPDialer) Name() string {
	return "tcp"
}

// timeoutError is returned by adapters that emulate deadlines
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
