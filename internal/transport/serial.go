// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialDialer talks to a host over a serial line instead of the network,
// for hosts bridged through a USB serial adapter. Discovery still gates the
// connection; the discovered address is ignored.
type SerialDialer struct {
	PortName string
	BaudRate int
}

// Dial implements Dialer
func (d *SerialDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", d.PortName, err)
	}
	return &serialConn{port: p}, nil
}

// Name implements Dialer
func (d *SerialDialer) Name() string {
	return fmt.Sprintf("serial %s @ %d baud", d.PortName, d.BaudRate)
}

// serialConn maps read deadlines onto the port's read timeout. The serial
// driver reports a timeout as a zero-byte read, which is translated into a
// timeout error here so the stream does not mistake it for a peer close.
//
// The driver has no write timeout. A write that outlives its deadline is
// abandoned and finishes, or fails, when the stream closes the port.
type serialConn struct {
	port serial.Port

	mu            sync.Mutex
	writeDeadline time.Time
}

func (s *serialConn) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err == nil && n == 0 {
		return 0, timeoutError{}
	}
	return n, err
}

func (s *serialConn) Write(p []byte) (int, error) {
	s.mu.Lock()
	deadline := s.writeDeadline
	s.mu.Unlock()

	if deadline.IsZero() {
		return s.port.Write(p)
	}
	if !time.Now().Before(deadline) {
		return 0, timeoutError{}
	}

	type result struct {
		n   int
		err error
	}
	data := append([]byte(nil), p...)
	done := make(chan result, 1)
	go func() {
		n, err := s.port.Write(data)
		done <- result{n, err}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case r := <-done:
		return r.n, r.err
	case <-timer.C:
		return 0, timeoutError{}
	}
}

func (s *serialConn) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	s.writeDeadline = t
	s.mu.Unlock()
	return nil
}

func (s *serialConn) Close() error {
	return s.port.Close()
}

func (s *serialConn) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return s.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return s.port.SetReadTimeout(d)
}
