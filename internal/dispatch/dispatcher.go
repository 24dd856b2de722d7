// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dispatch turns the raw bytes posted by the discovery listener and
// the stream transport into decoded packet events.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kspethernetio/kspeth/internal/event"
	"github.com/kspethernetio/kspeth/internal/logging"
	"github.com/kspethernetio/kspeth/internal/metrics"
	"github.com/kspethernetio/kspeth/pkg/kspio"
)

// ErrUnexpectedPacket is reported for a well-formed frame whose packet type
// has no meaning on the channel it arrived on.
var ErrUnexpectedPacket = fmt.Errorf("%w: unexpected packet type", kspio.ErrDecode)

// Dispatcher is an event.Sink. It decodes Received events into PacketEvents
// and forwards every other event unchanged to the next sink.
//
// Stream bytes are reassembled with one frame decoder per transport
// instance. A decoder is reset when its transport connects and dropped when
// it disconnects, so a partial frame never leaks into the next session.
type Dispatcher struct {
	next    event.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	decoders map[uint64]*kspio.Decoder
	stats    *kspio.Statistics
}

// New creates a dispatcher posting to next. logger and m may be nil.
func New(next event.Sink, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		next:     next,
		logger:   logging.OrNop(logger).With(logging.KeyComponent, "dispatch"),
		metrics:  m,
		decoders: make(map[uint64]*kspio.Decoder),
		stats:    kspio.NewStatistics(),
	}
}

// Post implements event.Sink
func (d *Dispatcher) Post(ev event.Event) {
	switch e := ev.(type) {
	case event.DiscoveryEvent:
		if e.Kind == event.DiscoveryReceived {
			d.handleDatagram(e)
			return
		}
	case event.TransportEvent:
		switch e.Kind {
		case event.TransportReceived:
			d.handleStream(e)
			return
		case event.TransportConnected:
			d.mu.Lock()
			d.decoderFor(e.Source).Reset()
			d.mu.Unlock()
		case event.TransportDisconnected:
			d.mu.Lock()
			delete(d.decoders, e.Source)
			d.mu.Unlock()
		}
	}
	d.next.Post(ev)
}

// Stats returns a copy of the link statistics gathered so far.
func (d *Dispatcher) Stats() kspio.Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := *d.stats
	s.ByType = make(map[uint8]uint64, len(d.stats.ByType))
	for k, v := range d.stats.ByType {
		s.ByType[k] = v
	}
	return s
}

// handleDatagram decodes one broadcast datagram. Each datagram carries a
// single complete frame.
func (d *Dispatcher) handleDatagram(e event.DiscoveryEvent) {
	d.mu.Lock()
	d.stats.AddBytes(len(e.Data))
	d.mu.Unlock()

	payload, err := kspio.Unwrap(e.Data)
	if err != nil {
		d.fail(e.Source, err)
		return
	}
	hs, err := kspio.DecodeHandshake(payload)
	if err != nil {
		d.fail(e.Source, err)
		return
	}
	hs.Sender = e.From

	d.mu.Lock()
	d.stats.Update(payload, nil, nil)
	d.mu.Unlock()
	d.metrics.RecordFrame(packetLabel(event.HandshakeDecoded))
	d.metrics.RecordHandshake()
	d.next.Post(event.PacketEvent{Kind: event.HandshakeDecoded, Source: e.Source, Handshake: hs})
}

// handleStream feeds a stream chunk through the source's frame decoder and
// posts one event per completed frame or framing error, in stream order.
func (d *Dispatcher) handleStream(e event.TransportEvent) {
	var out []event.PacketEvent

	d.mu.Lock()
	dec := d.decoderFor(e.Source)
	d.stats.AddBytes(len(e.Data))
	for _, b := range e.Data {
		payload, err := dec.DecodeByte(b)
		if err != nil {
			d.stats.Update(nil, err, nil)
			out = append(out, event.PacketEvent{Kind: event.DecodeFailed, Source: e.Source, Err: err})
			continue
		}
		if payload == nil {
			continue
		}
		ev := decodeStreamPayload(e.Source, payload)
		var anomalies []kspio.ValidationError
		if ev.Kind == event.TelemetryDecoded {
			anomalies = kspio.ValidateVesselData(ev.Vessel)
		}
		d.stats.Update(payload, ev.Err, anomalies)
		out = append(out, ev)
	}
	d.stats.SetSkipped(dec.Skipped())
	d.mu.Unlock()

	for _, ev := range out {
		if ev.Kind == event.DecodeFailed {
			d.report(ev.Err)
		} else {
			d.metrics.RecordFrame(packetLabel(ev.Kind))
		}
		d.next.Post(ev)
	}
}

func decodeStreamPayload(source uint64, payload []byte) event.PacketEvent {
	packetType, ok := kspio.PacketType(payload)
	if !ok {
		// Empty frame
		_, err := kspio.DecodeStatus(payload)
		return event.PacketEvent{Kind: event.DecodeFailed, Source: source, Err: err}
	}

	switch packetType {
	case kspio.TypeVessel:
		v, err := kspio.DecodeVesselData(payload)
		if err != nil {
			return event.PacketEvent{Kind: event.DecodeFailed, Source: source, Err: err}
		}
		return event.PacketEvent{Kind: event.TelemetryDecoded, Source: source, Vessel: v}
	case kspio.TypeStatus:
		s, err := kspio.DecodeStatus(payload)
		if err != nil {
			return event.PacketEvent{Kind: event.DecodeFailed, Source: source, Err: err}
		}
		return event.PacketEvent{Kind: event.StatusDecoded, Source: source, Status: s}
	default:
		return event.PacketEvent{
			Kind:   event.DecodeFailed,
			Source: source,
			Err:    fmt.Errorf("%w %s on stream", ErrUnexpectedPacket, kspio.FormatPacketType(packetType)),
		}
	}
}

// fail records and posts a datagram decode failure.
func (d *Dispatcher) fail(source uint64, err error) {
	d.mu.Lock()
	d.stats.Update(nil, err, nil)
	d.mu.Unlock()
	d.report(err)
	d.next.Post(event.PacketEvent{Kind: event.DecodeFailed, Source: source, Err: err})
}

func (d *Dispatcher) report(err error) {
	kind := "decode"
	switch {
	case errors.Is(err, kspio.ErrChecksum):
		kind = "checksum"
	case errors.Is(err, kspio.ErrFraming):
		kind = "framing"
	}
	d.metrics.RecordDecodeError(kind)
	d.logger.Debug("decode failed", logging.KeyError, err)
}

// decoderFor must be called with d.mu held
func (d *Dispatcher) decoderFor(source uint64) *kspio.Decoder {
	dec, ok := d.decoders[source]
	if !ok {
		dec = kspio.NewDecoder()
		d.decoders[source] = dec
	}
	return dec
}

func packetLabel(k event.PacketKind) string {
	switch k {
	case event.TelemetryDecoded:
		return "vessel"
	case event.StatusDecoded:
		return "status"
	case event.HandshakeDecoded:
		return "handshake"
	default:
		return "unknown"
	}
}
