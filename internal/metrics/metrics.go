// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics provides Prometheus metrics for the kspeth client.
//
// All Record* helpers are safe to call on a nil *Metrics, so components
// can run without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "kspeth"
)

// Metrics contains all Prometheus metrics for the client.
type Metrics struct {
	// Link metrics
	BytesReceived  *prometheus.CounterVec
	BytesSent      *prometheus.CounterVec
	FramesDecoded  *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	ControlSent    prometheus.Counter
	HandshakesSeen prometheus.Counter

	// Lifecycle metrics
	StateTransitions *prometheus.CounterVec
	Connects         prometheus.Counter
	Disconnects      *prometheus.CounterVec
	Connected        prometheus.Gauge
	EventsDropped    prometheus.Counter
}

// NewMetrics creates a Metrics instance registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Bytes received by component",
		}, []string{"component"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes sent by component",
		}, []string{"component"}),
		FramesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Frames decoded by packet type",
		}, []string{"type"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Framing and decode errors by kind",
		}, []string{"kind"}),
		ControlSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_packets_sent_total",
			Help:      "Control packets sent to the host",
		}),
		HandshakesSeen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_received_total",
			Help:      "Handshake broadcasts decoded",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state machine transitions by target state",
		}, []string{"state"}),
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Stream connections established",
		}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Stream disconnects by reason",
		}, []string{"reason"}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a stream to the host is up",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events overwritten in the event slot before the state machine consumed them",
		}),
	}
}

// Handler returns an HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns an HTTP handler exposing the given registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordBytesReceived records bytes read by a component.
func (m *Metrics) RecordBytesReceived(component string, n int) {
	if m == nil {
		return
	}
	m.BytesReceived.WithLabelValues(component).Add(float64(n))
}

// RecordBytesSent records bytes written by a component.
func (m *Metrics) RecordBytesSent(component string, n int) {
	if m == nil {
		return
	}
	m.BytesSent.WithLabelValues(component).Add(float64(n))
}

// RecordFrame records a successfully decoded frame.
func (m *Metrics) RecordFrame(packetType string) {
	if m == nil {
		return
	}
	m.FramesDecoded.WithLabelValues(packetType).Inc()
}

// RecordDecodeError records a framing or decode failure.
func (m *Metrics) RecordDecodeError(kind string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

// RecordControlSent records one control packet sent.
func (m *Metrics) RecordControlSent() {
	if m == nil {
		return
	}
	m.ControlSent.Inc()
}

// RecordHandshake records one handshake broadcast decoded.
func (m *Metrics) RecordHandshake() {
	if m == nil {
		return
	}
	m.HandshakesSeen.Inc()
}

// RecordTransition records a state machine transition.
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

// RecordConnect records a stream connection.
func (m *Metrics) RecordConnect() {
	if m == nil {
		return
	}
	m.Connects.Inc()
	m.Connected.Set(1)
}

// RecordDisconnect records a stream disconnect.
func (m *Metrics) RecordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.Disconnects.WithLabelValues(reason).Inc()
	m.Connected.Set(0)
}

// RecordEventDropped records an event overwritten before it was consumed.
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}
