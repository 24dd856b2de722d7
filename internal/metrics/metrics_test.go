// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m.FramesDecoded == nil || m.StateTransitions == nil || m.EventsDropped == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestRecordConnectDisconnect(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordConnect()
	if got := testutil.ToFloat64(m.Connected); got != 1 {
		t.Errorf("Connected = %v, want 1", got)
	}
	m.RecordDisconnect("peer_closed")
	m.RecordConnect()
	m.RecordDisconnect("error")

	if got := testutil.ToFloat64(m.Connects); got != 2 {
		t.Errorf("Connects = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Connected); got != 0 {
		t.Errorf("Connected = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.Disconnects.WithLabelValues("error")); got != 1 {
		t.Errorf("Disconnects{error} = %v, want 1", got)
	}
}

func TestRecordFramesAndErrors(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordFrame("VESSEL_DATA")
	m.RecordFrame("VESSEL_DATA")
	m.RecordFrame("STATUS")
	m.RecordDecodeError("checksum")
	m.RecordBytesReceived("transport", 100)
	m.RecordBytesSent("transport", 30)
	m.RecordControlSent()
	m.RecordHandshake()
	m.RecordTransition("Active")
	m.RecordEventDropped()

	if got := testutil.ToFloat64(m.FramesDecoded.WithLabelValues("VESSEL_DATA")); got != 2 {
		t.Errorf("FramesDecoded{VESSEL_DATA} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DecodeErrors.WithLabelValues("checksum")); got != 1 {
		t.Errorf("DecodeErrors{checksum} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived.WithLabelValues("transport")); got != 100 {
		t.Errorf("BytesReceived = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.ControlSent); got != 1 {
		t.Errorf("ControlSent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped); got != 1 {
		t.Errorf("EventsDropped = %v, want 1", got)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.RecordConnect()
	m.RecordDisconnect("x")
	m.RecordFrame("x")
	m.RecordDecodeError("x")
	m.RecordBytesReceived("x", 1)
	m.RecordBytesSent("x", 1)
	m.RecordControlSent()
	m.RecordHandshake()
	m.RecordTransition("x")
	m.RecordEventDropped()
}

func TestHandlerFor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)
	m.RecordControlSent()

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "kspeth_control_packets_sent_total 1") {
		t.Errorf("metric missing from output:\n%s", rec.Body.String())
	}
}
