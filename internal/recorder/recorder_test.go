// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package recorder

import (
	"bytes"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kspethernetio/kspeth/internal/event"
	"github.com/kspethernetio/kspeth/pkg/kspio"
)

func TestFromEvent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	vessel := &kspio.VesselData{Alt: 1200, TotalStage: 2, VesselSync: 3}
	sender := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 2342}

	tests := []struct {
		name   string
		ev     event.Event
		kind   Kind
		detail string
		data   []byte
		ok     bool
	}{
		{
			name:   "handshake",
			ev:     event.PacketEvent{Kind: event.HandshakeDecoded, Source: 1, Handshake: kspio.Handshake{M1: 1, M2: 2, State: 1, Sender: sender}},
			kind:   KindHandshake,
			detail: "10.0.0.5:2342",
			data:   []byte{kspio.TypeHandshake, 1, 2, 1},
			ok:     true,
		},
		{
			name: "status",
			ev:   event.PacketEvent{Kind: event.StatusDecoded, Source: 2, Status: kspio.Status{State: 2}},
			kind: KindStatus,
			data: []byte{kspio.TypeStatus, 2},
			ok:   true,
		},
		{
			name: "telemetry",
			ev:   event.PacketEvent{Kind: event.TelemetryDecoded, Source: 2, Vessel: vessel},
			kind: KindTelemetry,
			data: vessel.Encode(),
			ok:   true,
		},
		{
			name:   "decode failure",
			ev:     event.PacketEvent{Kind: event.DecodeFailed, Source: 2, Err: kspio.ErrChecksum},
			kind:   KindDecodeError,
			detail: kspio.ErrChecksum.Error(),
			ok:     true,
		},
		{
			name:   "disconnected",
			ev:     event.TransportEvent{Kind: event.TransportDisconnected, Source: 2, Err: errors.New("reset")},
			kind:   KindDisconnected,
			detail: "reset",
			ok:     true,
		},
		{
			name:   "command",
			ev:     event.CommandEvent{Command: event.CommandStart},
			kind:   KindCommand,
			detail: "Start",
			ok:     true,
		},
		{
			name: "raw bytes are not recorded",
			ev:   event.TransportEvent{Kind: event.TransportReceived, Source: 2, Data: []byte{1}},
			ok:   false,
		},
		{
			name: "raw datagrams are not recorded",
			ev:   event.DiscoveryEvent{Kind: event.DiscoveryReceived, Source: 1, Data: []byte{1}},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := FromEvent(tt.ev, now)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if rec.Kind != tt.kind || rec.Detail != tt.detail || !bytes.Equal(rec.Data, tt.data) {
				t.Errorf("record = %+v", rec)
			}
			if rec.Time != now.UnixNano() {
				t.Errorf("time = %d", rec.Time)
			}
		})
	}
}

func TestFromEvent_CommandSource(t *testing.T) {
	rec, ok := FromEvent(event.CommandEvent{Command: event.CommandReset, Source: 7}, time.Unix(0, 0))
	if !ok {
		t.Fatal("commands should be recorded")
	}
	if rec.Source != 7 || rec.Detail != "Reset" {
		t.Errorf("record = %+v, want source 7 detail Reset", rec)
	}
}

func TestRecorder_WriteAndRead(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	vessel := &kspio.VesselData{Alt: 1200, TotalStage: 2, VesselSync: 3}
	r.Post(event.TransportEvent{Kind: event.TransportConnected, Source: 4})
	r.Post(event.TransportEvent{Kind: event.TransportReceived, Source: 4, Data: []byte{0xBE}})
	r.Post(event.PacketEvent{Kind: event.TelemetryDecoded, Source: 4, Vessel: vessel})
	r.Post(event.PacketEvent{Kind: event.StatusDecoded, Source: 4, Status: kspio.Status{State: 1}})

	if r.Count() != 3 {
		t.Fatalf("count = %d, want 3", r.Count())
	}
	if err := r.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}

	records, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("read %d records, want 3", len(records))
	}
	if records[0].Kind != KindConnected || records[0].Source != 4 {
		t.Errorf("first record = %+v", records[0])
	}

	v, err := kspio.DecodeVesselData(records[1].Data)
	if err != nil {
		t.Fatalf("recorded telemetry does not decode: %v", err)
	}
	if v.Alt != 1200 || v.VesselSync != 3 {
		t.Errorf("telemetry = %+v", v)
	}

	if !strings.Contains(records[2].String(), "STATUS") {
		t.Errorf("status record string = %q", records[2].String())
	}
}

func TestRecorder_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.cbor")
	r, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.Post(event.CommandEvent{Command: event.CommandStop})
	r.Post(event.PacketEvent{Kind: event.DecodeFailed, Source: 1, Err: kspio.ErrChecksum})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(records) != 2 || records[0].Detail != "Stop" || records[1].Kind != KindDecodeError {
		t.Errorf("records = %+v", records)
	}

	stats := Summarize(records)
	if stats.DecodeErrors != 1 || stats.ValidFrames != 0 {
		t.Errorf("stats = %s", stats)
	}
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)
	r.Post(event.PacketEvent{Kind: event.StatusDecoded, Source: 1, Status: kspio.Status{State: 1}})

	data := buf.Bytes()
	records, err := ReadAll(bytes.NewReader(data[:len(data)-1]))
	if err == nil {
		t.Fatal("expected an error for a truncated record")
	}
	if len(records) != 0 {
		t.Errorf("records = %+v", records)
	}
}

func TestSummarize(t *testing.T) {
	good := &kspio.VesselData{TotalStage: 3, CurrentStage: 1, VesselSync: 1}
	bad := &kspio.VesselData{TotalStage: 1, CurrentStage: 5, VesselSync: 1}

	records := []Record{
		{Kind: KindTelemetry, Data: good.Encode()},
		{Kind: KindTelemetry, Data: bad.Encode()},
		{Kind: KindStatus, Data: kspio.Status{State: 1}.Encode()},
		{Kind: KindTelemetry, Data: []byte{kspio.TypeVessel, 1, 2}},
		{Kind: KindConnected},
	}

	stats := Summarize(records)
	if stats.ValidFrames != 3 {
		t.Errorf("valid = %d, want 3", stats.ValidFrames)
	}
	if stats.DecodeErrors != 1 {
		t.Errorf("decode errors = %d, want 1", stats.DecodeErrors)
	}
	if stats.AnomalousFrames != 1 {
		t.Errorf("anomalous = %d, want 1", stats.AnomalousFrames)
	}
	if stats.ByType[kspio.TypeVessel] != 2 || stats.ByType[kspio.TypeStatus] != 1 {
		t.Errorf("by type = %v", stats.ByType)
	}
}
