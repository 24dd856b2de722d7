// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package recorder writes client events to a CBOR sequence file and reads
// them back for replay.
//
// Each record is one CBOR array: [time, kind, source, data, detail]. Packet
// records carry the unframed payload re-encoded from the decoded packet, so
// a recording can be decoded again with package kspio.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/kspethernetio/kspeth/internal/event"
	"github.com/kspethernetio/kspeth/pkg/kspio"
)

// Kind identifies what a record describes
type Kind uint8

const (
	KindHandshake Kind = iota + 1
	KindStatus
	KindTelemetry
	KindDecodeError
	KindConnected
	KindDisconnected
	KindDiscoveryStarted
	KindDiscoveryCanceled
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "HANDSHAKE"
	case KindStatus:
		return "STATUS"
	case KindTelemetry:
		return "TELEMETRY"
	case KindDecodeError:
		return "DECODE_ERROR"
	case KindConnected:
		return "CONNECTED"
	case KindDisconnected:
		return "DISCONNECTED"
	case KindDiscoveryStarted:
		return "DISCOVERY_STARTED"
	case KindDiscoveryCanceled:
		return "DISCOVERY_CANCELED"
	case KindCommand:
		return "COMMAND"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// IsPacket reports whether Data holds a packet payload
func (k Kind) IsPacket() bool {
	return k == KindHandshake || k == KindStatus || k == KindTelemetry
}

// Record is one recorded event.
type Record struct {
	_ struct{} `cbor:",toarray"`

	Time   int64 // unix nanoseconds
	Kind   Kind
	Source uint64
	Data   []byte // unframed payload for packet kinds
	Detail string // sender address, error text or command
}

// Timestamp returns Time as a time.Time
func (r Record) Timestamp() time.Time {
	return time.Unix(0, r.Time)
}

func (r Record) String() string {
	ts := r.Timestamp()
	if r.Kind.IsPacket() {
		s := kspio.FormatPayload(ts, r.Data)
		if r.Detail != "" {
			s += " from " + r.Detail
		}
		return s
	}
	s := fmt.Sprintf("[%s] %s src=%d", ts.Format("15:04:05.000"), r.Kind, r.Source)
	if r.Detail != "" {
		s += " " + r.Detail
	}
	return s
}

// FromEvent converts ev to a record. ok is false for events that are not
// recorded (raw received bytes).
func FromEvent(ev event.Event, now time.Time) (rec Record, ok bool) {
	rec.Time = now.UnixNano()

	switch e := ev.(type) {
	case event.PacketEvent:
		rec.Source = e.Source
		switch e.Kind {
		case event.HandshakeDecoded:
			rec.Kind = KindHandshake
			rec.Data = e.Handshake.Encode()
			if e.Handshake.Sender != nil {
				rec.Detail = e.Handshake.Sender.String()
			}
		case event.StatusDecoded:
			rec.Kind = KindStatus
			rec.Data = e.Status.Encode()
		case event.TelemetryDecoded:
			if e.Vessel == nil {
				return rec, false
			}
			rec.Kind = KindTelemetry
			rec.Data = e.Vessel.Encode()
		case event.DecodeFailed:
			rec.Kind = KindDecodeError
			rec.Detail = errText(e.Err)
		default:
			return rec, false
		}

	case event.TransportEvent:
		rec.Source = e.Source
		switch e.Kind {
		case event.TransportConnected:
			rec.Kind = KindConnected
		case event.TransportDisconnected:
			rec.Kind = KindDisconnected
			rec.Detail = errText(e.Err)
		default:
			return rec, false
		}

	case event.DiscoveryEvent:
		rec.Source = e.Source
		switch e.Kind {
		case event.DiscoveryStarted:
			rec.Kind = KindDiscoveryStarted
		case event.DiscoveryCanceled:
			rec.Kind = KindDiscoveryCanceled
			rec.Detail = errText(e.Err)
		default:
			return rec, false
		}

	case event.CommandEvent:
		rec.Source = e.Source
		rec.Kind = KindCommand
		rec.Detail = e.Command.String()

	default:
		return rec, false
	}
	return rec, true
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Recorder appends records to a writer. It is an event.Sink and is safe for
// concurrent use.
type Recorder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	count  int
	err    error
	now    func() time.Time
}

// New creates a recorder writing to w
func New(w io.Writer) *Recorder {
	r := &Recorder{
		enc: cbor.NewEncoder(w),
		now: time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// Create creates (or truncates) the file at path and records to it
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return New(f), nil
}

// Post implements event.Sink. Write errors are kept and returned by Err
// and Close; recording stops at the first one.
func (r *Recorder) Post(ev event.Event) {
	rec, ok := FromEvent(ev, r.now())
	if !ok {
		return
	}
	_ = r.Write(rec)
}

// Write appends one record
func (r *Recorder) Write(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if err := r.enc.Encode(rec); err != nil {
		r.err = fmt.Errorf("write record: %w", err)
		return r.err
	}
	r.count++
	return nil
}

// Count returns the number of records written
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the underlying writer if it is an io.Closer
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var closeErr error
	if r.closer != nil {
		closeErr = r.closer.Close()
		r.closer = nil
	}
	if r.err != nil {
		return r.err
	}
	return closeErr
}

// Reader reads records written by a Recorder.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a reader over r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the recording
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	return rec, nil
}

// ReadAll reads every record from r
func ReadAll(r io.Reader) ([]Record, error) {
	rd := NewReader(r)
	var out []Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Open reads every record from the file at path
func Open(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	return ReadAll(f)
}

// Summarize feeds every packet record through a Statistics tracker and
// the telemetry validator.
func Summarize(records []Record) *kspio.Statistics {
	stats := kspio.NewStatistics()
	for _, rec := range records {
		switch {
		case rec.Kind.IsPacket():
			stats.AddBytes(len(rec.Data))
			var anomalies []kspio.ValidationError
			var err error
			if rec.Kind == KindTelemetry {
				var v *kspio.VesselData
				v, err = kspio.DecodeVesselData(rec.Data)
				if err == nil {
					anomalies = kspio.ValidateVesselData(v)
				}
			}
			if err != nil {
				stats.Update(nil, err, nil)
			} else {
				stats.Update(rec.Data, nil, anomalies)
			}
		case rec.Kind == KindDecodeError:
			stats.Update(nil, kspio.ErrDecode, nil)
		}
	}
	return stats
}
