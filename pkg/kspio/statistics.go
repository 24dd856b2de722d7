// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame counts and error rates for one link
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	ChecksumErrors  uint64
	FramingErrors   uint64
	DecodeErrors    uint64
	AnomalousFrames uint64
	BytesReceived   uint64
	BytesSkipped    uint64
	ByType          map[uint8]uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByType:         make(map[uint8]uint64),
	}
}

// AddBytes records raw bytes read from the link
func (s *Statistics) AddBytes(n int) {
	s.BytesReceived += uint64(n)
}

// SetSkipped records the decoder's running count of discarded bytes
func (s *Statistics) SetSkipped(n uint64) {
	s.BytesSkipped = n
}

// Update records one decoded frame (payload non-nil) or one error
func (s *Statistics) Update(payload []byte, err error, anomalies []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if err != nil {
		switch {
		case errors.Is(err, ErrChecksum):
			s.ChecksumErrors++
		case errors.Is(err, ErrFraming):
			s.FramingErrors++
		default:
			s.DecodeErrors++
		}
		s.updateRates()
		return
	}

	s.ValidFrames++
	if packetType, ok := PacketType(payload); ok {
		s.ByType[packetType]++
	}
	if len(anomalies) > 0 {
		s.AnomalousFrames++
	}
	s.updateRates()
}

func (s *Statistics) updateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 {
		return
	}
	s.FrameRate = float64(s.TotalFrames) / elapsed
	s.ErrorRate = float64(s.TotalErrors()) / elapsed
}

// TotalErrors returns the sum of all error counters
func (s *Statistics) TotalErrors() uint64 {
	return s.ChecksumErrors + s.FramingErrors + s.DecodeErrors
}

// Reset clears all counters and restarts the clock
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

// String formats the statistics on a single line
func (s *Statistics) String() string {
	return fmt.Sprintf("frames=%d valid=%d checksum=%d framing=%d decode=%d anomalous=%d bytes=%d skipped=%d rate=%.1f/s",
		s.TotalFrames, s.ValidFrames, s.ChecksumErrors, s.FramingErrors, s.DecodeErrors,
		s.AnomalousFrames, s.BytesReceived, s.BytesSkipped, s.FrameRate)
}
