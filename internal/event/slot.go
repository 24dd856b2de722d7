// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package event

import "sync"

// Slot holds at most one pending event. Posting while an event is pending
// replaces it: the consumer only ever sees the most recent event, and older
// ones are counted as dropped. The state machine reads the slot once per
// tick and clears it on every state change.
type Slot struct {
	mu      sync.Mutex
	pending Event
	dropped uint64
	onDrop  func()
}

// NewSlot creates an empty slot. onDrop, if not nil, is called (outside the
// lock) each time a pending event is overwritten.
func NewSlot(onDrop func()) *Slot {
	return &Slot{onDrop: onDrop}
}

// Post stores ev, replacing any pending event.
func (s *Slot) Post(ev Event) {
	if ev == nil {
		return
	}
	s.mu.Lock()
	overwritten := s.pending != nil
	if overwritten {
		s.dropped++
	}
	s.pending = ev
	s.mu.Unlock()

	if overwritten && s.onDrop != nil {
		s.onDrop()
	}
}

// Take removes and returns the pending event, or nil.
func (s *Slot) Take() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.pending
	s.pending = nil
	return ev
}

// Clear discards the pending event without counting it as dropped.
func (s *Slot) Clear() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Dropped returns how many events were overwritten before being taken.
func (s *Slot) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
