// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package event

import (
	"sync"
	"testing"
)

func TestSlot_LastWriteWins(t *testing.T) {
	drops := 0
	s := NewSlot(func() { drops++ })

	s.Post(CommandEvent{Command: CommandStart})
	s.Post(CommandEvent{Command: CommandStop})
	s.Post(CommandEvent{Command: CommandReset})

	ev := s.Take()
	cmd, ok := ev.(CommandEvent)
	if !ok || cmd.Command != CommandReset {
		t.Fatalf("expected the last event, got %#v", ev)
	}
	if s.Take() != nil {
		t.Error("slot should be empty after Take")
	}
	if s.Dropped() != 2 || drops != 2 {
		t.Errorf("expected 2 drops, got %d (callback %d)", s.Dropped(), drops)
	}
}

func TestSlot_ClearIsNotADrop(t *testing.T) {
	s := NewSlot(nil)
	s.Post(TransportEvent{Kind: TransportConnected})
	s.Clear()
	if s.Take() != nil {
		t.Error("Clear should empty the slot")
	}
	s.Post(TransportEvent{Kind: TransportConnected})
	if s.Dropped() != 0 {
		t.Errorf("expected 0 drops, got %d", s.Dropped())
	}
}

func TestSlot_IgnoresNil(t *testing.T) {
	s := NewSlot(nil)
	s.Post(CommandEvent{Command: CommandStart})
	s.Post(nil)
	if _, ok := s.Take().(CommandEvent); !ok {
		t.Error("nil post should not replace a pending event")
	}
}

func TestSlot_Concurrent(t *testing.T) {
	s := NewSlot(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Post(CommandEvent{Command: CommandStart})
				s.Take()
			}
		}()
	}
	wg.Wait()
}

func TestTee(t *testing.T) {
	var a, b []Event
	sink := Tee(SinkFunc(func(ev Event) { a = append(a, ev) }), nil, SinkFunc(func(ev Event) { b = append(b, ev) }))
	sink.Post(CommandEvent{Command: CommandStop})
	if len(a) != 1 || len(b) != 1 {
		t.Errorf("expected both sinks to receive the event: %d %d", len(a), len(b))
	}
}

func TestNextID_Unique(t *testing.T) {
	a, b := NextID(), NextID()
	if a == 0 || b == 0 || a == b {
		t.Errorf("IDs should be unique and non-zero: %d %d", a, b)
	}
}

func TestKindStrings(t *testing.T) {
	if DiscoveryCanceled.String() != "Canceled" || TransportReceived.String() != "Received" ||
		DecodeFailed.String() != "DecodeFailed" || CommandReset.String() != "Reset" {
		t.Error("unexpected kind names")
	}
}
