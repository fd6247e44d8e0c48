// PicoBoot Core
// Copyright (c) 2026 The PicoBoot Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of PicoBoot Core.
//
// PicoBoot Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// PicoBoot Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with PicoBoot Core.  If not, see <http://www.gnu.org/licenses/>.

// Package eventbus is the cross-core notification channel. Each bus is a
// bounded FIFO of enumerated events carried one per 32-bit word, modelled
// on the hardware inter-core FIFO. The two transfer directions are
// independent buses with no cross-direction ordering guarantee.
package eventbus

import "github.com/rs/zerolog/log"

// Event is a single cross-core notification. The zero value is reserved
// for "no event" so that an empty or corrupted word never aliases a real
// notification.
type Event uint32

const (
	EventNone Event = iota
	EventMSCStart
	EventMSCExit
	EventEscPressed
	EventCardRemoved
	eventMax
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventMSCStart:
		return "msc-start"
	case EventMSCExit:
		return "msc-exit"
	case EventEscPressed:
		return "esc-pressed"
	case EventCardRemoved:
		return "card-removed"
	default:
		return "invalid"
	}
}

// Decode maps a raw 32-bit word to an Event. Words outside the enumeration
// decode to EventNone.
func Decode(v uint32) Event {
	if v == 0 || v >= uint32(eventMax) {
		return EventNone
	}
	return Event(v)
}

// DefaultCapacity matches the depth of the hardware inter-core FIFO.
const DefaultCapacity = 8

// Bus is a bounded FIFO event channel safe for one producer and one
// consumer running on different goroutines. No allocation happens after
// construction.
type Bus struct {
	ch chan uint32
}

func New() *Bus {
	return NewWithCapacity(DefaultCapacity)
}

func NewWithCapacity(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ch: make(chan uint32, capacity)}
}

// Post queues an event without blocking. It returns false, leaving the bus
// unchanged, if the bus is full or the event is outside the enumeration.
func (b *Bus) Post(e Event) bool {
	if e == EventNone || e >= eventMax {
		return false
	}
	select {
	case b.ch <- uint32(e):
		return true
	default:
		log.Debug().Str("event", e.String()).Msg("event bus full, post dropped")
		return false
	}
}

// PostBlocking queues an event, stalling the caller until space is
// available. Events outside the enumeration are discarded.
func (b *Bus) PostBlocking(e Event) {
	if e == EventNone || e >= eventMax {
		return
	}
	b.ch <- uint32(e)
}

// Available reports whether at least one event is queued.
func (b *Bus) Available() bool {
	return len(b.ch) > 0
}

// Get pops the next event without blocking. It returns EventNone when the
// bus is empty or the popped word is outside the enumeration.
func (b *Bus) Get() Event {
	select {
	case v := <-b.ch:
		return Decode(v)
	default:
		return EventNone
	}
}

// GetBlocking pops the next event, stalling the caller until one exists.
func (b *Bus) GetBlocking() Event {
	return Decode(<-b.ch)
}

// Clear drains all pending events.
func (b *Bus) Clear() {
	for {
		select {
		case <-b.ch:
		default:
			return
		}
	}
}

// Capacity returns the fixed queue depth.
func (b *Bus) Capacity() int {
	return cap(b.ch)
}
