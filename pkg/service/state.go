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

package service

import (
	"fmt"
	"time"

	"github.com/PicoBootProject/picoboot-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Mode is the top-level orchestrator mode.
type Mode int32

const (
	ModeBrowse Mode = iota
	ModeLoading
	ModeMSC
	ModeHalt
)

func (m Mode) String() string {
	switch m {
	case ModeBrowse:
		return "browse"
	case ModeLoading:
		return "loading"
	case ModeMSC:
		return "msc"
	case ModeHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// Notification is one user-visible state change. On hardware these drive
// the status bar; here they go to whatever front end is attached.
type Notification struct {
	Status string
	Mode   Mode
}

// State holds the runtime state of the bootloader service.
//
// LOCKING RULES: mu protects all mutable fields. Never send to the
// notifications channel while holding the lock; the pattern is
// lock → modify → copy → unlock → notify.
type State struct {
	clock       clockwork.Clock
	clearTimer  clockwork.Timer
	notify      chan Notification
	bootUUID    string
	status      string
	statusClear time.Duration
	statusGen   uint64
	mode        Mode
	mu          syncutil.RWMutex
}

// NewState creates the service state. statusClear is how long a status
// message stays up before it is cleared automatically; zero disables
// auto-clearing. A nil clock means the real one.
func NewState(bootUUID string, clock clockwork.Clock, statusClear time.Duration) (*State, <-chan Notification) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ns := make(chan Notification, 32)
	return &State{
		clock:       clock,
		notify:      ns,
		bootUUID:    bootUUID,
		statusClear: statusClear,
	}, ns
}

func (s *State) BootUUID() string {
	return s.bootUUID
}

func (s *State) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *State) SetMode(m Mode) {
	s.mu.Lock()
	if s.mode == m {
		s.mu.Unlock()
		return
	}
	s.mode = m
	status := s.status
	s.mu.Unlock()

	log.Info().Str("mode", m.String()).Msg("mode changed")
	s.send(Notification{Mode: m, Status: status})
}

func (s *State) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus replaces the status message and re-arms the auto-clear timer.
func (s *State) SetStatus(msg string) {
	s.mu.Lock()
	s.status = msg
	s.statusGen++
	gen := s.statusGen
	mode := s.mode
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
	if msg != "" && s.statusClear > 0 {
		s.clearTimer = s.clock.AfterFunc(s.statusClear, func() {
			s.clearIfCurrent(gen)
		})
	}
	s.mu.Unlock()

	if msg != "" {
		log.Info().Str("status", msg).Msg("status")
	}
	s.send(Notification{Mode: mode, Status: msg})
}

func (s *State) Statusf(format string, args ...any) {
	s.SetStatus(fmt.Sprintf(format, args...))
}

// clearIfCurrent clears the status only if no newer message has replaced
// it since the timer was armed.
func (s *State) clearIfCurrent(gen uint64) {
	s.mu.Lock()
	if s.statusGen != gen {
		s.mu.Unlock()
		return
	}
	s.status = ""
	mode := s.mode
	s.mu.Unlock()

	s.send(Notification{Mode: mode})
}

// send never blocks; a full channel drops the notification. The front end
// is cosmetic, the log is the record.
func (s *State) send(n Notification) {
	select {
	case s.notify <- n:
	default:
		log.Debug().Msg("notification dropped, channel full")
	}
}
