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

package msc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/PicoBootProject/picoboot-core/pkg/eventbus"
	"github.com/PicoBootProject/picoboot-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SessionState is the second-core session lifecycle.
type SessionState int32

const (
	SessionStopped SessionState = iota
	SessionRunning
	SessionStopping
)

func (s SessionState) String() string {
	switch s {
	case SessionStopped:
		return "stopped"
	case SessionRunning:
		return "running"
	case SessionStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Transport performs one unit of host-protocol work against the handler:
// pull at most one command from the host side, dispatch it, deliver the
// response. It must not block; returning without work is fine. The USB
// device stack behind it is an external collaborator.
type Transport interface {
	Service(h *Handler) error
}

// pollInterval paces the cooperative session loop between transport polls.
const pollInterval = time.Millisecond

// Session runs the bridge on the second core until an exit event arrives.
// Cancellation is purely cooperative: the loop checks the event bus once
// per iteration, and nothing preempts it.
type Session struct {
	transport Transport
	handler   *Handler
	events    *eventbus.Bus
	clock     clockwork.Clock

	onExit func()
	state  atomic.Int32
	mu     syncutil.Mutex
}

func NewSession(transport Transport, handler *Handler, events *eventbus.Bus, clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		transport: transport,
		handler:   handler,
		events:    events,
		clock:     clock,
	}
}

// OnExit registers the single exit callback, replacing any previous one.
// It fires after the bridge has stopped, regardless of which event ended
// the session.
func (s *Session) OnExit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = fn
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Run is the second-core entry point. It services the transport and polls
// the event bus until EventMSCExit, EventEscPressed, or EventCardRemoved
// arrives (or ctx is cancelled), then stops the bridge and returns. The
// storage handle is owned by the session from entry until return.
func (s *Session) Run(ctx context.Context) error {
	s.state.Store(int32(SessionRunning))
	log.Info().Msg("msc session started")

	for s.State() == SessionRunning {
		if err := s.transport.Service(s.handler); err != nil {
			log.Warn().Err(err).Msg("transport service error")
		}

		if ev := s.events.Get(); isExitEvent(ev) {
			log.Info().Str("event", ev.String()).Msg("msc session exit event")
			s.state.Store(int32(SessionStopping))
			break
		}

		select {
		case <-ctx.Done():
			s.state.Store(int32(SessionStopping))
		default:
			s.clock.Sleep(pollInterval)
		}
	}

	s.stop()
	return nil
}

func isExitEvent(ev eventbus.Event) bool {
	switch ev {
	case eventbus.EventMSCExit, eventbus.EventEscPressed, eventbus.EventCardRemoved:
		return true
	default:
		return false
	}
}

// stop releases the bridge and fires the exit callback. The caller owns
// the storage handle again once Run has returned; no event reports which
// condition ended the session beyond the callback's own side effects.
func (s *Session) stop() {
	s.mu.Lock()
	onExit := s.onExit
	s.mu.Unlock()

	s.state.Store(int32(SessionStopped))
	log.Info().Msg("msc session stopped")

	if onExit != nil {
		onExit()
	}
}
