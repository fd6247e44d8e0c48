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

// Package service is the orchestrator: it owns the top-level mode state
// machine (browse, loading, msc, halt), the cross-core event buses, and
// the single fatal path. The main loop runs on the first core; each mass
// storage session runs on the second.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/PicoBootProject/picoboot-core/pkg/config"
	"github.com/PicoBootProject/picoboot-core/pkg/eventbus"
	"github.com/PicoBootProject/picoboot-core/pkg/fsmanager"
	"github.com/PicoBootProject/picoboot-core/pkg/msc"
	"github.com/PicoBootProject/picoboot-core/pkg/platforms"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrNoTransport = errors.New("no msc transport available")

// FatalSignal is the one error type that ends the bootloader: whoever
// raises it gets exactly one watchdog reboot, there is no other recovery
// path.
type FatalSignal struct {
	Reason error
}

func (f FatalSignal) Error() string {
	return fmt.Sprintf("fatal: %v", f.Reason)
}

func (f FatalSignal) Unwrap() error {
	return f.Reason
}

type requestKind int

const (
	reqSelect requestKind = iota
	reqMSC
)

type request struct {
	reply chan error
	path  string
	kind  requestKind
}

// Service wires the bootloader together. All mode transitions happen on
// the run goroutine; public methods only enqueue requests or post events.
type Service struct {
	cfg       *config.Instance
	pl        platforms.Platform
	transport msc.Transport
	clock     clockwork.Clock

	state  *State
	files  *fsmanager.Manager
	loader *Loader

	// toSession carries exit commands from the first core to the
	// session core; fromSession carries completion the other way. Same
	// fixed depth as the hardware FIFOs.
	toSession   *eventbus.Bus
	fromSession *eventbus.Bus

	requests  chan request
	cancel    context.CancelFunc
	done      chan struct{}
	fatalOnce sync.Once
}

// New builds the service against a platform. transport may be nil, in
// which case mass storage requests fail cleanly. A nil clock means the
// real one.
func New(cfg *config.Instance, pl platforms.Platform, transport msc.Transport, clock clockwork.Clock,
) (*Service, <-chan Notification) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	bootUUID := uuid.New().String()
	log.Info().Str("boot_uuid", bootUUID).Str("platform", pl.ID()).Msg("service starting")

	state, notifications := NewState(bootUUID, clock, cfg.StatusClear())
	files := fsmanager.New(pl.Card(), pl.Filesystem(), clock, cfg.StabilizeDelay())

	s := &Service{
		cfg:         cfg,
		pl:          pl,
		transport:   transport,
		clock:       clock,
		state:       state,
		files:       files,
		toSession:   eventbus.New(),
		fromSession: eventbus.New(),
		requests:    make(chan request),
		done:        make(chan struct{}),
	}
	s.loader = NewLoader(cfg, state, files, pl.Flash(), pl.FlashGuard(), pl.BootPort(), clock, s.fatal)

	files.OnCardInserted(func() {
		state.SetStatus("SD card detected. Mounting...")
	})
	files.OnCardRemoved(func() {
		// interrupt context: a full bus drops the event, never blocks
		s.toSession.Post(eventbus.EventCardRemoved)
	})

	return s, notifications
}

func (s *Service) State() *State {
	return s.state
}

// Start brings up storage and the run loop. The returned stop function
// shuts the service down and waits for the run loop to exit.
func (s *Service) Start() (func() error, <-chan struct{}, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.files.CardPresent() {
		s.state.SetStatus("Stabilizing SD card...")
		s.clock.Sleep(s.cfg.StabilizeDelay())
	} else {
		s.state.SetStatus("SD card not detected. \nPlease insert SD card.")
	}

	if err := s.files.Init(ctx); err != nil {
		s.state.SetStatus("Failed to mount SD card!")
		s.clock.Sleep(s.cfg.HaltDelay())
		s.fatal(fmt.Errorf("initial mount: %w", err))
		cancel()
		return nil, nil, fmt.Errorf("initial mount: %w", err)
	}

	s.state.SetMode(ModeBrowse)
	go s.run(ctx)

	stop := func() error {
		cancel()
		<-s.done
		return nil
	}
	return stop, s.done, nil
}

// SelectImage asks the run loop to load and launch the given file. It
// blocks until the attempt resolves; on a successful launch it never
// returns on hardware.
func (s *Service) SelectImage(path string) error {
	return s.submit(request{kind: reqSelect, path: path})
}

// StartMSC asks the run loop to hand storage to a mass storage session
// and blocks until the session has ended and storage is remounted.
func (s *Service) StartMSC() error {
	return s.submit(request{kind: reqMSC})
}

// ExitMSC signals the running session to stop. No-op when no session is
// listening.
func (s *Service) ExitMSC() {
	s.toSession.Post(eventbus.EventMSCExit)
}

// PressEsc forwards the escape key to the session core.
func (s *Service) PressEsc() {
	s.toSession.Post(eventbus.EventEscPressed)
}

func (s *Service) submit(req request) error {
	req.reply = make(chan error, 1)
	select {
	case s.requests <- req:
	case <-s.done:
		return context.Canceled
	}
	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return context.Canceled
	}
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			switch req.kind {
			case reqSelect:
				req.reply <- s.loader.Select(req.path)
			case reqMSC:
				req.reply <- s.mscSession(ctx)
			}
		}
	}
}

// mscSession performs the storage handoff: unmount, run the session on
// the second core, wait for it to end, remount. The card's block device
// is only ever owned by one side at a time.
func (s *Service) mscSession(ctx context.Context) error {
	if s.transport == nil {
		return ErrNoTransport
	}

	s.state.SetMode(ModeMSC)
	s.state.SetStatus("STAT: USB MSC mode")
	// stale commands from a previous session must not end this one
	s.toSession.Clear()
	s.files.Unmount()

	vendor, product, rev := s.cfg.MSCInquiry()
	bridge, err := msc.NewBridge(s.pl.Card().BlockDevice(), s.pl.Card().Present,
		msc.NewInquiryData(vendor, product, rev))
	if err != nil {
		log.Error().Err(err).Msg("msc bridge setup failed")
		return s.remount(fmt.Errorf("msc bridge: %w", err))
	}

	sess := msc.NewSession(s.transport, msc.NewHandler(bridge), s.toSession, s.clock)
	sess.OnExit(func() {
		s.fromSession.Post(eventbus.EventMSCExit)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	if waitErr := g.Wait(); waitErr != nil {
		log.Warn().Err(waitErr).Msg("msc session ended with error")
	}

	if ev := s.fromSession.Get(); ev != eventbus.EventNone {
		log.Debug().Str("event", ev.String()).Msg("session core reported exit")
	}

	return s.remount(nil)
}

// remount restores the filesystem after a session. A remount failure is
// fatal: without storage there is nothing left to do but reboot.
func (s *Service) remount(sessionErr error) error {
	s.state.SetStatus("USB MSC mode exited. Remounting...")
	if err := s.files.Mount(); err != nil {
		s.state.SetStatus("Failed to remount filesystem!")
		s.clock.Sleep(s.cfg.HaltDelay())
		s.fatal(fmt.Errorf("remount after msc session: %w", err))
		return fmt.Errorf("remount after msc session: %w", err)
	}
	s.state.SetStatus("Filesystem remounted. Returning to UI.")
	s.state.SetMode(ModeBrowse)
	return sessionErr
}

// fatal is the single fatal path. The first caller wins; the watchdog
// reboot never returns on hardware.
func (s *Service) fatal(reason error) {
	s.fatalOnce.Do(func() {
		sig := FatalSignal{Reason: reason}
		log.Error().Err(sig).Msg("fatal, requesting watchdog reboot")
		s.state.SetMode(ModeHalt)
		s.pl.Watchdog().Reboot()
	})
}

// Start is the daemon entry point: build the service and run it.
func Start(cfg *config.Instance, pl platforms.Platform, transport msc.Transport,
) (func() error, <-chan struct{}, error) {
	svc, notifications := New(cfg, pl, transport, nil)

	// drain notifications into the log when no front end is attached
	go func() {
		for n := range notifications {
			log.Debug().
				Str("mode", n.Mode.String()).
				Str("status", n.Status).
				Msg("notification")
		}
	}()

	return svc.Start()
}
