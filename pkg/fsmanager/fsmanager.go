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

// Package fsmanager owns the mount lifecycle of the card-backed
// filesystem: mounting with format-on-failure recovery, idempotent
// unmounting, and card presence edges.
package fsmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/PicoBootProject/picoboot-core/pkg/helpers/syncutil"
	"github.com/PicoBootProject/picoboot-core/pkg/storage"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Manager coordinates the card, its filesystem, and at most one callback
// per detect edge. Callbacks run on the watcher goroutine, the moral
// equivalent of interrupt context: they must be short and non-blocking.
type Manager struct {
	card      storage.Card
	fs        storage.Filesystem
	clock     clockwork.Clock
	stabilize time.Duration

	onInserted func()
	onRemoved  func()
	present    bool
	watching   bool
	mu         syncutil.Mutex
}

func New(card storage.Card, fs storage.Filesystem, clock clockwork.Clock, stabilize time.Duration) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		card:      card,
		fs:        fs,
		clock:     clock,
		stabilize: stabilize,
	}
}

// Init starts edge watching and attempts an initial mount when a card is
// already present. The initial mount error is returned for the caller to
// escalate; watching continues regardless.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	m.watching = true
	m.present = m.card.Present()
	present := m.present
	m.mu.Unlock()

	go m.watch(ctx)

	if !present {
		log.Info().Msg("no card present at init")
		return nil
	}
	return m.Mount()
}

// Mount makes the filesystem available. Already mounted is a no-op
// success; a missing card fails with no side effects. On a first mount
// failure it performs exactly one destructive format, then retries the
// mount exactly once, and returns the final outcome. Persistent failure
// is the caller's problem to escalate; this component never retries
// indefinitely.
func (m *Manager) Mount() error {
	if m.fs.Mounted() {
		return nil
	}
	if !m.card.Present() {
		return storage.ErrNoCard
	}

	err := m.fs.Mount()
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Msg("mount failed, formatting volume")

	if formatErr := m.fs.Format(); formatErr != nil {
		return fmt.Errorf("format after mount failure: %w", formatErr)
	}
	if retryErr := m.fs.Mount(); retryErr != nil {
		return fmt.Errorf("mount after format: %w", retryErr)
	}
	return nil
}

// Unmount releases the filesystem. Safe to call when not mounted.
func (m *Manager) Unmount() {
	if err := m.fs.Unmount(); err != nil {
		log.Warn().Err(err).Msg("unmount failed")
	}
}

func (m *Manager) Mounted() bool {
	return m.fs.Mounted()
}

func (m *Manager) CardPresent() bool {
	return m.card.Present()
}

// Root returns the mounted filesystem tree.
func (m *Manager) Root() (afero.Fs, error) {
	return m.fs.Root()
}

// OnCardInserted registers the single insertion callback, replacing any
// previous one. The callback fires after a successful automatic mount.
func (m *Manager) OnCardInserted(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onInserted = fn
}

// OnCardRemoved registers the single removal callback, replacing any
// previous one.
func (m *Manager) OnCardRemoved(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRemoved = fn
}

func (m *Manager) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.card.Events():
			if !ok {
				return
			}
			m.handleEdge(ev)
		}
	}
}

// handleEdge processes one detect edge. Duplicate edges in the same
// direction are ignored. The stabilize sleep and the mount run inline on
// the watcher goroutine, so a removal edge arriving during an insertion's
// stabilize window queues behind the mount attempt and is handled after
// it. Registered callbacks must still be short and non-blocking.
func (m *Manager) handleEdge(ev storage.CardEvent) {
	m.mu.Lock()
	inserted := ev.Kind == storage.CardInserted
	if inserted == m.present {
		m.mu.Unlock()
		return
	}
	m.present = inserted
	onInserted := m.onInserted
	onRemoved := m.onRemoved
	m.mu.Unlock()

	if inserted {
		log.Info().Msg("card inserted")
		m.clock.Sleep(m.stabilize)
		if err := m.Mount(); err != nil {
			log.Error().Err(err).Msg("mount on insertion failed")
			return
		}
		if onInserted != nil {
			onInserted()
		}
		return
	}

	log.Info().Msg("card removed")
	m.Unmount()
	if onRemoved != nil {
		onRemoved()
	}
}
