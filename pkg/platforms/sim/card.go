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

package sim

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/PicoBootProject/picoboot-core/pkg/storage"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// dirCard simulates the card slot with a directory: the card is inserted
// while the directory exists. Creating and removing it from another shell
// is the insert/remove gesture. The raw block device is RAM-backed and
// deliberately not tied to the directory contents.
type dirCard struct {
	dir     string
	watcher *fsnotify.Watcher
	events  chan storage.CardEvent
	blocks  *storage.MemBlockDevice
	done    chan struct{}
}

func newDirCard(dir string, blockCount, blockSize uint32) (*dirCard, error) {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return nil, fmt.Errorf("create card slot dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create card watcher: %w", err)
	}
	if err := watcher.Add(parent); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch card slot dir: %w", err)
	}

	blocks, err := storage.NewMemBlockDevice(blockCount, blockSize)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	c := &dirCard{
		dir:     dir,
		watcher: watcher,
		events:  make(chan storage.CardEvent, 4),
		blocks:  blocks,
		done:    make(chan struct{}),
	}
	go c.watch()
	return c, nil
}

func (c *dirCard) Present() bool {
	info, err := os.Stat(c.dir)
	return err == nil && info.IsDir()
}

func (c *dirCard) Events() <-chan storage.CardEvent {
	return c.events
}

func (c *dirCard) BlockDevice() storage.BlockDevice {
	return c.blocks
}

func (c *dirCard) Close() error {
	err := c.watcher.Close()
	<-c.done
	close(c.events)
	return err
}

func (c *dirCard) watch() {
	defer close(c.done)
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != c.dir {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Create):
				log.Debug().Str("dir", c.dir).Msg("sim card inserted")
				c.post(storage.CardEvent{Kind: storage.CardInserted})
			case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
				log.Debug().Str("dir", c.dir).Msg("sim card removed")
				c.post(storage.CardEvent{Kind: storage.CardRemoved})
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("card watcher error")
		}
	}
}

// post never blocks; with no consumer the edge is dropped, the same as a
// detect interrupt nobody services.
func (c *dirCard) post(ev storage.CardEvent) {
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("kind", ev.Kind.String()).Msg("card event dropped")
	}
}
