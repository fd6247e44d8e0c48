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
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PicoBootProject/picoboot-core/pkg/boot"
	"github.com/PicoBootProject/picoboot-core/pkg/config"
	"github.com/PicoBootProject/picoboot-core/pkg/flash"
	"github.com/PicoBootProject/picoboot-core/pkg/fsmanager"
	"github.com/PicoBootProject/picoboot-core/pkg/image"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var (
	ErrNotImage   = errors.New("selected file is not a flash image")
	ErrNoValidApp = errors.New("no valid application in flash")
)

// Loader drives the load-and-launch path: stream a selected image from
// the card into the application flash region, validate whatever is in
// flash afterwards, and either transfer control or escalate.
type Loader struct {
	cfg   *config.Instance
	state *State
	files *fsmanager.Manager
	dev   flash.Device
	guard flash.InterruptGuard
	port  boot.Port
	clock clockwork.Clock
	fatal func(error)
}

func NewLoader(
	cfg *config.Instance,
	state *State,
	files *fsmanager.Manager,
	dev flash.Device,
	guard flash.InterruptGuard,
	port boot.Port,
	clock clockwork.Clock,
	fatal func(error),
) *Loader {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loader{
		cfg:   cfg,
		state: state,
		files: files,
		dev:   dev,
		guard: guard,
		port:  port,
		clock: clock,
		fatal: fatal,
	}
}

// window is the acceptance window for vector table validation: initial SP
// anywhere in RAM, reset vector anywhere in the application flash region.
func (l *Loader) window() image.Window {
	ramBase, ramTop := l.cfg.RAMWindow()
	return image.Window{
		RAMBase: ramBase,
		RAMTop:  ramTop,
		AppBase: l.cfg.FlashBase() + l.cfg.AppOffset(),
		AppTop:  l.cfg.FlashBase() + l.cfg.FlashSize(),
	}
}

// Select handles a confirmed file selection. A file without the image
// suffix is rejected before any storage or flash access. Otherwise the
// image is programmed; a successful write launches whatever is now in
// flash without second-guessing its header. When the write fails, flash
// is validated instead, so a failed program over a still-valid resident
// application launches the resident one. With neither a successful
// program nor valid flash, the loader reports, waits out the halt delay,
// and escalates to the single fatal path.
func (l *Loader) Select(path string) error {
	if !strings.HasSuffix(path, l.cfg.ImageSuffix()) {
		log.Info().Str("path", path).Msg("rejected selection, wrong suffix")
		l.state.SetStatus("Err: FILE is not a .bin file")
		return ErrNotImage
	}

	l.state.Statusf("SEL: %s", path)
	l.state.SetMode(ModeLoading)
	l.state.SetStatus("STAT: loading app...")

	programErr := l.program(path)
	if programErr != nil {
		log.Error().Err(programErr).Str("path", path).Msg("programming failed")
	}

	if programErr == nil || image.ValidateDevice(l.dev, l.cfg.AppOffset(), l.window()) {
		return l.launch()
	}

	l.state.SetMode(ModeHalt)
	l.state.SetStatus("ERR: No valid app")
	log.Error().Msg("no valid app, halting")
	l.clock.Sleep(l.cfg.HaltDelay())
	l.fatal(ErrNoValidApp)
	return ErrNoValidApp
}

// program streams the file into the application region, one sector at a
// time under the interrupt guard.
func (l *Loader) program(path string) error {
	root, err := l.files.Root()
	if err != nil {
		return fmt.Errorf("filesystem unavailable: %w", err)
	}

	f, err := root.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("close image file")
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}
	size := info.Size()
	log.Info().Str("path", path).Int64("size", size).Msg("programming image")

	prog, err := flash.NewProgrammer(l.dev, l.guard, flash.Region{
		Offset: l.cfg.AppOffset(),
		Size:   l.cfg.MaxAppSize(),
	})
	if err != nil {
		return err
	}

	l.probeSame(prog, f, size)

	return prog.Write(f, size)
}

// probeSame compares the incoming image against flash before programming.
// The outcome is recorded but does not short-circuit the write; flash is
// reprogrammed either way.
func (l *Loader) probeSame(prog *flash.Programmer, f afero.File, size int64) {
	same, err := prog.SameAsExisting(io.LimitReader(f, size))
	if err != nil {
		log.Debug().Err(err).Msg("same-image probe failed")
	} else {
		log.Debug().Bool("same", same).Msg("same-image probe")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		log.Warn().Err(err).Msg("rewind after same-image probe")
	}
}

// launch reads the vector table header and performs the control transfer.
// On hardware this never returns; in simulation the port decides.
func (l *Loader) launch() error {
	buf := make([]byte, image.HeaderSize)
	if err := l.dev.Read(l.cfg.AppOffset(), buf); err != nil {
		return fmt.Errorf("read vector table: %w", err)
	}
	hdr, err := image.ParseHeader(buf)
	if err != nil {
		return err
	}

	l.state.SetStatus("STAT: launching app...")
	l.clock.Sleep(l.cfg.LaunchDelay())
	boot.Launch(l.port, l.cfg.FlashBase()+l.cfg.AppOffset(), hdr)
	return nil
}
