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

// Package sim is the host-side simulation platform. The flash part is an
// image file, the card is a directory whose presence is watched with
// fsnotify, and the boot port ends the process - launching an application
// is terminal here too.
package sim

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/PicoBootProject/picoboot-core/pkg/boot"
	"github.com/PicoBootProject/picoboot-core/pkg/flash"
	"github.com/PicoBootProject/picoboot-core/pkg/platforms"
	"github.com/PicoBootProject/picoboot-core/pkg/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type Options struct {
	// ConfigDir and LogDir back Settings.
	ConfigDir string
	LogDir    string
	// FlashImage is the path of the flash image file. Created at full
	// size, erased, if missing.
	FlashImage string
	// SDRoot is the directory standing in for the card slot; the card
	// is "inserted" while SDRoot/card exists.
	SDRoot string

	Geometry flash.Geometry
	// BlockCount and BlockSize shape the raw block device exposed over
	// MSC. The simulated volume and block device are distinct views;
	// the FAT layer tying them together on hardware is an external
	// collaborator.
	BlockCount uint32
	BlockSize  uint32
}

type Platform struct {
	opts  Options
	fs    afero.Fs
	flash *imageDevice
	card  *dirCard
	vol   *storage.DirFilesystem
	port  *logPort
	wd    *exitWatchdog
}

func NewPlatform(opts Options) (*Platform, error) {
	fs := afero.NewOsFs()

	dev, err := openImageDevice(fs, opts.FlashImage, opts.Geometry)
	if err != nil {
		return nil, err
	}

	card, err := newDirCard(filepath.Join(opts.SDRoot, "card"), opts.BlockCount, opts.BlockSize)
	if err != nil {
		return nil, err
	}

	return &Platform{
		opts:  opts,
		fs:    fs,
		flash: dev,
		card:  card,
		vol:   storage.NewDirFilesystem(fs, filepath.Join(opts.SDRoot, "card")),
		port:  &logPort{},
		wd:    &exitWatchdog{},
	}, nil
}

func (*Platform) ID() string {
	return "sim"
}

func (p *Platform) Settings() platforms.Settings {
	return platforms.Settings{ConfigDir: p.opts.ConfigDir, LogDir: p.opts.LogDir}
}

func (p *Platform) Flash() flash.Device {
	return p.flash
}

func (*Platform) FlashGuard() flash.InterruptGuard {
	return flash.NopGuard{}
}

func (p *Platform) Card() storage.Card {
	return p.card
}

func (p *Platform) Filesystem() storage.Filesystem {
	return p.vol
}

func (p *Platform) BootPort() boot.Port {
	return p.port
}

func (p *Platform) Watchdog() platforms.Watchdog {
	return p.wd
}

func (p *Platform) Close() error {
	if err := p.flash.flush(); err != nil {
		return err
	}
	return p.card.Close()
}

// logPort records the control transfer and ends the process: once the
// application owns the machine this bootloader no longer exists.
type logPort struct {
	vtor uint32
	msp  uint32
}

func (p *logPort) RemapVectorTable(addr uint32) {
	p.vtor = addr
}

func (p *logPort) SetStackPointer(sp uint32) {
	p.msp = sp
}

func (p *logPort) Branch(pc uint32) {
	log.Info().
		Uint32("vtor", p.vtor).
		Uint32("msp", p.msp).
		Uint32("pc", pc).
		Msg("sim: control transferred, exiting")
	os.Exit(0)
}

// exitWatchdog terminates the process with a distinct status so a
// supervisor can restart it, the closest host-side analogue of a watchdog
// reboot.
type exitWatchdog struct{}

func (*exitWatchdog) Reboot() {
	log.Error().Msg("sim: watchdog reboot")
	os.Exit(3)
}

// imageDevice is a MemDevice persisted to a flash image file after every
// mutation.
type imageDevice struct {
	*flash.MemDevice
	fs   afero.Fs
	path string
}

func openImageDevice(fs afero.Fs, path string, geom flash.Geometry) (*imageDevice, error) {
	mem, err := flash.NewMemDevice(geom)
	if err != nil {
		return nil, fmt.Errorf("flash image geometry: %w", err)
	}

	data, readErr := afero.ReadFile(fs, path)
	switch {
	case readErr == nil:
		if len(data) == int(geom.Size) {
			if err := mem.Preload(0, data); err != nil {
				return nil, err
			}
		} else {
			log.Warn().
				Str("path", path).
				Int("size", len(data)).
				Msg("flash image size mismatch, starting erased")
		}
	case os.IsNotExist(readErr):
		log.Info().Str("path", path).Msg("creating flash image")
	default:
		return nil, fmt.Errorf("read flash image: %w", readErr)
	}

	dev := &imageDevice{MemDevice: mem, fs: fs, path: path}
	if err := dev.flush(); err != nil {
		return nil, err
	}
	return dev, nil
}

func (d *imageDevice) EraseSector(index uint32) error {
	if err := d.MemDevice.EraseSector(index); err != nil {
		return err
	}
	return d.flush()
}

func (d *imageDevice) ProgramSector(index uint32, data []byte) error {
	if err := d.MemDevice.ProgramSector(index, data); err != nil {
		return err
	}
	return d.flush()
}

func (d *imageDevice) flush() error {
	buf := make([]byte, d.Geometry().Size)
	if err := d.Read(0, buf); err != nil {
		return err
	}
	if err := afero.WriteFile(d.fs, d.path, buf, 0o600); err != nil {
		return fmt.Errorf("write flash image: %w", err)
	}
	return nil
}
