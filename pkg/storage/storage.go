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

// Package storage defines the seams to the removable card: its raw block
// device, its presence detection, and the filesystem mounted on top of it.
// The FAT driver itself is an external collaborator; implementations here
// back those seams with afero filesystems for the simulation platform and
// tests.
package storage

import (
	"errors"

	"github.com/spf13/afero"
)

var (
	ErrNoCard       = errors.New("no card present")
	ErrNotMounted   = errors.New("filesystem not mounted")
	ErrBlockRange   = errors.New("block range outside device")
	ErrBufferLength = errors.New("buffer length does not match block count")
)

// BlockDevice is raw block-addressable storage. Exactly one owner may use
// it at a time; ownership moves between the filesystem manager and the MSC
// bridge at defined mode-switch points and is never shared.
type BlockDevice interface {
	// Size returns the total capacity in bytes.
	Size() uint64
	// EraseSize returns the erase granularity in bytes, which doubles as
	// the logical block size exposed to hosts.
	EraseSize() uint32
	// ReadBlocks fills buf with count blocks starting at lba.
	ReadBlocks(buf []byte, lba, count uint32) error
	// ProgramBlocks writes count blocks from data starting at lba.
	ProgramBlocks(data []byte, lba, count uint32) error
}

// CardEventKind is an insertion or removal edge from the detect line.
type CardEventKind int

const (
	CardInserted CardEventKind = iota + 1
	CardRemoved
)

func (k CardEventKind) String() string {
	switch k {
	case CardInserted:
		return "inserted"
	case CardRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

type CardEvent struct {
	Kind CardEventKind
}

// Card is a removable storage card with presence detection.
type Card interface {
	// Present reports whether a card is currently inserted.
	Present() bool
	// Events delivers insertion/removal edges. The channel is owned by
	// the card and closed by Close.
	Events() <-chan CardEvent
	// BlockDevice returns the card's raw block device.
	BlockDevice() BlockDevice
	Close() error
}

// Filesystem owns the mounted view of the card. Format is destructive and
// exists only as mount-failure recovery.
type Filesystem interface {
	Mount() error
	Unmount() error
	Format() error
	Mounted() bool
	// Root returns the mounted tree. Fails with ErrNotMounted when no
	// mount is active.
	Root() (afero.Fs, error)
}
