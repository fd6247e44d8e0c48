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

// Package msc exposes the card's block device to a host over a
// mass-storage protocol. The bridge owns the storage handle for the
// duration of a session: it may only be constructed after the filesystem
// manager has unmounted, and the handle returns to the manager only once
// the session has fully stopped.
package msc

import (
	"fmt"

	"github.com/PicoBootProject/picoboot-core/pkg/storage"
	"github.com/rs/zerolog/log"
)

const noLBA = ^uint32(0)

// InquiryData identifies the device to the host. Fields are space-padded
// to the fixed SCSI widths.
type InquiryData struct {
	Vendor   [8]byte
	Product  [16]byte
	Revision [4]byte
}

func NewInquiryData(vendor, product, revision string) InquiryData {
	var d InquiryData
	padCopy(d.Vendor[:], vendor)
	padCopy(d.Product[:], product)
	padCopy(d.Revision[:], revision)
	return d
}

func padCopy(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}

// Bridge services block-oriented host commands against one block device.
// It keeps one cached block per transfer direction, each with its own
// last-accessed LBA.
type Bridge struct {
	dev     storage.BlockDevice
	present func() bool
	inquiry InquiryData

	blockSize  uint32
	blockCount uint32

	readBuf     []byte
	writeBuf    []byte
	lastReadLBA uint32
	writeLBA    uint32
	writeFill   uint32
}

// NewBridge takes ownership of dev. present reports card presence without
// touching the device.
func NewBridge(dev storage.BlockDevice, present func() bool, inquiry InquiryData) (*Bridge, error) {
	blockSize := dev.EraseSize()
	if blockSize == 0 || dev.Size() < uint64(blockSize) {
		return nil, fmt.Errorf("block device geometry: %w", storage.ErrBlockRange)
	}
	b := &Bridge{
		dev:         dev,
		present:     present,
		inquiry:     inquiry,
		blockSize:   blockSize,
		blockCount:  uint32(dev.Size() / uint64(blockSize)),
		readBuf:     make([]byte, blockSize),
		writeBuf:    make([]byte, blockSize),
		lastReadLBA: noLBA,
		writeLBA:    noLBA,
	}
	log.Info().
		Uint32("blocks", b.blockCount).
		Uint32("block_size", b.blockSize).
		Msg("msc bridge ready")
	return b, nil
}

// Capacity returns the block count and block size exposed to the host.
// Block size equals the underlying erase granularity.
func (b *Bridge) Capacity() (blockCount, blockSize uint32) {
	return b.blockCount, b.blockSize
}

func (b *Bridge) Inquiry() InquiryData {
	return b.inquiry
}

// TestUnitReady reports whether the medium can accept commands.
func (b *Bridge) TestUnitReady() error {
	if !b.present() {
		return SenseMediumNotPresent
	}
	return nil
}

// ReadChunk copies len(buf) bytes from block lba starting at offset. The
// whole block is loaded into the read cache when offset is zero; nonzero
// offsets copy from whatever the cache holds. The host is expected to walk
// a block with sequential offsets between offset-zero boundaries - the
// cached LBA is not re-verified on the later chunks.
func (b *Bridge) ReadChunk(lba, offset uint32, buf []byte) error {
	if !b.present() {
		return SenseMediumNotPresent
	}
	if lba >= b.blockCount {
		return SenseLBAOutOfRange
	}
	if offset+uint32(len(buf)) > b.blockSize {
		return SenseInvalidFieldInCDB
	}

	if offset == 0 {
		if err := b.dev.ReadBlocks(b.readBuf, lba, 1); err != nil {
			log.Error().Err(err).Uint32("lba", lba).Msg("block read failed")
			return SenseMediumNotPresent
		}
		b.lastReadLBA = lba
	}

	copy(buf, b.readBuf[offset:])
	return nil
}

// WriteChunk accumulates host data into the write cache. Offset zero
// retargets the cache at lba; once a full block has accumulated it is
// programmed to the device in one operation.
func (b *Bridge) WriteChunk(lba, offset uint32, data []byte) error {
	if !b.present() {
		return SenseMediumNotPresent
	}
	if lba >= b.blockCount {
		return SenseLBAOutOfRange
	}
	if offset+uint32(len(data)) > b.blockSize {
		return SenseInvalidFieldInCDB
	}

	if offset == 0 {
		b.writeLBA = lba
		b.writeFill = 0
	}

	copy(b.writeBuf[offset:], data)
	b.writeFill = offset + uint32(len(data))

	if b.writeFill >= b.blockSize {
		if b.writeLBA == noLBA {
			// a full block accumulated without ever seeing offset zero
			// has no target to program
			log.Warn().Uint32("lba", lba).Msg("write block completed with no target")
			b.writeFill = 0
			return SenseInvalidFieldInCDB
		}
		if err := b.dev.ProgramBlocks(b.writeBuf, b.writeLBA, 1); err != nil {
			log.Error().Err(err).Uint32("lba", b.writeLBA).Msg("block program failed")
			return SenseMediumNotPresent
		}
	}
	return nil
}

// StartStop handles the host's start/stop unit command. Stop and eject
// are accepted and logged; the session state machine decides separately
// when to end the session.
func (b *Bridge) StartStop(start, loadEject bool) error {
	if !b.present() {
		return SenseMediumNotPresent
	}
	log.Debug().Bool("start", start).Bool("load_eject", loadEject).Msg("start stop unit")
	return nil
}
