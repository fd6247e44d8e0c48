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

package storage

import (
	"fmt"

	"github.com/PicoBootProject/picoboot-core/pkg/helpers/syncutil"
)

// MemBlockDevice is a RAM-backed BlockDevice for the simulation platform
// and tests.
type MemBlockDevice struct {
	data      []byte
	eraseSize uint32
	mu        syncutil.Mutex
}

func NewMemBlockDevice(blocks, eraseSize uint32) (*MemBlockDevice, error) {
	if eraseSize == 0 || blocks == 0 {
		return nil, fmt.Errorf("%d blocks of %d bytes: %w", blocks, eraseSize, ErrBlockRange)
	}
	return &MemBlockDevice{
		data:      make([]byte, uint64(blocks)*uint64(eraseSize)),
		eraseSize: eraseSize,
	}, nil
}

func (d *MemBlockDevice) Size() uint64 {
	return uint64(len(d.data))
}

func (d *MemBlockDevice) EraseSize() uint32 {
	return d.eraseSize
}

// checkRange widens before adding: lba+count near the uint32 ceiling must
// not wrap back into range.
func (d *MemBlockDevice) checkRange(buf []byte, lba, count uint32) error {
	if (uint64(lba)+uint64(count))*uint64(d.eraseSize) > d.Size() {
		return fmt.Errorf("blocks [%d,+%d): %w", lba, count, ErrBlockRange)
	}
	if uint64(len(buf)) != uint64(count)*uint64(d.eraseSize) {
		return fmt.Errorf("%d bytes for %d blocks: %w", len(buf), count, ErrBufferLength)
	}
	return nil
}

func (d *MemBlockDevice) ReadBlocks(buf []byte, lba, count uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkRange(buf, lba, count); err != nil {
		return err
	}
	copy(buf, d.data[uint64(lba)*uint64(d.eraseSize):])
	return nil
}

func (d *MemBlockDevice) ProgramBlocks(data []byte, lba, count uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkRange(data, lba, count); err != nil {
		return err
	}
	copy(d.data[uint64(lba)*uint64(d.eraseSize):], data)
	return nil
}
