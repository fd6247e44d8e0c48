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

package flash

import (
	"fmt"

	"github.com/PicoBootProject/picoboot-core/pkg/helpers/syncutil"
)

// ErasedByte is the value every cell holds after a sector erase.
const ErasedByte = 0xFF

// MemDevice is an in-memory Device used by the simulation platform and
// tests. It records the order of erase and program operations so callers
// can assert on programming behavior.
type MemDevice struct {
	data []byte
	geom Geometry

	EraseLog   []uint32
	ProgramLog []uint32

	mu syncutil.Mutex
}

func NewMemDevice(geom Geometry) (*MemDevice, error) {
	if geom.SectorSize == 0 || geom.Size == 0 || geom.Size%geom.SectorSize != 0 {
		return nil, fmt.Errorf("bad geometry %+v: %w", geom, ErrUnalignedRegion)
	}
	data := make([]byte, geom.Size)
	for i := range data {
		data[i] = ErasedByte
	}
	return &MemDevice{data: data, geom: geom}, nil
}

func (d *MemDevice) Geometry() Geometry {
	return d.geom
}

func (d *MemDevice) EraseSector(index uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index >= d.geom.Sectors() {
		return fmt.Errorf("erase sector %d of %d: %w", index, d.geom.Sectors(), ErrSectorRange)
	}
	start := index * d.geom.SectorSize
	for i := start; i < start+d.geom.SectorSize; i++ {
		d.data[i] = ErasedByte
	}
	d.EraseLog = append(d.EraseLog, index)
	return nil
}

func (d *MemDevice) ProgramSector(index uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index >= d.geom.Sectors() {
		return fmt.Errorf("program sector %d of %d: %w", index, d.geom.Sectors(), ErrSectorRange)
	}
	if uint32(len(data)) > d.geom.SectorSize {
		return fmt.Errorf("%d bytes into %d byte sector: %w",
			len(data), d.geom.SectorSize, ErrChunkTooLarge)
	}
	copy(d.data[index*d.geom.SectorSize:], data)
	d.ProgramLog = append(d.ProgramLog, index)
	return nil
}

func (d *MemDevice) Read(offset uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if uint64(offset)+uint64(len(buf)) > uint64(d.geom.Size) {
		return fmt.Errorf("read [%#x,+%d): %w", offset, len(buf), ErrSectorRange)
	}
	copy(buf, d.data[offset:])
	return nil
}

// Preload writes raw bytes without touching the operation logs, for
// setting up a pre-existing image.
func (d *MemDevice) Preload(offset uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if uint64(offset)+uint64(len(data)) > uint64(d.geom.Size) {
		return fmt.Errorf("preload [%#x,+%d): %w", offset, len(data), ErrSectorRange)
	}
	copy(d.data[offset:], data)
	return nil
}
