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

// Package flash programs the device's internal non-volatile storage from a
// byte stream, one erase sector at a time.
//
// Implementations of Device stand in for the raw flash controller. On real
// hardware the programming routine and every buffer it touches must live
// outside the region being erased; that placement constraint belongs to the
// Device implementation and its linker configuration, not to this package.
package flash

import "errors"

var (
	// ErrInvalidSize is returned when an image is empty or does not fit
	// the application region. No erase or program operation is issued.
	ErrInvalidSize = errors.New("image size is zero or exceeds application region")

	// ErrRegionOverflow is returned when a stream delivers more bytes
	// than its declared length and would cross the region boundary.
	ErrRegionOverflow = errors.New("write would exceed application region")

	ErrUnalignedRegion = errors.New("application region is not sector aligned")
	ErrSectorRange     = errors.New("sector index out of range")
	ErrChunkTooLarge   = errors.New("program chunk exceeds sector size")
)

// Geometry describes a flash part: total size and erase granularity, both
// in bytes. Size must be a multiple of SectorSize.
type Geometry struct {
	Size       uint32
	SectorSize uint32
}

// Sectors returns the number of erase sectors.
func (g Geometry) Sectors() uint32 {
	if g.SectorSize == 0 {
		return 0
	}
	return g.Size / g.SectorSize
}

// Device is a sector-erasable non-volatile memory.
type Device interface {
	Geometry() Geometry
	// EraseSector resets one sector to its erased state.
	EraseSector(index uint32) error
	// ProgramSector writes data to the start of an erased sector. Data
	// may be shorter than the sector; the remainder keeps its erased
	// state.
	ProgramSector(index uint32, data []byte) error
	// Read copies bytes starting at a device offset, crossing sector
	// boundaries freely.
	Read(offset uint32, buf []byte) error
}

// InterruptGuard masks preemption around a single sector erase+program
// pair. Per-sector atomicity is all this design guarantees: a multi-sector
// write interrupted between sectors is not rolled back.
type InterruptGuard interface {
	Protect(fn func() error) error
}

// NopGuard is an InterruptGuard for hosts with nothing to mask.
type NopGuard struct{}

func (NopGuard) Protect(fn func() error) error {
	return fn()
}

// Region is a byte window of the device, sector aligned.
type Region struct {
	Offset uint32
	Size   uint32
}
