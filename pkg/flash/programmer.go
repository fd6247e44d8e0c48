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
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// Programmer writes firmware images into one region of a Device. It is the
// only component that mutates the application region.
type Programmer struct {
	dev    Device
	guard  InterruptGuard
	region Region
}

func NewProgrammer(dev Device, guard InterruptGuard, region Region) (*Programmer, error) {
	geom := dev.Geometry()
	if geom.SectorSize == 0 {
		return nil, errors.New("device reports zero sector size")
	}
	if region.Offset%geom.SectorSize != 0 || region.Size%geom.SectorSize != 0 {
		return nil, ErrUnalignedRegion
	}
	if uint64(region.Offset)+uint64(region.Size) > uint64(geom.Size) {
		return nil, fmt.Errorf("region [%#x,+%#x) outside device: %w",
			region.Offset, region.Size, ErrSectorRange)
	}
	if guard == nil {
		guard = NopGuard{}
	}
	return &Programmer{dev: dev, guard: guard, region: region}, nil
}

// Region returns the window this programmer writes to.
func (p *Programmer) Region() Region {
	return p.region
}

// Write streams an image of the declared size into the region, erasing and
// programming one sector per chunk. Each erase+program pair runs under the
// interrupt guard; the write as a whole is not atomic and is never rolled
// back on failure.
func (p *Programmer) Write(r io.Reader, size int64) error {
	if size <= 0 || size > int64(p.region.Size) {
		return fmt.Errorf("declared size %d: %w", size, ErrInvalidSize)
	}

	sectorSize := p.dev.Geometry().SectorSize
	buf := make([]byte, sectorSize)
	var written uint32

	for {
		n, eof, err := readChunk(r, buf)
		if err != nil {
			return fmt.Errorf("read image stream: %w", err)
		}
		if n == 0 {
			break
		}

		if int64(written)+int64(n) > size || written+uint32(n) > p.region.Size {
			return fmt.Errorf("stream longer than declared %d bytes: %w",
				size, ErrRegionOverflow)
		}

		index := (p.region.Offset + written) / sectorSize
		protectErr := p.guard.Protect(func() error {
			if eraseErr := p.dev.EraseSector(index); eraseErr != nil {
				return fmt.Errorf("erase sector %d: %w", index, eraseErr)
			}
			if progErr := p.dev.ProgramSector(index, buf[:n]); progErr != nil {
				return fmt.Errorf("program sector %d: %w", index, progErr)
			}
			return nil
		})
		if protectErr != nil {
			return protectErr
		}

		written += uint32(n)
		log.Debug().
			Uint32("sector", index).
			Uint32("written", written).
			Msg("programmed flash sector")

		if eof {
			break
		}
	}

	if int64(written) != size {
		return fmt.Errorf("stream ended at %d of declared %d bytes: %w",
			written, size, ErrInvalidSize)
	}

	log.Info().Int64("bytes", size).Msg("image programmed")
	return nil
}

// SameAsExisting compares a stream against the region's current contents.
// It never mutates the device. The caller decides what, if anything, to do
// with the answer.
func (p *Programmer) SameAsExisting(r io.Reader) (bool, error) {
	sectorSize := p.dev.Geometry().SectorSize
	streamBuf := make([]byte, sectorSize)
	flashBuf := make([]byte, sectorSize)
	var offset uint32

	for {
		n, eof, err := readChunk(r, streamBuf)
		if err != nil {
			return false, fmt.Errorf("read image stream: %w", err)
		}
		if n == 0 {
			return true, nil
		}

		if offset+uint32(n) > p.region.Size {
			return false, nil
		}

		readErr := p.dev.Read(p.region.Offset+offset, flashBuf[:n])
		if readErr != nil {
			return false, fmt.Errorf("read flash at %#x: %w",
				p.region.Offset+offset, readErr)
		}
		if !bytes.Equal(streamBuf[:n], flashBuf[:n]) {
			return false, nil
		}

		offset += uint32(n)
		if eof {
			return true, nil
		}
	}
}

// readChunk fills buf as far as the stream allows. eof is true once the
// stream is exhausted, with n holding the bytes of the final short chunk.
func readChunk(r io.Reader, buf []byte) (n int, eof bool, err error) {
	n, err = io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, true, nil
	}
	if err != nil {
		return n, false, err
	}
	return n, false, nil
}
