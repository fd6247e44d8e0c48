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

// Package image checks structural plausibility of firmware images by
// examining the vector table. It proves nothing about semantic
// correctness; a garbage image with a plausible header still validates.
package image

import (
	"encoding/binary"
	"errors"

	"github.com/PicoBootProject/picoboot-core/pkg/flash"
)

// HeaderSize is the number of leading image bytes holding the vector
// table words this package inspects.
const HeaderSize = 8

var ErrShortImage = errors.New("image shorter than vector table header")

// Header is the leading vector table of an image: the initial stack
// pointer and the reset vector, stored as two little-endian 32-bit words.
type Header struct {
	InitialSP   uint32
	ResetVector uint32
}

// ParseHeader decodes the vector table from the first bytes of an image.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrShortImage
	}
	return Header{
		InitialSP:   binary.LittleEndian.Uint32(data[0:4]),
		ResetVector: binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

// Window holds the address bounds a plausible image must point into. All
// bounds are inclusive.
type Window struct {
	RAMBase uint32
	RAMTop  uint32
	AppBase uint32
	AppTop  uint32
}

// Valid reports whether a header is structurally plausible: the initial
// stack pointer lands in the RAM window and the reset vector lands in the
// application flash window. Pure function, no side effects.
func Valid(hdr Header, win Window) bool {
	if hdr.InitialSP < win.RAMBase || hdr.InitialSP > win.RAMTop {
		return false
	}
	if hdr.ResetVector < win.AppBase || hdr.ResetVector > win.AppTop {
		return false
	}
	return true
}

// ValidateDevice reads the vector table at the start of the application
// region and checks it against the window. A read failure counts as an
// implausible image.
func ValidateDevice(dev flash.Device, appOffset uint32, win Window) bool {
	buf := make([]byte, HeaderSize)
	if err := dev.Read(appOffset, buf); err != nil {
		return false
	}
	hdr, err := ParseHeader(buf)
	if err != nil {
		return false
	}
	return Valid(hdr, win)
}
