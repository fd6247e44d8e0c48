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

// Package boot performs the irreversible control transfer into a loaded
// application image.
package boot

import (
	"github.com/PicoBootProject/picoboot-core/pkg/image"
	"github.com/rs/zerolog/log"
)

// Port is the hardware seam for the control transfer. On real hardware all
// three operations execute from memory untouched by the preceding flash
// writes, and Branch does not return.
type Port interface {
	// RemapVectorTable points the active vector table offset register at
	// the application's vector table.
	RemapVectorTable(addr uint32)
	// SetStackPointer loads the primary stack pointer.
	SetStackPointer(sp uint32)
	// Branch transfers control to the application entry point. Never
	// returns on hardware; simulation ports park the calling goroutine.
	Branch(pc uint32)
}

// Launch hands the machine to a validated image at base: remap the vector
// table, set the stack pointer, branch to the reset vector. It must be the
// caller's last action; nothing after it executes.
func Launch(port Port, base uint32, hdr image.Header) {
	log.Info().
		Uint32("base", base).
		Uint32("sp", hdr.InitialSP).
		Uint32("entry", hdr.ResetVector).
		Msg("transferring control to application")

	port.RemapVectorTable(base)
	port.SetStackPointer(hdr.InitialSP)
	port.Branch(hdr.ResetVector)
}
