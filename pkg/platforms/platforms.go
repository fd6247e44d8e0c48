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

// Package platforms defines the hardware seam. Everything the service
// touches on a real device - flash controller, card slot, vector table
// port, watchdog - arrives through a Platform so the same orchestration
// runs against hardware and against the simulation.
package platforms

import (
	"github.com/PicoBootProject/picoboot-core/pkg/boot"
	"github.com/PicoBootProject/picoboot-core/pkg/flash"
	"github.com/PicoBootProject/picoboot-core/pkg/storage"
)

type Settings struct {
	ConfigDir string
	LogDir    string
}

// Watchdog is the single fatal-error exit path. Reboot restarts the whole
// system immediately; on hardware it does not return.
type Watchdog interface {
	Reboot()
}

// Platform is one target device. Accessors hand out the hardware seams;
// ownership rules (who may hold the storage handle when) are enforced by
// the service, not here.
type Platform interface {
	ID() string
	Settings() Settings

	// Flash is the internal non-volatile memory holding bootloader and
	// application regions.
	Flash() flash.Device
	// FlashGuard masks interrupts around per-sector flash operations.
	FlashGuard() flash.InterruptGuard
	// Card is the removable storage card slot.
	Card() storage.Card
	// Filesystem is the card-backed volume.
	Filesystem() storage.Filesystem
	// BootPort performs the irreversible control transfer.
	BootPort() boot.Port
	Watchdog() Watchdog
}
