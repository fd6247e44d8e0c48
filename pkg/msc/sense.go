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

package msc

import "fmt"

// SenseKey is the SCSI sense key reported for a failed command.
type SenseKey uint8

const (
	SenseKeyNone           SenseKey = 0x00
	SenseKeyNotReady       SenseKey = 0x02
	SenseKeyIllegalRequest SenseKey = 0x05
)

func (k SenseKey) String() string {
	switch k {
	case SenseKeyNone:
		return "none"
	case SenseKeyNotReady:
		return "not ready"
	case SenseKeyIllegalRequest:
		return "illegal request"
	default:
		return fmt.Sprintf("key %#02x", uint8(k))
	}
}

// Sense is a protocol-level failure condition reported to the host. It
// implements error so bridge operations can return it directly.
type Sense struct {
	Key  SenseKey
	ASC  uint8
	ASCQ uint8
}

func (s Sense) Error() string {
	return fmt.Sprintf("%s (asc=%#02x ascq=%#02x)", s.Key, s.ASC, s.ASCQ)
}

var (
	// SenseMediumNotPresent reports an absent card. The session keeps
	// running; the host decides what to do.
	SenseMediumNotPresent = Sense{Key: SenseKeyNotReady, ASC: 0x3A}

	// SenseInvalidCommand is the catch-all for unrecognized opcodes.
	SenseInvalidCommand = Sense{Key: SenseKeyIllegalRequest, ASC: 0x20}

	SenseInvalidFieldInCDB = Sense{Key: SenseKeyIllegalRequest, ASC: 0x24}
	SenseLBAOutOfRange     = Sense{Key: SenseKeyIllegalRequest, ASC: 0x21}
)

// fixedSenseData encodes a condition in the 18-byte fixed sense format
// returned by REQUEST SENSE.
func fixedSenseData(s Sense) []byte {
	data := make([]byte, 18)
	data[0] = 0x70 // current errors, fixed format
	data[2] = uint8(s.Key)
	data[7] = 10 // additional sense length
	data[12] = s.ASC
	data[13] = s.ASCQ
	return data
}
