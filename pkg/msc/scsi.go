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

import (
	"encoding/binary"
	"errors"

	"github.com/rs/zerolog/log"
)

// SCSI operation codes served by the handler. Everything else is answered
// with an illegal-request condition rather than silently ignored.
const (
	opTestUnitReady  = 0x00
	opRequestSense   = 0x03
	opInquiry        = 0x12
	opModeSense6     = 0x1A
	opStartStopUnit  = 0x1B
	opReadCapacity10 = 0x25
	opRead10         = 0x28
	opWrite10        = 0x2A
)

// hostChunkSize is the data-phase granularity: blocks move between the
// transport and the bridge caches in pieces of at most this many bytes,
// matching the USB endpoint buffer size.
const hostChunkSize = 512

type Status uint8

const (
	StatusGood Status = iota
	StatusCheckCondition
)

// Command is one decoded host command: the raw CDB plus any data-out
// payload (writes).
type Command struct {
	CDB  []byte
	Data []byte
}

// Response carries data-in bytes and the command status. Sense is only
// meaningful for StatusCheckCondition.
type Response struct {
	Data   []byte
	Sense  Sense
	Status Status
}

// Handler dispatches CDBs against one bridge for the single logical unit.
type Handler struct {
	bridge    *Bridge
	lastSense Sense
}

func NewHandler(bridge *Bridge) *Handler {
	return &Handler{bridge: bridge}
}

// Bridge returns the handler's bridge, for capacity queries by the
// transport.
func (h *Handler) Bridge() *Bridge {
	return h.bridge
}

// MaxLUN returns the highest logical unit number. Single LUN device.
func (h *Handler) MaxLUN() uint8 {
	return 0
}

// Handle services one host command.
func (h *Handler) Handle(cmd Command) Response {
	if len(cmd.CDB) == 0 {
		return h.check(SenseInvalidCommand)
	}

	switch cmd.CDB[0] {
	case opTestUnitReady:
		return h.result(nil, h.bridge.TestUnitReady())
	case opRequestSense:
		return h.requestSense(cmd)
	case opInquiry:
		return h.inquiry(cmd)
	case opModeSense6:
		// Minimal mode parameter header: no mode pages, not write
		// protected.
		return h.good([]byte{3, 0, 0, 0})
	case opStartStopUnit:
		return h.startStop(cmd)
	case opReadCapacity10:
		return h.readCapacity()
	case opRead10:
		return h.read10(cmd)
	case opWrite10:
		return h.write10(cmd)
	default:
		log.Debug().Uint8("opcode", cmd.CDB[0]).Msg("unrecognized scsi command")
		return h.check(SenseInvalidCommand)
	}
}

func (h *Handler) good(data []byte) Response {
	return Response{Data: data, Status: StatusGood}
}

func (h *Handler) check(s Sense) Response {
	h.lastSense = s
	return Response{Status: StatusCheckCondition, Sense: s}
}

// result converts a bridge error into a response, recording the sense
// condition for a later REQUEST SENSE.
func (h *Handler) result(data []byte, err error) Response {
	if err == nil {
		return h.good(data)
	}
	var sense Sense
	if !errors.As(err, &sense) {
		sense = SenseInvalidCommand
	}
	return h.check(sense)
}

func (h *Handler) requestSense(cmd Command) Response {
	data := fixedSenseData(h.lastSense)
	h.lastSense = Sense{}
	return h.good(trimToAllocation(data, cmd.CDB, 4))
}

func (h *Handler) inquiry(cmd Command) Response {
	inq := h.bridge.Inquiry()
	data := make([]byte, 36)
	data[1] = 0x80 // removable medium
	data[2] = 0x02 // SPC-2 conformance, matches fixed sense format
	data[3] = 0x02 // response data format
	data[4] = 31   // additional length
	copy(data[8:16], inq.Vendor[:])
	copy(data[16:32], inq.Product[:])
	copy(data[32:36], inq.Revision[:])
	return h.good(trimToAllocation(data, cmd.CDB, 4))
}

func (h *Handler) startStop(cmd Command) Response {
	if len(cmd.CDB) < 6 {
		return h.check(SenseInvalidFieldInCDB)
	}
	start := cmd.CDB[4]&0x01 != 0
	loadEject := cmd.CDB[4]&0x02 != 0
	return h.result(nil, h.bridge.StartStop(start, loadEject))
}

func (h *Handler) readCapacity() Response {
	if err := h.bridge.TestUnitReady(); err != nil {
		return h.result(nil, err)
	}
	count, size := h.bridge.Capacity()
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], count-1) // last addressable LBA
	binary.BigEndian.PutUint32(data[4:8], size)
	return h.good(data)
}

func (h *Handler) read10(cmd Command) Response {
	lba, blocks, ok := parseRW10(cmd.CDB)
	if !ok {
		return h.check(SenseInvalidFieldInCDB)
	}

	_, blockSize := h.bridge.Capacity()
	data := make([]byte, 0, uint64(blocks)*uint64(blockSize))
	chunk := make([]byte, minU32(hostChunkSize, blockSize))

	for i := uint32(0); i < blocks; i++ {
		for offset := uint32(0); offset < blockSize; offset += uint32(len(chunk)) {
			n := minU32(uint32(len(chunk)), blockSize-offset)
			if err := h.bridge.ReadChunk(lba+i, offset, chunk[:n]); err != nil {
				return h.result(nil, err)
			}
			data = append(data, chunk[:n]...)
		}
	}
	return h.good(data)
}

func (h *Handler) write10(cmd Command) Response {
	lba, blocks, ok := parseRW10(cmd.CDB)
	if !ok {
		return h.check(SenseInvalidFieldInCDB)
	}

	_, blockSize := h.bridge.Capacity()
	if uint64(len(cmd.Data)) != uint64(blocks)*uint64(blockSize) {
		return h.check(SenseInvalidFieldInCDB)
	}

	step := minU32(hostChunkSize, blockSize)
	for i := uint32(0); i < blocks; i++ {
		block := cmd.Data[uint64(i)*uint64(blockSize):]
		for offset := uint32(0); offset < blockSize; offset += step {
			n := minU32(step, blockSize-offset)
			if err := h.bridge.WriteChunk(lba+i, offset, block[offset:offset+n]); err != nil {
				return h.result(nil, err)
			}
		}
	}
	return h.good(nil)
}

// parseRW10 extracts the big-endian LBA and transfer length from a
// READ(10)/WRITE(10) CDB.
func parseRW10(cdb []byte) (lba, blocks uint32, ok bool) {
	if len(cdb) < 10 {
		return 0, 0, false
	}
	lba = binary.BigEndian.Uint32(cdb[2:6])
	blocks = uint32(binary.BigEndian.Uint16(cdb[7:9]))
	if blocks == 0 {
		return 0, 0, false
	}
	return lba, blocks, true
}

// trimToAllocation honors the CDB allocation length field at the given
// index.
func trimToAllocation(data, cdb []byte, allocIndex int) []byte {
	if len(cdb) <= allocIndex {
		return data
	}
	if alloc := int(cdb[allocIndex]); alloc < len(data) {
		return data[:alloc]
	}
	return data
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
