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
	"testing"

	"github.com/PicoBootProject/picoboot-core/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBlocks    = 32
	testBlockSize = 512
)

func alwaysPresent() bool { return true }

func testBridge(t *testing.T) (*Bridge, *storage.MemBlockDevice) {
	t.Helper()
	dev, err := storage.NewMemBlockDevice(testBlocks, testBlockSize)
	require.NoError(t, err)
	b, err := NewBridge(dev, alwaysPresent, NewInquiryData("PICO", "SD_MSC_BOOT", "1.0"))
	require.NoError(t, err)
	return b, dev
}

func fillBlock(t *testing.T, dev *storage.MemBlockDevice, lba uint32, seed byte) []byte {
	t.Helper()
	block := make([]byte, testBlockSize)
	for i := range block {
		block[i] = seed + byte(i)
	}
	require.NoError(t, dev.ProgramBlocks(block, lba, 1))
	return block
}

func TestCapacityArithmetic(t *testing.T) {
	t.Parallel()

	b, _ := testBridge(t)
	count, size := b.Capacity()
	assert.Equal(t, uint32(testBlocks), count)
	assert.Equal(t, uint32(testBlockSize), size)
}

func TestNotReadyWhenCardAbsent(t *testing.T) {
	t.Parallel()

	dev, err := storage.NewMemBlockDevice(testBlocks, testBlockSize)
	require.NoError(t, err)
	b, err := NewBridge(dev, func() bool { return false }, InquiryData{})
	require.NoError(t, err)

	require.ErrorIs(t, b.TestUnitReady(), SenseMediumNotPresent)
	require.ErrorIs(t, b.ReadChunk(0, 0, make([]byte, 16)), SenseMediumNotPresent)
	require.ErrorIs(t, b.WriteChunk(0, 0, make([]byte, 16)), SenseMediumNotPresent)
	require.ErrorIs(t, b.StartStop(false, true), SenseMediumNotPresent)
}

func TestReadChunkBounds(t *testing.T) {
	t.Parallel()

	b, _ := testBridge(t)
	buf := make([]byte, 16)

	require.ErrorIs(t, b.ReadChunk(testBlocks, 0, buf), SenseLBAOutOfRange)
	require.ErrorIs(t, b.ReadChunk(0, testBlockSize, buf), SenseInvalidFieldInCDB)
	require.ErrorIs(t, b.ReadChunk(0, testBlockSize-8, buf), SenseInvalidFieldInCDB)
}

func TestReadChunkWalksCachedBlock(t *testing.T) {
	t.Parallel()

	b, dev := testBridge(t)
	block := fillBlock(t, dev, 5, 0x40)

	got := make([]byte, 0, testBlockSize)
	chunk := make([]byte, 128)
	for offset := uint32(0); offset < testBlockSize; offset += 128 {
		require.NoError(t, b.ReadChunk(5, offset, chunk))
		got = append(got, chunk...)
	}
	assert.Equal(t, block, got)
}

// TestReadCacheOnlyReloadsAtOffsetZero pins the transfer contract: a
// nonzero-offset read never touches the device, it serves whatever block
// the cache was last loaded with.
func TestReadCacheOnlyReloadsAtOffsetZero(t *testing.T) {
	t.Parallel()

	b, dev := testBridge(t)
	block3 := fillBlock(t, dev, 3, 0x10)
	fillBlock(t, dev, 7, 0x99)

	chunk := make([]byte, 128)
	require.NoError(t, b.ReadChunk(3, 0, chunk))
	assert.Equal(t, block3[:128], chunk)

	// different LBA, nonzero offset: still block 3's bytes
	require.NoError(t, b.ReadChunk(7, 128, chunk))
	assert.Equal(t, block3[128:256], chunk)
}

func TestWriteChunkAccumulatesFullBlock(t *testing.T) {
	t.Parallel()

	b, dev := testBridge(t)
	block := make([]byte, testBlockSize)
	for i := range block {
		block[i] = byte(i ^ 0x5A)
	}

	// the block is not programmed until the final chunk arrives
	for offset := uint32(0); offset < testBlockSize; offset += 128 {
		require.NoError(t, b.WriteChunk(9, offset, block[offset:offset+128]))
		if offset+128 < testBlockSize {
			got := make([]byte, testBlockSize)
			require.NoError(t, dev.ReadBlocks(got, 9, 1))
			assert.NotEqual(t, block, got, "partial block must not be programmed")
		}
	}

	got := make([]byte, testBlockSize)
	require.NoError(t, dev.ReadBlocks(got, 9, 1))
	assert.Equal(t, block, got)
}

func TestWriteChunkOffsetZeroRetargets(t *testing.T) {
	t.Parallel()

	b, dev := testBridge(t)
	half := make([]byte, testBlockSize/2)
	for i := range half {
		half[i] = 0xCC
	}

	// half a block toward LBA 2, then a full write to LBA 4: the partial
	// accumulation is abandoned
	require.NoError(t, b.WriteChunk(2, 0, half))

	full := make([]byte, testBlockSize)
	for i := range full {
		full[i] = 0xDD
	}
	require.NoError(t, b.WriteChunk(4, 0, full))

	got := make([]byte, testBlockSize)
	require.NoError(t, dev.ReadBlocks(got, 4, 1))
	assert.Equal(t, full, got)

	got = make([]byte, testBlockSize)
	require.NoError(t, dev.ReadBlocks(got, 2, 1))
	for _, v := range got {
		require.Zero(t, v, "abandoned partial write must not reach the device")
	}
}

func TestWriteChunkWithoutTargetRejected(t *testing.T) {
	t.Parallel()

	b, dev := testBridge(t)

	// a block filled entirely by nonzero-offset chunks never set a target
	// LBA; programming it anywhere would corrupt the device
	data := make([]byte, testBlockSize/2)
	for i := range data {
		data[i] = 0xEE
	}
	require.NoError(t, b.WriteChunk(2, testBlockSize/4, data))
	require.ErrorIs(t, b.WriteChunk(2, testBlockSize/2, data), SenseInvalidFieldInCDB)

	got := make([]byte, testBlockSize)
	require.NoError(t, dev.ReadBlocks(got, 2, 1))
	for _, v := range got {
		require.Zero(t, v, "untargeted write must not reach the device")
	}
}

func TestNewBridgeRejectsDegenerateGeometry(t *testing.T) {
	t.Parallel()

	_, err := NewBridge(zeroSizeDevice{}, alwaysPresent, InquiryData{})
	require.Error(t, err)
}

type zeroSizeDevice struct{}

func (zeroSizeDevice) Size() uint64                              { return 0 }
func (zeroSizeDevice) EraseSize() uint32                         { return 512 }
func (zeroSizeDevice) ReadBlocks(_ []byte, _, _ uint32) error    { return nil }
func (zeroSizeDevice) ProgramBlocks(_ []byte, _, _ uint32) error { return nil }

func TestInquiryDataPadding(t *testing.T) {
	t.Parallel()

	d := NewInquiryData("PICO", "SD_MSC_BOOT", "1.0")
	assert.Equal(t, []byte("PICO    "), d.Vendor[:])
	assert.Equal(t, []byte("SD_MSC_BOOT     "), d.Product[:])
	assert.Equal(t, []byte("1.0 "), d.Revision[:])
}
