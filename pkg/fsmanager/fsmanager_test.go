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

package fsmanager

import (
	"context"
	"testing"
	"time"

	"github.com/PicoBootProject/picoboot-core/pkg/storage"
	"github.com/PicoBootProject/picoboot-core/pkg/testing/mocks"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBlocks(t *testing.T) *storage.MemBlockDevice {
	t.Helper()
	blocks, err := storage.NewMemBlockDevice(16, 512)
	require.NoError(t, err)
	return blocks
}

func TestMountAlreadyMountedIsNoOp(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.On("Mounted").Return(true)
	card := mocks.NewFakeCard(true, newTestBlocks(t))

	m := New(card, fs, nil, 0)
	require.NoError(t, m.Mount())

	fs.AssertNotCalled(t, "Mount")
	fs.AssertNotCalled(t, "Format")
}

func TestMountWithoutCardHasNoSideEffects(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.On("Mounted").Return(false)
	card := mocks.NewFakeCard(false, newTestBlocks(t))

	m := New(card, fs, nil, 0)
	require.ErrorIs(t, m.Mount(), storage.ErrNoCard)

	fs.AssertNotCalled(t, "Mount")
	fs.AssertNotCalled(t, "Format")
}

func TestMountFormatsOnceThenRetriesOnce(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.On("Mounted").Return(false)
	fs.On("Mount").Return(assert.AnError).Once()
	fs.On("Format").Return(nil).Once()
	fs.On("Mount").Return(nil).Once()
	card := mocks.NewFakeCard(true, newTestBlocks(t))

	m := New(card, fs, nil, 0)
	require.NoError(t, m.Mount())

	fs.AssertExpectations(t)
	fs.AssertNumberOfCalls(t, "Mount", 2)
	fs.AssertNumberOfCalls(t, "Format", 1)
}

func TestMountFormatFailure(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.On("Mounted").Return(false)
	fs.On("Mount").Return(assert.AnError).Once()
	fs.On("Format").Return(assert.AnError).Once()
	card := mocks.NewFakeCard(true, newTestBlocks(t))

	m := New(card, fs, nil, 0)
	err := m.Mount()
	require.ErrorIs(t, err, assert.AnError)

	// no second mount attempt after a failed format
	fs.AssertNumberOfCalls(t, "Mount", 1)
}

func TestMountRetryFailureIsFinal(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.On("Mounted").Return(false)
	fs.On("Mount").Return(assert.AnError).Twice()
	fs.On("Format").Return(nil).Once()
	card := mocks.NewFakeCard(true, newTestBlocks(t))

	m := New(card, fs, nil, 0)
	require.ErrorIs(t, m.Mount(), assert.AnError)

	// exactly one format and one retry, never a loop
	fs.AssertNumberOfCalls(t, "Mount", 2)
	fs.AssertNumberOfCalls(t, "Format", 1)
}

func newDirManager(t *testing.T, present bool) (*Manager, *mocks.FakeCard, afero.Fs) {
	t.Helper()

	backing := afero.NewMemMapFs()
	require.NoError(t, backing.MkdirAll("/sd", 0o750))
	fs := storage.NewDirFilesystem(backing, "/sd")
	card := mocks.NewFakeCard(present, newTestBlocks(t))
	return New(card, fs, nil, 0), card, backing
}

func TestInitMountsWhenCardPresent(t *testing.T) {
	t.Parallel()

	m, card, _ := newDirManager(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		require.NoError(t, card.Close())
	}()

	require.NoError(t, m.Init(ctx))
	assert.True(t, m.Mounted())

	root, err := m.Root()
	require.NoError(t, err)
	require.NotNil(t, root)
}

func TestInsertionEdgeMountsAndNotifies(t *testing.T) {
	t.Parallel()

	m, card, _ := newDirManager(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		require.NoError(t, card.Close())
	}()

	inserted := make(chan struct{}, 1)
	m.OnCardInserted(func() { inserted <- struct{}{} })

	require.NoError(t, m.Init(ctx))
	assert.False(t, m.Mounted())

	card.Insert()
	select {
	case <-inserted:
	case <-time.After(5 * time.Second):
		t.Fatal("insertion callback never fired")
	}
	assert.True(t, m.Mounted())
}

func TestRemovalEdgeUnmountsAndNotifies(t *testing.T) {
	t.Parallel()

	m, card, _ := newDirManager(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		require.NoError(t, card.Close())
	}()

	removed := make(chan struct{}, 1)
	m.OnCardRemoved(func() { removed <- struct{}{} })

	require.NoError(t, m.Init(ctx))
	require.True(t, m.Mounted())

	card.Remove()
	select {
	case <-removed:
	case <-time.After(5 * time.Second):
		t.Fatal("removal callback never fired")
	}
	assert.False(t, m.Mounted())
}

func TestDuplicateEdgesIgnored(t *testing.T) {
	t.Parallel()

	m, card, _ := newDirManager(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		require.NoError(t, card.Close())
	}()

	var insertions int
	counted := make(chan struct{}, 4)
	m.OnCardInserted(func() {
		insertions++
		counted <- struct{}{}
	})

	require.NoError(t, m.Init(ctx))

	// already present: a repeat insertion edge in the same direction is
	// dropped without remounting or notifying
	card.Insert()

	card.Remove()
	card.Insert()
	select {
	case <-counted:
	case <-time.After(5 * time.Second):
		t.Fatal("insertion callback never fired")
	}
	assert.Equal(t, 1, insertions)
}
