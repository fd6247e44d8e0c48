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

// Package mocks provides testify mocks and small functional fakes for the
// hardware seams.
package mocks

import (
	"fmt"

	"github.com/PicoBootProject/picoboot-core/pkg/helpers/syncutil"
	"github.com/PicoBootProject/picoboot-core/pkg/msc"
	"github.com/PicoBootProject/picoboot-core/pkg/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
)

// MockPort is a mock implementation of the boot.Port interface using
// testify/mock.
type MockPort struct {
	mock.Mock
}

func (m *MockPort) RemapVectorTable(addr uint32) {
	m.Called(addr)
}

func (m *MockPort) SetStackPointer(sp uint32) {
	m.Called(sp)
}

func (m *MockPort) Branch(pc uint32) {
	m.Called(pc)
}

// MockWatchdog is a mock implementation of the platforms.Watchdog
// interface using testify/mock.
type MockWatchdog struct {
	mock.Mock
}

func (m *MockWatchdog) Reboot() {
	m.Called()
}

// MockTransport is a mock implementation of the msc.Transport interface
// using testify/mock.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Service(h *msc.Handler) error {
	args := m.Called(h)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

// MockFilesystem is a mock implementation of the storage.Filesystem
// interface using testify/mock. Root is left to functional fakes; tests
// that need file content should use a DirFilesystem over afero.MemMapFs.
type MockFilesystem struct {
	mock.Mock
}

func (m *MockFilesystem) Mount() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

func (m *MockFilesystem) Unmount() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

func (m *MockFilesystem) Format() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

func (m *MockFilesystem) Mounted() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockFilesystem) Root() (afero.Fs, error) {
	args := m.Called()
	var fs afero.Fs
	if v, ok := args.Get(0).(afero.Fs); ok {
		fs = v
	}
	if err := args.Error(1); err != nil {
		return fs, fmt.Errorf("mock operation failed: %w", err)
	}
	return fs, nil
}

// FakeCard is a functional storage.Card fake with a script-controlled
// presence flag and event channel.
type FakeCard struct {
	events  chan storage.CardEvent
	blocks  storage.BlockDevice
	present bool
	mu      syncutil.RWMutex
}

func NewFakeCard(present bool, blocks storage.BlockDevice) *FakeCard {
	return &FakeCard{
		events:  make(chan storage.CardEvent, 8),
		blocks:  blocks,
		present: present,
	}
}

func (c *FakeCard) Present() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.present
}

func (c *FakeCard) Events() <-chan storage.CardEvent {
	return c.events
}

func (c *FakeCard) BlockDevice() storage.BlockDevice {
	return c.blocks
}

func (c *FakeCard) Close() error {
	close(c.events)
	return nil
}

// Insert flips presence and emits the detect edge.
func (c *FakeCard) Insert() {
	c.mu.Lock()
	c.present = true
	c.mu.Unlock()
	c.events <- storage.CardEvent{Kind: storage.CardInserted}
}

// Remove flips presence and emits the detect edge.
func (c *FakeCard) Remove() {
	c.mu.Lock()
	c.present = false
	c.mu.Unlock()
	c.events <- storage.CardEvent{Kind: storage.CardRemoved}
}
