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

package service

import (
	"testing"
	"time"

	"github.com/PicoBootProject/picoboot-core/pkg/boot"
	"github.com/PicoBootProject/picoboot-core/pkg/flash"
	"github.com/PicoBootProject/picoboot-core/pkg/msc"
	"github.com/PicoBootProject/picoboot-core/pkg/platforms"
	"github.com/PicoBootProject/picoboot-core/pkg/storage"
	"github.com/PicoBootProject/picoboot-core/pkg/testing/mocks"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testPlatform assembles the in-memory seams into a platforms.Platform.
type testPlatform struct {
	flash *flash.MemDevice
	card  *mocks.FakeCard
	vol   storage.Filesystem
	port  *mocks.MockPort
	wd    *mocks.MockWatchdog
}

func newTestPlatform(t *testing.T, cardPresent bool) *testPlatform {
	t.Helper()

	dev, err := flash.NewMemDevice(flash.Geometry{Size: 2 * 1024 * 1024, SectorSize: 4096})
	require.NoError(t, err)

	backing := afero.NewMemMapFs()
	require.NoError(t, backing.MkdirAll("/sd", 0o750))

	blocks, err := storage.NewMemBlockDevice(64, 512)
	require.NoError(t, err)

	return &testPlatform{
		flash: dev,
		card:  mocks.NewFakeCard(cardPresent, blocks),
		vol:   storage.NewDirFilesystem(backing, "/sd"),
		port:  &mocks.MockPort{},
		wd:    &mocks.MockWatchdog{},
	}
}

func (p *testPlatform) ID() string                       { return "test" }
func (p *testPlatform) Settings() platforms.Settings     { return platforms.Settings{} }
func (p *testPlatform) Flash() flash.Device              { return p.flash }
func (p *testPlatform) FlashGuard() flash.InterruptGuard { return flash.NopGuard{} }
func (p *testPlatform) Card() storage.Card               { return p.card }
func (p *testPlatform) Filesystem() storage.Filesystem   { return p.vol }
func (p *testPlatform) BootPort() boot.Port              { return p.port }
func (p *testPlatform) Watchdog() platforms.Watchdog     { return p.wd }

func startService(t *testing.T, pl *testPlatform, transport msc.Transport) *Service {
	t.Helper()

	svc, _ := New(testConfig(t), pl, transport, nil)
	stop, _, err := svc.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, stop())
	})
	return svc
}

func TestStartMountsAndBrowses(t *testing.T) {
	t.Parallel()

	pl := newTestPlatform(t, true)
	svc := startService(t, pl, nil)

	assert.Equal(t, ModeBrowse, svc.State().Mode())
	assert.NotEmpty(t, svc.State().BootUUID())
	pl.wd.AssertNotCalled(t, "Reboot")
}

func TestStartWithoutTransportRejectsMSC(t *testing.T) {
	t.Parallel()

	pl := newTestPlatform(t, true)
	svc := startService(t, pl, nil)

	require.ErrorIs(t, svc.StartMSC(), ErrNoTransport)
	assert.Equal(t, ModeBrowse, svc.State().Mode())
}

func TestMSCHandoffAndRemount(t *testing.T) {
	t.Parallel()

	pl := newTestPlatform(t, true)
	transport := &mocks.MockTransport{}
	transport.On("Service", mock.Anything).Return(nil)

	svc := startService(t, pl, transport)

	// keep signalling exit until the handoff completes; the session
	// drains stale commands before it starts listening
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-quit:
				return
			default:
				svc.ExitMSC()
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()

	err := svc.StartMSC()
	close(quit)
	require.NoError(t, err)

	assert.Equal(t, ModeBrowse, svc.State().Mode())
	assert.Equal(t, "Filesystem remounted. Returning to UI.", svc.State().Status())
	assert.True(t, pl.vol.Mounted(), "storage returned after the session")
	pl.wd.AssertNotCalled(t, "Reboot")
	transport.AssertCalled(t, "Service", mock.Anything)
}

func TestCardRemovalSignalsSessionCore(t *testing.T) {
	t.Parallel()

	pl := newTestPlatform(t, true)
	transport := &mocks.MockTransport{}
	transport.On("Service", mock.Anything).Return(nil)

	svc := startService(t, pl, transport)
	pl.wd.On("Reboot").Once()

	// pulling the card mid-session ends the session via the cross-core
	// bus; with the card gone the remount fails and escalates to the
	// single watchdog path
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for pl.vol.Mounted() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		pl.card.Remove()
	}()

	err := svc.StartMSC()
	require.Error(t, err)

	assert.Equal(t, "Failed to remount filesystem!", svc.State().Status())
	assert.Equal(t, ModeHalt, svc.State().Mode())
	pl.wd.AssertNumberOfCalls(t, "Reboot", 1)
}

func TestInitialMountFailureIsFatal(t *testing.T) {
	t.Parallel()

	vol := &mocks.MockFilesystem{}
	vol.On("Mounted").Return(false)
	vol.On("Mount").Return(assert.AnError)
	vol.On("Format").Return(assert.AnError)

	blocks, err := storage.NewMemBlockDevice(64, 512)
	require.NoError(t, err)

	dev, err := flash.NewMemDevice(flash.Geometry{Size: 2 * 1024 * 1024, SectorSize: 4096})
	require.NoError(t, err)

	pl := &testPlatform{
		flash: dev,
		card:  mocks.NewFakeCard(true, blocks),
		vol:   vol,
		port:  &mocks.MockPort{},
		wd:    &mocks.MockWatchdog{},
	}
	pl.wd.On("Reboot").Once()

	svc, _ := New(testConfig(t), pl, nil, nil)
	_, _, err = svc.Start()
	require.Error(t, err)

	assert.Equal(t, "Failed to mount SD card!", svc.State().Status())
	assert.Equal(t, ModeHalt, svc.State().Mode())
	pl.wd.AssertExpectations(t)
	pl.wd.AssertNumberOfCalls(t, "Reboot", 1)
}

func TestFatalSignalWrapsReason(t *testing.T) {
	t.Parallel()

	sig := FatalSignal{Reason: ErrNoValidApp}
	assert.ErrorIs(t, sig, ErrNoValidApp)
	assert.Contains(t, sig.Error(), "fatal")
}
