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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigSavesDefaultsOnFirstRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, CfgFile))
	require.NoError(t, err, "first run writes the default config to disk")

	assert.Equal(t, uint32(0x10000000), cfg.FlashBase())
	assert.Equal(t, uint32(2*1024*1024), cfg.FlashSize())
	assert.Equal(t, uint32(256*1024), cfg.AppOffset())
	assert.Equal(t, uint32(4096), cfg.SectorSize())
	assert.Equal(t, ".bin", cfg.ImageSuffix())
	assert.Equal(t, "/sd", cfg.MountPoint())
	assert.Equal(t, 100*time.Millisecond, cfg.LaunchDelay())
	assert.Equal(t, 2*time.Second, cfg.HaltDelay())
	assert.Equal(t, 1500*time.Millisecond, cfg.StabilizeDelay())
}

func TestMaxAppSize(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfig(t.TempDir(), BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, cfg.FlashSize()-cfg.AppOffset(), cfg.MaxAppSize())
}

func TestRAMWindow(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfig(t.TempDir(), BaseDefaults)
	require.NoError(t, err)

	base, top := cfg.RAMWindow()
	assert.Equal(t, uint32(0x20000000), base)
	assert.Equal(t, uint32(0x20040000), top)
}

func TestMSCInquiryDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfig(t.TempDir(), BaseDefaults)
	require.NoError(t, err)

	vendor, product, rev := cfg.MSCInquiry()
	assert.Equal(t, "PICO", vendor)
	assert.Equal(t, "SD_MSC_BOOT", product)
	assert.Equal(t, "1.0", rev)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	cfg.SetDebugLogging(true)
	require.NoError(t, cfg.Save())

	reloaded, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)
	assert.True(t, reloaded.DebugLogging())
	assert.Equal(t, cfg.FlashSize(), reloaded.FlashSize())
}

func TestFileValuesOverrideDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "config_schema = 1\n\n[flash]\nbase = 268435456\nsize = 4194304\napp_offset = 524288\nsector_size = 4096\n\n[memory]\nram_base = 536870912\nram_top = 537133056\n\n[boot]\nimage_suffix = \".uf2\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, CfgFile), []byte(content), 0o600))

	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, uint32(4*1024*1024), cfg.FlashSize())
	assert.Equal(t, uint32(512*1024), cfg.AppOffset())
	assert.Equal(t, ".uf2", cfg.ImageSuffix())
	// sections absent from the file keep their defaults
	assert.Equal(t, "/sd", cfg.MountPoint())
	assert.Equal(t, "PICO", func() string { v, _, _ := cfg.MSCInquiry(); return v }())
}

func TestEnvOverridesConfigPath(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "custom.toml")
	t.Setenv(CfgEnv, cfgPath)

	cfg, err := NewConfig(t.TempDir(), BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, cfgPath, cfg.Path())

	_, err = os.Stat(cfgPath)
	require.NoError(t, err)
}
