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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PicoBootProject/picoboot-core/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	CfgEnv        = "PICOBOOT_CFG"
)

type Values struct {
	Boot         Boot    `toml:"boot,omitempty"`
	Storage      Storage `toml:"storage,omitempty"`
	MSC          MSC     `toml:"msc,omitempty"`
	Flash        Flash   `toml:"flash"`
	Memory       Memory  `toml:"memory"`
	ConfigSchema int     `toml:"config_schema"`
	DebugLogging bool    `toml:"debug_logging"`
}

// Flash describes the non-volatile storage layout. The application region
// is [app_offset, size) and must stay disjoint from the bootloader region
// [0, app_offset).
type Flash struct {
	Base       uint32 `toml:"base"`
	Size       uint32 `toml:"size"`
	AppOffset  uint32 `toml:"app_offset"`
	SectorSize uint32 `toml:"sector_size"`
}

// Memory is the plausible RAM window used for vector table validation.
type Memory struct {
	RAMBase uint32 `toml:"ram_base"`
	RAMTop  uint32 `toml:"ram_top"`
}

type Boot struct {
	ImageSuffix   string `toml:"image_suffix,omitempty"`
	LaunchDelayMS int    `toml:"launch_delay_ms,omitempty"`
	HaltDelayMS   int    `toml:"halt_delay_ms,omitempty"`
	StatusClearMS int    `toml:"status_clear_ms,omitempty"`
}

type Storage struct {
	MountPoint  string `toml:"mount_point,omitempty"`
	StabilizeMS int    `toml:"stabilize_ms,omitempty"`
}

// MSC inquiry strings are space-padded on the wire to the fixed SCSI
// field widths (8/16/4 bytes).
type MSC struct {
	Vendor     string `toml:"vendor,omitempty"`
	Product    string `toml:"product,omitempty"`
	ProductRev string `toml:"product_rev,omitempty"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Flash: Flash{
		Base:       0x10000000,
		Size:       2 * 1024 * 1024,
		AppOffset:  256 * 1024,
		SectorSize: 4096,
	},
	Memory: Memory{
		RAMBase: 0x20000000,
		RAMTop:  0x20040000,
	},
	Boot: Boot{
		ImageSuffix:   ".bin",
		LaunchDelayMS: 100,
		HaltDelayMS:   2000,
		StatusClearMS: 3000,
	},
	Storage: Storage{
		MountPoint:  "/sd",
		StabilizeMS: 1500,
	},
	MSC: MSC{
		Vendor:     "PICO",
		Product:    "SD_MSC_BOOT",
		ProductRev: "1.0",
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		mu:       syncutil.RWMutex{},
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return ErrNoConfigPath
	}

	if _, err := os.Stat(c.cfgPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	//nolint:gosec // config path is controlled by the service
	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Warn().
			Int("got", newVals.ConfigSchema).
			Int("want", SchemaVersion).
			Msg("config schema mismatch, continuing with defaults where unset")
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return ErrNoConfigPath
	}

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(c.cfgPath, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfgPath
}

func (c *Instance) FlashBase() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Flash.Base
}

func (c *Instance) FlashSize() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Flash.Size
}

func (c *Instance) AppOffset() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Flash.AppOffset
}

func (c *Instance) SectorSize() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Flash.SectorSize
}

// MaxAppSize is the capacity of the application region: everything past
// the bootloader's reserved prefix.
func (c *Instance) MaxAppSize() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Flash.Size - c.vals.Flash.AppOffset
}

func (c *Instance) RAMWindow() (base, top uint32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Memory.RAMBase, c.vals.Memory.RAMTop
}

func (c *Instance) ImageSuffix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Boot.ImageSuffix
}

func (c *Instance) LaunchDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Boot.LaunchDelayMS) * time.Millisecond
}

func (c *Instance) HaltDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Boot.HaltDelayMS) * time.Millisecond
}

func (c *Instance) StatusClear() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Boot.StatusClearMS) * time.Millisecond
}

func (c *Instance) MountPoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Storage.MountPoint
}

func (c *Instance) StabilizeDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Storage.StabilizeMS) * time.Millisecond
}

func (c *Instance) MSCInquiry() (vendor, product, rev string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.MSC.Vendor, c.vals.MSC.Product, c.vals.MSC.ProductRev
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}
