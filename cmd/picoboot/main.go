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

// picoboot runs the bootloader service against the simulation platform:
// flash is an image file, the SD card is a directory. Useful for
// developing and testing the orchestration off-device.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/PicoBootProject/picoboot-core/pkg/config"
	"github.com/PicoBootProject/picoboot-core/pkg/flash"
	"github.com/PicoBootProject/picoboot-core/pkg/helpers"
	"github.com/PicoBootProject/picoboot-core/pkg/platforms/sim"
	"github.com/PicoBootProject/picoboot-core/pkg/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	simBlockSize  = 512
	simBlockCount = 32768 // 16 MiB raw device
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	showVersion := flag.Bool("version", false, "print version and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	configDir := flag.String("config", "", "config directory (default: user config dir)")
	flashImage := flag.String("flash-image", "", "flash image file (default: <config>/flash.img)")
	sdDir := flag.String("sd-dir", "", "SD slot directory (default: <config>/sd)")
	bootFile := flag.String("boot", "", "select and boot this image after startup")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		return nil
	}

	dir := *configDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolve config dir: %w", err)
		}
		dir = filepath.Join(base, config.AppName)
	}
	logDir := filepath.Join(dir, "logs")

	if err := helpers.InitLogging(logDir, []io.Writer{os.Stderr}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	cfg, err := config.NewConfig(dir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if *debug || cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	opts := sim.Options{
		ConfigDir:  dir,
		LogDir:     logDir,
		FlashImage: *flashImage,
		SDRoot:     *sdDir,
		Geometry: flash.Geometry{
			Size:       cfg.FlashSize(),
			SectorSize: cfg.SectorSize(),
		},
		BlockCount: simBlockCount,
		BlockSize:  simBlockSize,
	}
	if opts.FlashImage == "" {
		opts.FlashImage = filepath.Join(dir, "flash.img")
	}
	if opts.SDRoot == "" {
		opts.SDRoot = filepath.Join(dir, "sd")
	}

	pl, err := sim.NewPlatform(opts)
	if err != nil {
		return fmt.Errorf("create platform: %w", err)
	}
	defer func() {
		if closeErr := pl.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("platform close")
		}
	}()

	svc, notifications := service.New(cfg, pl, nil, nil)
	go func() {
		for n := range notifications {
			if n.Status != "" {
				fmt.Println(n.Status)
			}
		}
	}()

	stop, done, err := svc.Start()
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	if *bootFile != "" {
		go func() {
			if selErr := svc.SelectImage(*bootFile); selErr != nil {
				log.Error().Err(selErr).Str("path", *bootFile).Msg("boot selection failed")
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Info().Msg("shutting down")
		if err := stop(); err != nil {
			return fmt.Errorf("stop service: %w", err)
		}
	case <-done:
	}
	return nil
}
