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

package storage

import (
	"fmt"

	"github.com/PicoBootProject/picoboot-core/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// DirFilesystem maps a directory of a backing afero filesystem to the
// card's volume. Mount fails when the directory is missing, which is what
// an unformatted card looks like to this seam; Format destructively
// recreates it.
type DirFilesystem struct {
	backing afero.Fs
	dir     string
	mounted bool
	mu      syncutil.Mutex
}

func NewDirFilesystem(backing afero.Fs, dir string) *DirFilesystem {
	return &DirFilesystem{backing: backing, dir: dir}
}

func (f *DirFilesystem) Mount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mounted {
		return nil
	}

	info, err := f.backing.Stat(f.dir)
	if err != nil {
		return fmt.Errorf("volume %s not mountable: %w", f.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("volume %s not mountable: not a directory", f.dir)
	}

	f.mounted = true
	log.Debug().Str("dir", f.dir).Msg("volume mounted")
	return nil
}

func (f *DirFilesystem) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mounted = false
	return nil
}

// Format wipes the volume. Destructive; only used as mount-failure
// recovery.
func (f *DirFilesystem) Format() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.backing.RemoveAll(f.dir); err != nil {
		return fmt.Errorf("format: clear volume %s: %w", f.dir, err)
	}
	if err := f.backing.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("format: recreate volume %s: %w", f.dir, err)
	}
	log.Warn().Str("dir", f.dir).Msg("volume formatted")
	return nil
}

func (f *DirFilesystem) Mounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted
}

func (f *DirFilesystem) Root() (afero.Fs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return nil, ErrNotMounted
	}
	return afero.NewBasePathFs(f.backing, f.dir), nil
}
