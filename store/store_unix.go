// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

//go:build unix

package store

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func (i *Image) mapFile(size int) error {
	data, err := unix.Mmap(int(i.f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	i.data = data
	i.mapped = true
	return nil
}

func (i *Image) sync() error {
	if !i.mapped {
		return nil
	}
	if err := unix.Msync(i.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync card image: %w", err)
	}
	return nil
}

func (i *Image) unmap() error {
	if !i.mapped {
		return nil
	}
	i.mapped = false
	data := i.data
	i.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap card image: %w", err)
	}
	return nil
}
