// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

//go:build windows

package store

import (
	"fmt"
	"io"
)

// Windows has no MAP_SHARED equivalent we can hand out as a plain []byte,
// so the image is buffered in memory and written back wholesale on sync.

func (i *Image) mapFile(size int) error {
	i.data = make([]byte, size)
	if _, err := io.ReadFull(i.f, i.data); err != nil {
		return fmt.Errorf("read card image: %w", err)
	}
	return nil
}

func (i *Image) sync() error {
	if i.data == nil {
		return nil
	}
	if _, err := i.f.WriteAt(i.data, 0); err != nil {
		return fmt.Errorf("write card image: %w", err)
	}
	if err := i.f.Sync(); err != nil {
		return fmt.Errorf("sync card image: %w", err)
	}
	return nil
}

func (i *Image) unmap() error {
	i.data = nil
	return nil
}
