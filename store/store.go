// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

// Package store manages the flat card image file backing the emulated SD
// card. The file has no header and no metadata: byte offset N in the file is
// logical card byte address N, and the file size is the card capacity. A
// blank image can be created with cmd/mkcard or `truncate -s 64M card.img`.
//
// On unix platforms the image is memory-mapped with MAP_SHARED, so every
// block write the firmware performs lands in the page cache directly and
// survives process exit; Flush forces an msync for crash durability. On
// windows the image is buffered in memory and written back on Flush/Close.
package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/rabidaudio/nanosim/internal/syncutil"
)

// ErrEmptyImage is returned by Open when the image file has zero size.
// The operator must pre-allocate the image to the desired card capacity.
var ErrEmptyImage = errors.New("card image is empty")

// Image is an open card image. Data returns the live backing bytes; the
// card emulator reads and writes them in place.
type Image struct {
	f      *os.File
	path   string
	data   []byte
	mapped bool
	closed bool
	mu     syncutil.Mutex
}

// Open opens an existing card image read-write. The file size becomes the
// emulated card capacity and is never changed by the simulator.
func Open(path string) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open card image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat card image: %w", err)
	}
	if info.Size() == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyImage)
	}

	img := &Image{f: f, path: path}
	if err := img.mapFile(int(info.Size())); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("map card image: %w", err)
	}
	return img, nil
}

// NewMem creates an image backed only by memory, for tests and for running
// without durability. Flush and Close are no-ops beyond bookkeeping.
func NewMem(size int) *Image {
	return &Image{data: make([]byte, size)}
}

// Data returns the backing bytes. The slice stays valid until Close.
func (i *Image) Data() []byte { return i.data }

// Size returns the image size in bytes, i.e. the card capacity.
func (i *Image) Size() int64 { return int64(len(i.data)) }

// Path returns the image file path, or "" for a memory image.
func (i *Image) Path() string { return i.path }

// Flush forces written blocks out to the image file. Safe to call from a
// signal handler goroutine while the simulation is running; the worst case
// is that an in-flight block write is flushed on the next call.
func (i *Image) Flush() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed || i.f == nil {
		return nil
	}
	return i.sync()
}

// Close flushes and releases the image. Further use of Data is invalid for
// file-backed images. Close is idempotent.
func (i *Image) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	if i.f == nil {
		return nil
	}
	syncErr := i.sync()
	unmapErr := i.unmap()
	closeErr := i.f.Close()
	if syncErr != nil {
		return syncErr
	}
	if unmapErr != nil {
		return unmapErr
	}
	if closeErr != nil {
		return fmt.Errorf("close card image: %w", closeErr)
	}
	return nil
}
