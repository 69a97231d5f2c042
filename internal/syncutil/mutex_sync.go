// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

//go:build !deadlock

// Package syncutil provides mutex types that can optionally use deadlock
// detection. By default plain sync mutexes are used with zero overhead;
// build with -tags=deadlock to swap in github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex wraps sync.Mutex. Build with -tags=deadlock for deadlock detection.
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex. Build with -tags=deadlock for deadlock detection.
type RWMutex struct {
	sync.RWMutex
}
