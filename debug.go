// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

package nanosim

import (
	"fmt"
	"os"
	"time"
)

// debugEnabled controls whether debug logging is active.
var debugEnabled = false

func init() {
	// Enable debug logging if the DEBUG environment variable is set
	if os.Getenv("NANOSIM_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// Debugf prints protocol-level debug information.
// Always writes to the session log file (if initialized) with a timestamp.
// Only prints to stderr when debug mode is enabled; the byte-per-call hot
// path makes this worth the guard.
func Debugf(format string, args ...any) {
	if !debugEnabled && sessionLogWriter == nil {
		return
	}
	message := fmt.Sprintf(format, args...)

	if sessionLogWriter != nil {
		timestamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", timestamp, message)
	}

	if debugEnabled {
		_, _ = fmt.Fprintf(os.Stderr, "DEBUG: %s\n", message)
	}
}

// SetDebugEnabled allows programmatic control of debug logging, useful for
// tests and the CLI's --debug flag.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}
