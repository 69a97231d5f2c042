// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

//nolint:paralleltest // Tests modify package-level debug state, cannot run in parallel
package nanosim

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// saveDebugState saves the current debug state for restoration.
func saveDebugState() (enabled bool, writer any) {
	return debugEnabled, sessionLogWriter
}

// restoreDebugState restores saved debug state.
func restoreDebugState(enabled bool, writer any) {
	debugEnabled = enabled
	if writer == nil {
		sessionLogWriter = nil
	} else if buf, ok := writer.(*bytes.Buffer); ok {
		sessionLogWriter = buf
	}
}

func TestDebugf_WritesToSessionLog(t *testing.T) {
	origEnabled, origWriter := saveDebugState()
	t.Cleanup(func() {
		restoreDebugState(origEnabled, origWriter)
	})

	var buf bytes.Buffer
	sessionLogWriter = &buf
	debugEnabled = false // Disable console output

	Debugf("sd command %#02x state=%v", 0x40, "BOOT")

	content := buf.String()
	assert.Contains(t, content, "DEBUG: sd command 0x40 state=BOOT")
	assert.Contains(t, content, "\n")
}

func TestDebugf_IncludesTimestamp(t *testing.T) {
	origEnabled, origWriter := saveDebugState()
	t.Cleanup(func() {
		restoreDebugState(origEnabled, origWriter)
	})

	var buf bytes.Buffer
	sessionLogWriter = &buf
	debugEnabled = false

	Debugf("timestamped")

	// HH:MM:SS.mmm prefix
	matched, err := regexp.MatchString(`^\d{2}:\d{2}:\d{2}\.\d{3} DEBUG:`, buf.String())
	require.NoError(t, err)
	assert.True(t, matched, "log line should start with a timestamp, got: %q", buf.String())
}

func TestDebugf_NilSessionWriter(t *testing.T) {
	origEnabled, origWriter := saveDebugState()
	t.Cleanup(func() {
		restoreDebugState(origEnabled, origWriter)
	})

	sessionLogWriter = nil
	debugEnabled = false

	// Must not panic with no destinations
	Debugf("dropped on the floor %d", 1)
}

func TestSetDebugEnabled(t *testing.T) {
	origEnabled, origWriter := saveDebugState()
	t.Cleanup(func() {
		restoreDebugState(origEnabled, origWriter)
	})

	SetDebugEnabled(true)
	assert.True(t, debugEnabled)

	SetDebugEnabled(false)
	assert.False(t, debugEnabled)
}

func TestDebugf_MultipleMessages(t *testing.T) {
	origEnabled, origWriter := saveDebugState()
	t.Cleanup(func() {
		restoreDebugState(origEnabled, origWriter)
	})

	var buf bytes.Buffer
	sessionLogWriter = &buf
	debugEnabled = false

	Debugf("first")
	Debugf("second")
	Debugf("third")

	content := buf.String()
	assert.Contains(t, content, "DEBUG: first")
	assert.Contains(t, content, "DEBUG: second")
	assert.Contains(t, content, "DEBUG: third")
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))
}
