// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

package irq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRaiseDeliversToHandlers(t *testing.T) {
	t.Parallel()
	line := New("spi0.mosi")

	var got []uint32
	line.Notify(func(v uint32) { got = append(got, v) })
	line.Notify(func(v uint32) { got = append(got, v+1) })

	line.Raise(0x40)
	line.Raise(0xFF)

	assert.Equal(t, []uint32{0x40, 0x41, 0xFF, 0x100}, got)
	assert.Equal(t, uint32(0xFF), line.Value())
}

func TestConnectPropagatesOneWay(t *testing.T) {
	t.Parallel()
	src := New("spi0.miso")
	dst := New("cpu.spi.in")
	src.Connect(dst)

	var got []uint32
	dst.Notify(func(v uint32) { got = append(got, v) })

	src.Raise(0x05)
	assert.Equal(t, []uint32{0x05}, got)
	assert.Equal(t, uint32(0x05), dst.Value())

	// raising the sink must not feed back into the source
	dst.Raise(0xAA)
	assert.Equal(t, uint32(0x05), src.Value())
}

func TestHandlerMayRaiseAnotherLine(t *testing.T) {
	t.Parallel()
	mosi := New("spi0.mosi")
	miso := New("spi0.miso")

	var answered []uint32
	miso.Notify(func(v uint32) { answered = append(answered, v) })
	mosi.Notify(func(v uint32) { miso.Raise(v ^ 0xFF) })

	mosi.Raise(0x00)
	mosi.Raise(0xFE)
	assert.Equal(t, []uint32{0xFF, 0x01}, answered)
}

func TestLines(t *testing.T) {
	t.Parallel()
	lines := Lines("mosi", "miso", "cs")
	assert.Len(t, lines, 3)
	assert.Equal(t, "mosi", lines[0].Name())
	assert.Equal(t, "cs", lines[2].Name())
}
