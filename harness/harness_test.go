// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

package harness

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	nanosim "github.com/rabidaudio/nanosim"
	"github.com/rabidaudio/nanosim/irq"
	"github.com/rabidaudio/nanosim/machine"
	"github.com/rabidaudio/nanosim/machine/virtual"
	"github.com/rabidaudio/nanosim/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRig builds a virtual machine with a card wired up, the way
// cmd/interactive does.
func newRig(t *testing.T, capacity int) (*virtual.MCU, *Harness, *bytes.Buffer) {
	t.Helper()
	m, err := virtual.New("")
	require.NoError(t, err)
	mcu, ok := m.(*virtual.MCU)
	require.True(t, ok)

	img := store.NewMem(capacity)
	card, err := nanosim.New(img.Data())
	require.NoError(t, err)
	adapter := nanosim.Attach(card)

	mosi, err := m.Line(machine.LineSPIOut)
	require.NoError(t, err)
	mosi.Connect(adapter.MOSI())
	miso, err := m.Line(machine.LineSPIIn)
	require.NoError(t, err)
	adapter.MISO().Connect(miso)
	cs, err := m.Line(machine.LineChipSelect)
	require.NoError(t, err)
	cs.Connect(adapter.CS())

	var log bytes.Buffer
	h, err := New(m, img, &log)
	require.NoError(t, err)
	return mcu, h, &log
}

// spinner is a machine that never halts, for exercising cancellation.
type spinner struct {
	lines map[string]*irq.Line
	steps uint64
}

func newSpinner() *spinner {
	s := &spinner{lines: map[string]*irq.Line{}}
	for _, name := range []string{
		machine.LineSerialIn, machine.LineAnalog0,
		machine.LineAnalog1, machine.LineAnalog2,
	} {
		s.lines[name] = irq.New(name)
	}
	return s
}

func (s *spinner) Step() machine.RunState {
	s.steps++
	return machine.Running
}

func (s *spinner) Cycles() uint64 { return s.steps }

func (*spinner) Frequency() uint64 { return 16_000_000 }

func (s *spinner) Line(name string) (*irq.Line, error) {
	line, ok := s.lines[name]
	if !ok {
		return nil, machine.ErrNoSuchLine
	}
	return line, nil
}

func TestRunToGracefulStop(t *testing.T) {
	t.Parallel()
	_, h, log := newRig(t, 1<<20)

	code, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, log.String(), "stopped gracefully")
}

func TestRunReportsCrash(t *testing.T) {
	t.Parallel()
	m, err := virtual.New("")
	require.NoError(t, err)
	// no card attached: bring-up cannot succeed

	img := store.NewMem(4096)
	h, err := New(m, img, &bytes.Buffer{})
	require.NoError(t, err)

	code, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	// A machine that never halts would spin forever without cancellation.
	m := newSpinner()
	img := store.NewMem(4096)
	h, err := New(m, img, &bytes.Buffer{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		code, _ := h.Run(ctx)
		done <- code
	}()
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not stop on cancel")
	}
}

func TestConsoleSetsAnalogChannels(t *testing.T) {
	t.Parallel()
	mcu, h, _ := newRig(t, 4096)

	for _, line := range []string{
		"voltage=3.3",
		"current=0.25",
		"temperature=721",
	} {
		quit, err := h.HandleLine(line)
		require.NoError(t, err)
		require.False(t, quit)
	}

	mv, err := mcu.Analog(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(3300), mv)
	mv, err = mcu.Analog(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(250), mv)
	mv, err = mcu.Analog(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(721), mv)
}

func TestConsoleRejectsMalformedValues(t *testing.T) {
	t.Parallel()
	_, h, _ := newRig(t, 4096)

	_, err := h.HandleLine("voltage=abc")
	assert.Error(t, err)
	_, err = h.HandleLine("temperature=3.5")
	assert.Error(t, err)
}

func TestConsoleQuit(t *testing.T) {
	t.Parallel()
	_, h, _ := newRig(t, 4096)

	quit, err := h.HandleLine("quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestConsoleForwardsSerialInput(t *testing.T) {
	t.Parallel()
	mcu, h, _ := newRig(t, 1<<20)

	quit, err := h.HandleLine("C,9697.79,-216.11")
	require.NoError(t, err)
	require.False(t, quit)

	code, err := h.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, code)

	// the scripted firmware echoes whatever it receives; pacing allows
	// only the first byte to land before this short script halts
	assert.Equal(t, byte('C'), mcu.SerialOut()[0])
}

func TestConsoleLoop(t *testing.T) {
	t.Parallel()
	mcu, h, _ := newRig(t, 4096)

	stopped := false
	h.ConsoleLoop(strings.NewReader("voltage=1.5\nbogus=\nquit\n"), func() {
		stopped = true
	})
	assert.True(t, stopped)

	mv, err := mcu.Analog(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1500), mv)
}
