// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

package serialbridge

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/rabidaudio/nanosim/irq"
	"github.com/rabidaudio/nanosim/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uartOnly is a minimal machine exposing just the UART lines.
type uartOnly struct {
	in  *irq.Line
	out *irq.Line
}

func newUARTOnly() *uartOnly {
	return &uartOnly{
		in:  irq.New(machine.LineSerialIn),
		out: irq.New(machine.LineSerialOut),
	}
}

func (*uartOnly) Step() machine.RunState { return machine.Running }

func (*uartOnly) Cycles() uint64 { return 0 }

func (*uartOnly) Frequency() uint64 { return 16_000_000 }

func (m *uartOnly) Line(name string) (*irq.Line, error) {
	switch name {
	case machine.LineSerialIn:
		return m.in, nil
	case machine.LineSerialOut:
		return m.out, nil
	default:
		return nil, machine.ErrNoSuchLine
	}
}

type captureSink struct {
	ch chan []byte
}

func (s *captureSink) QueueSerial(data []byte) { s.ch <- data }

func TestBridgeForwardsBothDirections(t *testing.T) {
	t.Parallel()
	m := newUARTOnly()
	sink := &captureSink{ch: make(chan []byte, 16)}

	// net.Pipe stands in for the serial port: host is the far end
	simSide, hostSide := net.Pipe()
	b, err := attach(simSide, m, sink)
	require.NoError(t, err)

	// host → simulation
	go func() { _, _ = hostSide.Write([]byte("C,9697.79")) }()
	select {
	case data := <-sink.ch:
		assert.Equal(t, []byte("C,9697.79"), data)
	case <-time.After(5 * time.Second):
		t.Fatal("no data reached the sink")
	}

	// simulation → host
	read := make(chan byte, 1)
	go func() {
		buf := make([]byte, 1)
		if _, err := io.ReadFull(hostSide, buf); err == nil {
			read <- buf[0]
		}
	}()
	m.out.Raise('K')
	select {
	case got := <-read:
		assert.Equal(t, byte('K'), got)
	case <-time.After(5 * time.Second):
		t.Fatal("no data reached the host side")
	}

	_ = hostSide.Close()
	assert.NoError(t, b.Close())
}

func TestBridgeRequiresUARTLines(t *testing.T) {
	t.Parallel()
	simSide, _ := net.Pipe()
	_, err := attach(simSide, &noLines{}, &captureSink{ch: make(chan []byte, 1)})
	assert.Error(t, err)
}

type noLines struct{}

func (*noLines) Step() machine.RunState { return machine.Done }

func (*noLines) Cycles() uint64 { return 0 }

func (*noLines) Frequency() uint64 { return 1 }

func (*noLines) Line(string) (*irq.Line, error) { return nil, machine.ErrNoSuchLine }
