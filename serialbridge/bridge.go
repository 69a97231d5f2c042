// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

// Package serialbridge connects the simulated UART to a real host serial
// port, so external ground-station tooling (the flight-profile feeder
// scripts) can stream telemetry frames at the simulated firmware exactly as
// it would at flight hardware.
//
// Bytes the firmware transmits are written to the port as they are raised;
// bytes arriving from the port are handed to a Sink, which paces their
// injection into the simulation.
package serialbridge

import (
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"

	nanosim "github.com/rabidaudio/nanosim"
	"github.com/rabidaudio/nanosim/machine"
)

// Sink receives bytes read from the host port. harness.Harness implements
// it.
type Sink interface {
	QueueSerial(data []byte)
}

// Bridge is one open UART-to-port connection.
type Bridge struct {
	port io.ReadWriteCloser
	sink Sink
	done chan struct{}
}

// Open opens a host serial port at the given baud rate (8N1, matching the
// firmware's framing) and bridges it to the machine's UART lines.
func Open(portName string, baud int, m machine.Machine, sink Sink) (*Bridge, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return attach(port, m, sink)
}

// attach does the wiring over any byte stream; tests use an in-memory pipe.
func attach(port io.ReadWriteCloser, m machine.Machine, sink Sink) (*Bridge, error) {
	out, err := m.Line(machine.LineSerialOut)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serialbridge: %w", err)
	}

	b := &Bridge{port: port, sink: sink, done: make(chan struct{})}
	out.Notify(func(v uint32) {
		// runs on the simulation loop; port writes are buffered by the OS
		if _, err := b.port.Write([]byte{byte(v)}); err != nil {
			nanosim.Debugf("serialbridge: write: %v", err)
		}
	})
	go b.readLoop()
	return b, nil
}

func (b *Bridge) readLoop() {
	defer close(b.done)
	buf := make([]byte, 64)
	for {
		n, err := b.port.Read(buf)
		if n > 0 {
			b.sink.QueueSerial(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				nanosim.Debugf("serialbridge: read: %v", err)
			}
			return
		}
	}
}

// Close shuts the port and waits for the read loop to finish.
func (b *Bridge) Close() error {
	err := b.port.Close()
	<-b.done
	if err != nil {
		return fmt.Errorf("close serial port: %w", err)
	}
	return nil
}
