// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

// Package virtual provides a scripted stand-in for an instruction-level
// microcontroller simulator. Instead of interpreting firmware it replays the
// SPI traffic the payload firmware performs during card bring-up (power-up
// clocks, CMD0, CMD55/ACMD41, CMD58, a read of block 0), echoes serial
// input, and accepts analog values on the ADC lines. It exists so the
// harness, the interrupt wiring and the card emulator can be exercised end
// to end without a CPU core.
//
// Importing this package registers it as the "virtual" backend.
package virtual

import (
	"fmt"
	"os"

	"github.com/rabidaudio/nanosim/irq"
	"github.com/rabidaudio/nanosim/machine"
)

const (
	defaultFrequency = 16_000_000
	cyclesPerStep    = 100
)

func init() {
	machine.Register("virtual", New)
}

// MCU is the scripted backend. Not safe for concurrent use; like a real
// simulator core it is driven from a single loop.
type MCU struct {
	lines     map[string]*irq.Line
	script    []step
	pc        int
	cycles    uint64
	state     machine.RunState
	lastIn    byte
	serialOut []byte
}

type step func(m *MCU)

// New loads the backend. The firmware image must exist (it stands in for
// the ELF the real simulator would load) but its contents are ignored: the
// bring-up routine is built in.
func New(firmwarePath string) (machine.Machine, error) {
	if firmwarePath != "" {
		if _, err := os.Stat(firmwarePath); err != nil {
			return nil, fmt.Errorf("firmware image: %w", err)
		}
	}

	m := &MCU{
		lines: map[string]*irq.Line{},
		state: machine.Running,
	}
	for _, name := range []string{
		machine.LineSPIOut, machine.LineSPIIn, machine.LineChipSelect,
		machine.LineSerialIn, machine.LineSerialOut,
		machine.LineAnalog0, machine.LineAnalog1, machine.LineAnalog2,
	} {
		m.lines[name] = irq.New(name)
	}

	m.lines[machine.LineSPIIn].Notify(func(v uint32) { m.lastIn = byte(v) })
	m.lines[machine.LineSerialIn].Notify(func(v uint32) {
		// the flight firmware echoes ground-station traffic
		m.serialOut = append(m.serialOut, byte(v))
		m.lines[machine.LineSerialOut].Raise(v)
	})

	m.script = bringUpScript()
	return m, nil
}

// Step runs one scripted operation. Once the script completes the firmware
// is considered gracefully halted.
func (m *MCU) Step() machine.RunState {
	if m.state != machine.Running {
		return m.state
	}
	m.cycles += cyclesPerStep
	if m.pc < len(m.script) {
		m.script[m.pc](m)
		m.pc++
		if m.state == machine.Running && m.pc == len(m.script) {
			m.state = machine.Done
		}
	}
	return m.state
}

// Cycles returns the simulated cycle count.
func (m *MCU) Cycles() uint64 { return m.cycles }

// Frequency returns the simulated clock rate.
func (*MCU) Frequency() uint64 { return defaultFrequency }

// Line looks up one of the conventional machine lines.
func (m *MCU) Line(name string) (*irq.Line, error) {
	line, ok := m.lines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", machine.ErrNoSuchLine, name)
	}
	return line, nil
}

// SerialOut returns everything the scripted firmware wrote to the UART.
func (m *MCU) SerialOut() []byte { return m.serialOut }

// Analog returns the last millivolt value raised on an ADC channel.
func (m *MCU) Analog(channel int) (uint32, error) {
	line, err := m.Line(fmt.Sprintf("adc.%d", channel))
	if err != nil {
		return 0, err
	}
	return line.Value(), nil
}

// exchange clocks one full-duplex SPI byte.
func (m *MCU) exchange(tx byte) byte {
	m.lines[machine.LineSPIOut].Raise(uint32(tx))
	return m.lastIn
}

func chipSelect(level uint32) step {
	return func(m *MCU) { m.lines[machine.LineChipSelect].Raise(level) }
}

func clocks(n int) step {
	return func(m *MCU) {
		for range n {
			m.exchange(0xFF)
		}
	}
}

func sendFrame(index byte, arg uint32, crc byte) step {
	return func(m *MCU) {
		m.exchange(0x40 | index)
		m.exchange(byte(arg >> 24))
		m.exchange(byte(arg >> 16))
		m.exchange(byte(arg >> 8))
		m.exchange(byte(arg))
		m.exchange(crc)
	}
}

// poll clocks filler until the card answers want, crashing the simulated
// CPU if it never does. This mirrors the firmware's behavior of treating a
// dead card as fatal.
func poll(want byte, limit int) step {
	return func(m *MCU) {
		for range limit {
			if m.exchange(0xFF) == want {
				return
			}
		}
		m.state = machine.Crashed
	}
}

func bringUpScript() []step {
	return []step{
		// at least 74 clocks with CS high before the card talks SPI
		chipSelect(1),
		clocks(10),
		chipSelect(0),
		sendFrame(0, 0, 0x95),
		poll(0x01, 8),
		sendFrame(55, 0, 0xFF),
		poll(0x01, 8),
		sendFrame(41, 0, 0xFF),
		poll(0x00, 8),
		sendFrame(58, 0, 0xFF),
		poll(0x00, 8),
		clocks(4), // rest of the R3
		sendFrame(17, 0, 0xFF),
		poll(0x00, 8),
		poll(0xFE, 8),
		clocks(512 + 2), // block plus crc trailer
		chipSelect(1),
	}
}
