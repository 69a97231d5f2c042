// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

// Package machine defines the interface the harness and peripheral models
// expect from a host microcontroller simulator, and a registry for simulator
// backends. The simulator itself lives behind this interface: nanosim only
// needs interrupt lines to hang peripherals on and a way to step simulated
// instructions.
package machine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rabidaudio/nanosim/internal/syncutil"
	"github.com/rabidaudio/nanosim/irq"
)

// RunState is the result of executing one simulated instruction.
type RunState int

const (
	// Running means the CPU can execute further instructions.
	Running RunState = iota
	// Done means the firmware halted gracefully.
	Done
	// Crashed means the CPU hit an illegal state.
	Crashed
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Crashed:
		return "crashed"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// Conventional line names a backend provides via Line. The SPI lines are
// CPU-relative (out = MOSI). Analog channel lines carry millivolt values;
// the payload board wires temperature to channel 0, current to channel 1
// and voltage to channel 2.
const (
	LineSPIOut     = "spi0.out"
	LineSPIIn      = "spi0.in"
	LineChipSelect = "portc.0"
	LineSerialIn   = "uart0.in"
	LineSerialOut  = "uart0.out"
	LineAnalog0    = "adc.0"
	LineAnalog1    = "adc.1"
	LineAnalog2    = "adc.2"
)

// ErrNoSuchLine is returned by Machine.Line for names the backend does not
// provide.
var ErrNoSuchLine = errors.New("machine: no such interrupt line")

// Machine is a cooperative, single-threaded microcontroller simulator.
// Peripherals attach to its interrupt lines before the first Step; every
// pin-level event a Step produces is delivered synchronously during that
// Step.
type Machine interface {
	// Step executes one simulated instruction.
	Step() RunState
	// Cycles returns the number of simulated clock cycles executed.
	Cycles() uint64
	// Frequency returns the simulated clock frequency in Hz.
	Frequency() uint64
	// Line looks up a named interrupt line. Returns ErrNoSuchLine for
	// unknown names.
	Line(name string) (*irq.Line, error)
}

// Factory creates a backend instance loaded with the given firmware image.
type Factory func(firmwarePath string) (Machine, error)

// ErrUnknownBackend is returned by New for unregistered backend names.
var ErrUnknownBackend = errors.New("machine: unknown backend")

var (
	registryMu syncutil.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a simulator backend under a name. Backends register from
// their package init; importing a backend package makes it available.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New instantiates a registered backend.
func New(name, firmwarePath string) (Machine, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	m, err := factory(firmwarePath)
	if err != nil {
		return nil, fmt.Errorf("load %s backend: %w", name, err)
	}
	return m, nil
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
