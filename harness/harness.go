// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

// Package harness drives a simulated machine interactively: it runs the
// instruction loop, paces console-injected serial bytes, applies sensor
// values to the analog lines and flushes the card image on shutdown.
package harness

import (
	"context"
	"fmt"
	"io"

	"github.com/rabidaudio/nanosim/internal/syncutil"
	"github.com/rabidaudio/nanosim/irq"
	"github.com/rabidaudio/nanosim/machine"
	"github.com/rabidaudio/nanosim/store"
)

// serialInjectInterval is how many simulated cycles pass between injected
// serial bytes, leaving the firmware time to drain its receive buffer.
const serialInjectInterval = 1_000_000

// Harness couples a machine backend to its card image and operator console.
type Harness struct {
	m        machine.Machine
	img      *store.Image
	log      io.Writer
	serialIn *irq.Line
	analog   [3]*irq.Line

	mu      syncutil.Mutex
	pending []byte
}

// New prepares a harness. The machine must provide the conventional serial
// and analog lines; the image is flushed when the run loop stops.
func New(m machine.Machine, img *store.Image, log io.Writer) (*Harness, error) {
	h := &Harness{m: m, img: img, log: log}

	var err error
	if h.serialIn, err = m.Line(machine.LineSerialIn); err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}
	for i, name := range []string{
		machine.LineAnalog0, machine.LineAnalog1, machine.LineAnalog2,
	} {
		if h.analog[i], err = m.Line(name); err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
	}
	return h, nil
}

// Run executes the simulation until the firmware halts, the CPU crashes or
// the context is canceled (operator quit or signal). The returned exit code
// is 0 for a graceful stop and 1 for a crash; the card image is flushed on
// every path out.
func (h *Harness) Run(ctx context.Context) (int, error) {
	var reportedSeconds uint64
	var nextInject uint64

	for {
		select {
		case <-ctx.Done():
			return 0, h.img.Flush()
		default:
		}

		cycles := h.m.Cycles()
		if cycles >= nextInject {
			if b, ok := h.popSerial(); ok {
				h.serialIn.Raise(uint32(b))
			}
			nextInject = cycles + serialInjectInterval
		}

		switch h.m.Step() {
		case machine.Done:
			fmt.Fprintln(h.log, "CPU stopped gracefully.")
			return 0, h.img.Flush()
		case machine.Crashed:
			fmt.Fprintln(h.log, "CPU crashed.")
			if err := h.img.Flush(); err != nil {
				return 1, err
			}
			return 1, nil
		case machine.Running:
		}

		if seconds := h.m.Cycles() / h.m.Frequency(); seconds > reportedSeconds {
			reportedSeconds = seconds
			fmt.Fprintf(h.log, "seconds: %d\n", seconds)
		}
	}
}

// QueueSerial appends bytes for paced injection into the simulated UART.
// Used by the console's raw passthrough and by serialbridge.
func (h *Harness) QueueSerial(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, data...)
}

func (h *Harness) popSerial() (byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return 0, false
	}
	b := h.pending[0]
	h.pending = h.pending[1:]
	return b, true
}
