// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

package harness

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Analog channel assignment on the payload board.
const (
	channelTemperature = 0
	channelCurrent     = 1
	channelVoltage     = 2
)

// HandleLine interprets one operator console line. Recognized control
// tokens set simulated sensor inputs or stop the simulation; anything else
// is queued byte-by-byte as simulated serial input (the ground-station
// telemetry path).
func (h *Harness) HandleLine(line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "quit":
		return true, nil
	case strings.HasPrefix(line, "voltage="):
		return false, h.setAnalogVolts(channelVoltage, line)
	case strings.HasPrefix(line, "current="):
		return false, h.setAnalogVolts(channelCurrent, line)
	case strings.HasPrefix(line, "temperature="):
		value := strings.TrimPrefix(line, "temperature=")
		mv, convErr := strconv.Atoi(value)
		if convErr != nil {
			return false, fmt.Errorf("bad temperature %q: %w", value, convErr)
		}
		h.analog[channelTemperature].Raise(uint32(mv))
		return false, nil
	default:
		h.QueueSerial([]byte(line))
		return false, nil
	}
}

// setAnalogVolts parses a key=<float> token in volts and raises the channel
// in millivolts.
func (h *Harness) setAnalogVolts(channel int, line string) error {
	_, value, _ := strings.Cut(line, "=")
	volts, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("bad value %q: %w", value, err)
	}
	h.analog[channel].Raise(uint32(math.Round(volts * 1000)))
	return nil
}

// ConsoleLoop reads operator lines until EOF or a quit command, calling
// stop to cancel the run loop on quit. Malformed control tokens are
// reported and skipped. Intended to run on its own goroutine alongside Run.
func (h *Harness) ConsoleLoop(r io.Reader, stop func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		quit, err := h.HandleLine(scanner.Text())
		if err != nil {
			fmt.Fprintf(h.log, "console: %v\n", err)
			continue
		}
		if quit {
			stop()
			return
		}
	}
}
