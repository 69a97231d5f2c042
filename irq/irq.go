// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

// Package irq models the interrupt surface the host microcontroller
// simulator exposes to peripheral models: named lines that carry a 32-bit
// value, deliver that value to registered callbacks when raised, and can be
// connected line-to-line so that raising one propagates to the other.
//
// Everything is synchronous and single-threaded: Raise runs every callback
// and connected line on the caller's goroutine before returning, in lockstep
// with simulated instruction execution. There is no queueing and no locking.
package irq

// Handler receives the value carried by a raised line.
type Handler func(value uint32)

// Line is a single named interrupt line.
type Line struct {
	name    string
	value   uint32
	handler []Handler
	sinks   []*Line
}

// New creates an interrupt line with the given name. The name is used only
// for diagnostics.
func New(name string) *Line {
	return &Line{name: name}
}

// Lines creates one line per name, in order.
func Lines(names ...string) []*Line {
	lines := make([]*Line, len(names))
	for i, name := range names {
		lines[i] = New(name)
	}
	return lines
}

// Name returns the line's diagnostic name.
func (l *Line) Name() string { return l.name }

// Value returns the value most recently raised on the line.
func (l *Line) Value() uint32 { return l.value }

// Notify registers a callback invoked synchronously on every Raise.
// Callbacks run in registration order.
func (l *Line) Notify(h Handler) {
	l.handler = append(l.handler, h)
}

// Connect wires this line to dst: raising this line also raises dst with the
// same value. Connections are one-way; connect both directions explicitly
// for a bidirectional hookup.
func (l *Line) Connect(dst *Line) {
	l.sinks = append(l.sinks, dst)
}

// Raise places a value on the line, runs all registered callbacks and then
// propagates to connected lines. Callbacks may themselves raise other lines;
// a line must not be connected into a cycle.
func (l *Line) Raise(value uint32) {
	l.value = value
	for _, h := range l.handler {
		h(value)
	}
	for _, sink := range l.sinks {
		sink.Raise(value)
	}
}
