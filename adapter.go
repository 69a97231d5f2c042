// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

package nanosim

import "github.com/rabidaudio/nanosim/irq"

// Names of the interrupt lines an Adapter allocates.
const (
	LineMOSI = "sd.mosi"
	LineMISO = "sd.miso"
	LineCS   = "sd.cs"
)

// Adapter bridges the host simulator's pin-level interrupt events to a
// Card's byte-oriented protocol operations. It listens on MOSI and CS and
// raises response bytes on MISO.
//
// Connect the simulated SPI controller's output to MOSI(), MISO() to the
// controller's input, and the chip-select port pin to CS(). The card must be
// attached before the first simulated instruction runs, or the firmware's
// initial CS edge is lost.
type Adapter struct {
	card *Card
	mosi *irq.Line
	miso *irq.Line
	cs   *irq.Line
}

// Attach wires a card to a fresh set of interrupt lines.
func Attach(card *Card) *Adapter {
	a := &Adapter{
		card: card,
		mosi: irq.New(LineMOSI),
		miso: irq.New(LineMISO),
		cs:   irq.New(LineCS),
	}
	a.mosi.Notify(a.clockByte)
	a.cs.Notify(a.chipSelect)
	card.OnBusReset(func() { a.miso.Raise(0x00) })
	return a
}

// MOSI returns the line carrying bytes clocked out by the CPU.
func (a *Adapter) MOSI() *irq.Line { return a.mosi }

// MISO returns the line the card raises its response bytes on.
func (a *Adapter) MISO() *irq.Line { return a.miso }

// CS returns the chip-select line. Active low: raise 0 to select.
func (a *Adapter) CS() *irq.Line { return a.cs }

// Card returns the attached card.
func (a *Adapter) Card() *Card { return a.card }

// clockByte handles one full-duplex SPI clock: the card's outbound byte goes
// to MISO first, then the received byte is fed in. Both directions sample on
// the same edge, so this ordering must not change.
func (a *Adapter) clockByte(value uint32) {
	if !a.card.Selected() {
		return
	}
	a.miso.Raise(uint32(a.card.Produce()))
	a.card.Accept(byte(value))
}

// chipSelect tracks the CS pin. The physical line is active low; the card
// stores the logical flag.
func (a *Adapter) chipSelect(value uint32) {
	a.card.SetSelected(value == 0)
	if value == 0 {
		Debugf("sd: chip selected")
	} else {
		Debugf("sd: chip deselected")
	}
}
