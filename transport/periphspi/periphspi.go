// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

// Package periphspi exposes an emulated card as a periph.io SPI port.
// Host-side Go SD drivers written against periph.io/x/conn can then run
// unmodified against the emulation, with chip select handled per
// transaction the way a real port does it.
package periphspi

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	nanosim "github.com/rabidaudio/nanosim"
)

// SD cards speak SPI mode 0 with 8-bit words; anything else is a caller bug.
var (
	ErrUnsupportedMode = errors.New("periphspi: only SPI mode 0 is supported")
	ErrUnsupportedBits = errors.New("periphspi: only 8-bit words are supported")
)

// Port implements spi.PortCloser on top of a Card.
type Port struct {
	card *nanosim.Card
}

// New wraps a card. The card must not be shared with another bus master.
func New(card *nanosim.Card) *Port {
	return &Port{card: card}
}

// String implements spi.Port.
func (*Port) String() string { return "nanosim" }

// LimitSpeed implements spi.PortCloser. The emulation has no clock, so any
// positive limit is accepted and ignored.
func (*Port) LimitSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("periphspi: invalid frequency %s", f)
	}
	return nil
}

// Connect implements spi.Port.
func (p *Port) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if f <= 0 {
		return nil, fmt.Errorf("periphspi: invalid frequency %s", f)
	}
	if mode != spi.Mode0 {
		return nil, ErrUnsupportedMode
	}
	if bits != 8 {
		return nil, ErrUnsupportedBits
	}
	return &cardConn{card: p.card}, nil
}

// Close implements spi.PortCloser. It deselects the card; protocol state is
// retained, as the card is still powered.
func (p *Port) Close() error {
	p.card.SetSelected(false)
	return nil
}

type cardConn struct {
	card *nanosim.Card
}

func (*cardConn) String() string { return "nanosim" }

// Duplex implements conn.Conn. SPI is full duplex.
func (*cardConn) Duplex() conn.Duplex { return conn.Full }

// Tx implements conn.Conn: assert chip select, clock the bytes, deselect.
func (c *cardConn) Tx(w, r []byte) error {
	if err := c.exchange(w, r); err != nil {
		return err
	}
	c.card.SetSelected(false)
	return nil
}

// TxPackets implements spi.Conn. KeepCS holds the card selected across
// packet boundaries, which SD reads and writes depend on.
func (c *cardConn) TxPackets(p []spi.Packet) error {
	for i := range p {
		if p[i].BitsPerWord != 0 && p[i].BitsPerWord != 8 {
			return ErrUnsupportedBits
		}
		if err := c.exchange(p[i].W, p[i].R); err != nil {
			return err
		}
		if !p[i].KeepCS {
			c.card.SetSelected(false)
		}
	}
	return nil
}

func (c *cardConn) exchange(w, r []byte) error {
	n := len(w)
	if n == 0 {
		n = len(r)
	}
	if len(w) != 0 && len(r) != 0 && len(w) != len(r) {
		return fmt.Errorf("periphspi: mismatched buffer lengths %d and %d", len(w), len(r))
	}

	c.card.SetSelected(true)
	for i := range n {
		tx := byte(0xFF)
		if i < len(w) {
			tx = w[i]
		}
		rx := c.card.Produce()
		c.card.Accept(tx)
		if i < len(r) {
			r[i] = rx
		}
	}
	return nil
}
