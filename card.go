// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

// Package nanosim emulates an SPI-mode SD card at the byte level, for
// running unmodified flight firmware against a simulated microcontroller
// instead of real hardware. The Card type models the card's command/response
// state machine and block transfer protocol; Adapter wires a Card into the
// host simulator's interrupt lines.
//
// The emulation covers exactly the command set the payload firmware
// exercises: CMD0, CMD13, CMD17/18, CMD24/25, CMD55/ACMD41 and CMD58, on a
// standard-capacity (byte-addressed) card. Multi-block transfers are flagged
// but repeated-block framing is not modeled.
package nanosim

import (
	"errors"
	"fmt"

	"github.com/rabidaudio/nanosim/internal/crc"
)

// BlockSize is the data block size in bytes. The emulation is fixed at the
// standard 512-byte block length; SET_BLOCKLEN is not implemented.
const BlockSize = 512

// commandLength is the wire size of a command frame, and also the largest
// response the card ever queues (R3 is 5 bytes, a CRC16 trailer is 2).
const commandLength = 6

// ErrImageTooSmall is returned by New when the backing image cannot hold a
// single block.
var ErrImageTooSmall = errors.New("card image smaller than one block")

// State is the card protocol state.
type State uint8

const (
	// StateBoot is the power-on state. The only legal command is CMD0.
	StateBoot State = iota
	// StateSPI means the card has entered SPI mode but is not initialized.
	StateSPI
	// StateSPIAppCmd means CMD55 arrived during StateSPI; the card is
	// waiting for ACMD41 to finish initialization.
	StateSPIAppCmd
	// StateIdle is the initialized, command-accepting state.
	StateIdle
	// StateIdleAppCmd means CMD55 arrived during StateIdle; the next
	// command is interpreted as an application command.
	StateIdleAppCmd
	// StateResponse means the card is clocking out a queued response.
	StateResponse
	// StateReadBlock means the card is streaming a 512-byte block plus
	// its CRC16 trailer.
	StateReadBlock
	// StateWriteToken means the card is waiting for the 0xFE start-block
	// token that precedes write data.
	StateWriteToken
	// StateWriteData means the card is accumulating 512 bytes of write
	// data.
	StateWriteData
	// StateWriteCRC means the card is receiving the two-byte CRC16
	// trailer of a write.
	StateWriteCRC
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "BOOT"
	case StateSPI:
		return "SPI"
	case StateSPIAppCmd:
		return "SPI_ACMD"
	case StateIdle:
		return "IDLE"
	case StateIdleAppCmd:
		return "IDLE_ACMD"
	case StateResponse:
		return "CMD_RESPONSE"
	case StateReadBlock:
		return "READ_BLOCK"
	case StateWriteToken:
		return "WRITE_STBT"
	case StateWriteData:
		return "WRITE_LISTEN"
	case StateWriteCRC:
		return "WRITE_CRC"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Wire bytes of the SPI-mode protocol.
const (
	r1Ready          = 0x00
	r1Idle           = 0x01
	r1IllegalCommand = 0x04
	r1AddressError   = 0x20
	tokenStartBlock  = 0xFE
	dataAccepted     = 0x05
	dataCRCError     = 0x0B
	fillByte         = 0xFF
)

// Card is one emulated SD card. It is owned by a single simulated SPI bus
// and advances strictly in lockstep with simulated clock edges; no method is
// safe for concurrent use.
type Card struct {
	onBusReset func()
	mass       []byte

	state     State
	afterSend State

	selected   bool
	enforceCRC bool

	cmd    [commandLength]byte
	cmdLen int

	resp    [commandLength]byte
	respLen int
	respPos int

	head        int
	transferred int
	sum         crc.CRC16
	crcFirst    bool
	// TODO: re-arm the transfer after each block when set, until CMD12
	// or a stop token. For now CMD18/CMD25 move a single block.
	multiBlock bool
}

// New creates a card backed by the given image bytes. The slice length is
// the card capacity; writes mutate the slice in place, so a store.Image's
// Data gives a durable card. The card starts powered on in StateBoot.
func New(mass []byte) (*Card, error) {
	if len(mass) < BlockSize {
		return nil, fmt.Errorf("%w: have %d bytes", ErrImageTooSmall, len(mass))
	}
	c := &Card{mass: mass}
	c.Reset()
	return c, nil
}

// Reset power-cycles the card: back to StateBoot, command and response
// buffers cleared, CRC enforcement off. Chip select is driven externally and
// is deliberately left alone.
func (c *Card) Reset() {
	Debugf("sd: reset")
	c.enforceCRC = false
	c.cmdLen = 0
	c.respLen = 0
	c.respPos = 0
	c.state = StateBoot
	// read/write cursors are re-armed when a block command arrives
}

// busReset handles an out-of-protocol byte received while the card is
// transmitting. The transaction is unrecoverable: full reset, and an empty
// byte signaled to the bus.
func (c *Card) busReset() {
	c.Reset()
	if c.onBusReset != nil {
		c.onBusReset()
	}
}

// OnBusReset registers a callback fired when a protocol violation forces a
// full reset mid-transmission. The adapter uses it to raise 0x00 on MISO.
func (c *Card) OnBusReset(fn func()) { c.onBusReset = fn }

// Capacity returns the card capacity in bytes.
func (c *Card) Capacity() int64 { return int64(len(c.mass)) }

// GetState returns the current protocol state.
func (c *Card) GetState() State { return c.state }

// Selected reports the logical chip-select flag.
func (c *Card) Selected() bool { return c.selected }

// SetSelected sets the logical chip-select flag. Selection has no protocol
// side effect; while deselected the adapter simply stops clocking bytes in.
func (c *Card) SetSelected(selected bool) { c.selected = selected }

// SetEnforceCRC controls validation of write-block CRC16 trailers. Off by
// default, and cleared again by any reset (including CMD0), matching a
// power-cycle. Command-frame CRC7 is never enforced.
func (c *Card) SetEnforceCRC(enforce bool) { c.enforceCRC = enforce }

// queue replaces the outbound response with the given bytes and switches to
// StateResponse. All response variants (R1 flavors, R2, R3, data-response
// tokens, CRC trailers) go through here so that bit-identical responses with
// different meanings cannot drift apart.
func (c *Card) queue(response ...byte) {
	n := copy(c.resp[:], response)
	c.respLen = n
	c.state = StateResponse
}

func (c *Card) queueCRC16() {
	c.queue(c.sum.High(), c.sum.Low())
}

// Produce returns the next MISO byte. Called once per SPI clock, before the
// matching Accept, since both directions are sampled on the same edge.
func (c *Card) Produce() byte {
	switch c.state {
	case StateReadBlock:
		b := c.mass[c.head]
		c.sum = c.sum.Update(b)
		c.head++
		c.transferred++
		if c.transferred == BlockSize {
			Debugf("sd: block fully read, queueing crc16")
			c.queueCRC16()
		}
		return b
	case StateWriteCRC:
		return dataAccepted
	case StateResponse:
		b := c.resp[c.respPos]
		c.respPos++
		if c.respPos == c.respLen {
			c.state = c.afterSend
			c.afterSend = StateIdle
			c.respPos = 0
		}
		return b
	default:
		return fillByte
	}
}

// Accept consumes one MOSI byte. Called once per SPI clock while selected.
func (c *Card) Accept(b byte) {
	switch c.state {
	case StateWriteToken:
		if b == tokenStartBlock {
			Debugf("sd: received start block token")
			c.state = StateWriteData
		}
	case StateWriteData:
		c.mass[c.head] = b
		c.head++
		c.sum = c.sum.Update(b)
		c.transferred++
		if c.transferred == BlockSize {
			Debugf("sd: block received, expecting crc16")
			c.crcFirst = true
			c.state = StateWriteCRC
		}
	case StateWriteCRC:
		c.acceptWriteCRC(b)
	case StateResponse, StateReadBlock:
		// The card cannot transmit and take a new command at once in
		// this model. Anything but filler is a protocol violation.
		if b != fillByte {
			Debugf("sd: received 0x%02X while transmitting", b)
			c.busReset()
		}
	default:
		// Command-accepting states. Filler is ignored unless a frame
		// is already partially received.
		if b != fillByte || c.cmdLen > 0 {
			c.cmd[c.cmdLen] = b
			c.cmdLen++
			if c.cmdLen == commandLength {
				c.cmdLen = 0
				c.dispatch()
			}
		}
	}
}

// acceptWriteCRC checks one byte of the write trailer. The first received
// byte is compared against the low-order computed byte and the second
// against the high-order byte, even though the card transmits its own
// trailers MSB-first. That cross-order check is preserved from the observed
// hardware-facing behavior; firmware in the field never enables enforcement,
// and flipping it here would silently change what such firmware sees.
func (c *Card) acceptWriteCRC(b byte) {
	expected := c.sum.High()
	if c.crcFirst {
		expected = c.sum.Low()
	}
	Debugf("sd: crc byte: expected 0x%02X, got 0x%02X", expected, b)
	c.afterSend = StateIdle
	if b == expected || !c.enforceCRC {
		if !c.crcFirst {
			c.queue(dataAccepted)
		}
	} else {
		// Queued as soon as the mismatch is seen, which can be after
		// only the first trailer byte.
		c.queue(dataCRCError)
	}
	c.crcFirst = false
}
