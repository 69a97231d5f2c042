// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

package nanosim

import (
	"encoding/binary"

	"github.com/rabidaudio/nanosim/internal/crc"
)

// SD SPI-mode command indexes handled by the emulation.
const (
	cmdGoIdleState   = 0  // CMD0: reset, enter SPI mode
	cmdSendStatus    = 13 // CMD13: R2 status
	cmdReadSingle    = 17 // CMD17: read one block
	cmdReadMultiple  = 18 // CMD18: read blocks (framing not modeled)
	cmdWriteSingle   = 24 // CMD24: write one block
	cmdWriteMultiple = 25 // CMD25: write blocks (framing not modeled)
	acmdSendOpCond   = 41 // ACMD41: finish initialization
	cmdAppCmd        = 55 // CMD55: next command is an ACMD
	cmdReadOCR       = 58 // CMD58: R3 operating conditions
)

// dispatch runs after the sixth frame byte arrives: decode the frame, queue
// the response and update card state. The frame CRC7 is not validated;
// common host libraries send garbage there for everything past CMD0, and
// commands are processed regardless.
func (c *Card) dispatch() {
	c.afterSend = c.state
	c.respPos = 0

	index := c.cmd[0] & 0x3F
	arg := binary.BigEndian.Uint32(c.cmd[1:5])
	Debugf("sd: command %d arg %d in %v", index, arg, c.state)

	// Only CMD0 exists before the card is in SPI mode.
	if c.state == StateBoot && index != cmdGoIdleState {
		c.queue(r1IllegalCommand)
		return
	}

	switch c.state {
	case StateSPI:
		// Probably stricter than a real card: many commands are
		// likely legal between CMD0 and ACMD41, but the firmware
		// never sends them.
		if index == cmdAppCmd {
			c.afterSend = StateSPIAppCmd
			c.queue(r1Idle)
			return
		}
		c.queue(r1IllegalCommand)
		return
	case StateSPIAppCmd:
		if index == acmdSendOpCond {
			c.afterSend = StateIdle
			c.queue(r1Ready)
			return
		}
		c.queue(r1IllegalCommand)
		return
	case StateIdleAppCmd:
		// CMD55 arms exactly one application command. ACMD41 is the
		// only ACMD the firmware uses and it is meaningless once
		// initialized, so every ACMD here is illegal; the card still
		// falls back to plain IDLE afterwards.
		c.afterSend = StateIdle
		c.queue(r1IllegalCommand)
		return
	}

	switch index {
	case cmdGoIdleState:
		c.Reset()
		c.afterSend = StateSPI
		c.queue(r1Idle)
	case cmdSendStatus:
		// R2, never reporting errors
		c.queue(0x00, 0x00)
	case cmdReadSingle, cmdReadMultiple:
		Debugf("sd: read block at byte %d", arg)
		if !c.seek(arg) {
			c.queue(r1AddressError)
			return
		}
		c.multiBlock = index == cmdReadMultiple
		c.afterSend = StateReadBlock
		c.queue(r1Ready, tokenStartBlock)
	case cmdWriteSingle, cmdWriteMultiple:
		Debugf("sd: write block at byte %d", arg)
		if !c.seek(arg) {
			c.queue(r1AddressError)
			return
		}
		c.multiBlock = index == cmdWriteMultiple
		c.afterSend = StateWriteToken
		c.queue(r1Ready)
	case cmdAppCmd:
		c.afterSend = StateIdleAppCmd
		c.queue(r1Ready)
	case cmdReadOCR:
		// R3 for a standard-capacity card: power-up done, every
		// voltage window supported.
		c.queue(r1Ready, 0x81, 0xFF, 0x00, 0x00)
	default:
		Debugf("sd: unknown/illegal command %d", index)
		c.queue(r1IllegalCommand)
	}
}

// seek validates a block start address and arms the transfer cursor. The
// address is rejected, with no cursor or CRC change, if a full block
// starting there would run past the end of the card. Addresses never clamp
// or wrap.
func (c *Card) seek(addr uint32) bool {
	if uint64(addr) > uint64(len(c.mass))-BlockSize {
		Debugf("sd: illegal start byte %d (capacity %d)", addr, len(c.mass))
		return false
	}
	c.head = int(addr)
	c.transferred = 0
	c.sum = crc.Init16
	return true
}
