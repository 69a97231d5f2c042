// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

package periphspi

import (
	"bytes"
	"testing"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	nanosim "github.com/rabidaudio/nanosim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, capacity int) spi.Conn {
	t.Helper()
	card, err := nanosim.New(make([]byte, capacity))
	require.NoError(t, err)

	port := New(card)
	c, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)
	return c
}

func TestConnectValidation(t *testing.T) {
	t.Parallel()
	card, err := nanosim.New(make([]byte, 4096))
	require.NoError(t, err)
	port := New(card)

	_, err = port.Connect(physic.MegaHertz, spi.Mode3, 8)
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	_, err = port.Connect(physic.MegaHertz, spi.Mode0, 16)
	assert.ErrorIs(t, err, ErrUnsupportedBits)
	_, err = port.Connect(0, spi.Mode0, 8)
	assert.Error(t, err)

	assert.NoError(t, port.LimitSpeed(physic.MegaHertz))
	assert.Error(t, port.LimitSpeed(0))
	assert.NoError(t, port.Close())
}

func TestDuplex(t *testing.T) {
	t.Parallel()
	c := connect(t, 4096)
	assert.Equal(t, conn.Full, c.Duplex())
}

func TestCardInitOverPeriphConn(t *testing.T) {
	t.Parallel()
	c := connect(t, 4096)

	// CMD0 with response byte clocked in the same transaction
	rx := make([]byte, 7)
	require.NoError(t, c.Tx([]byte{0x40, 0, 0, 0, 0, 0x95, 0xFF}, rx))
	assert.Equal(t, byte(0x01), rx[6])
}

func TestTxMismatchedBuffers(t *testing.T) {
	t.Parallel()
	c := connect(t, 4096)
	assert.Error(t, c.Tx(make([]byte, 3), make([]byte, 2)))
}

func TestBlockReadWithTxPackets(t *testing.T) {
	t.Parallel()
	card, err := nanosim.New(bytes.Repeat([]byte{0x5A}, 4096))
	require.NoError(t, err)
	port := New(card)
	c, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)

	// init: each command is its own transaction; the emulated card keeps
	// protocol state across deselects
	for _, cmd := range [][]byte{
		{0x40, 0, 0, 0, 0, 0x95, 0xFF},
		{0x40 | 55, 0, 0, 0, 0, 0xFF, 0xFF},
		{0x40 | 41, 0, 0, 0, 0, 0xFF, 0xFF},
	} {
		require.NoError(t, c.Tx(cmd, nil))
	}

	// CMD17: command packet keeps CS asserted, then the response, token,
	// block and trailer are clocked out
	resp := make([]byte, 2+512+2)
	packets := []spi.Packet{
		{W: []byte{0x40 | 17, 0, 0, 2, 0, 0xFF}, KeepCS: true},
		{R: resp},
	}
	require.NoError(t, c.TxPackets(packets))

	assert.Equal(t, byte(0x00), resp[0])
	assert.Equal(t, byte(0xFE), resp[1])
	assert.Equal(t, bytes.Repeat([]byte{0x5A}, 512), resp[2:2+512])
}
