// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

// Command interactive runs payload firmware against a simulated
// microcontroller with an emulated SD card, driven from the terminal.
//
// Usage:
//
//	interactive [flags] <firmware image> <card image>
//
// The card image is a flat binary file whose size is the card capacity;
// create one with mkcard or `truncate -s 64M card.img`. On the console,
// voltage=/current=/temperature= set simulated sensor inputs, quit flushes
// the card image and exits, and any other line is fed to the firmware as
// serial input. Exits 0 on a graceful CPU stop, 1 on a crash or setup
// failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	nanosim "github.com/rabidaudio/nanosim"
	"github.com/rabidaudio/nanosim/harness"
	"github.com/rabidaudio/nanosim/machine"
	_ "github.com/rabidaudio/nanosim/machine/virtual"
	"github.com/rabidaudio/nanosim/serialbridge"
	"github.com/rabidaudio/nanosim/store"
)

// Package-level flag variables
var (
	flagBackend string
	flagSerial  string
	flagBaud    int
	flagDebug   bool
)

func init() {
	flag.StringVar(&flagBackend, "mcu", "virtual", "Simulator backend to run the firmware on")
	flag.StringVar(&flagSerial, "serial", "", "Host serial port to bridge to the simulated UART")
	flag.IntVar(&flagBaud, "baud", 115200, "Baud rate for the bridged serial port")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <firmware image> <card image>\n", os.Args[0])
		flag.PrintDefaults()
		return 1
	}
	if flagDebug {
		nanosim.SetDebugEnabled(true)
		if logPath, err := nanosim.InitSessionLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			fmt.Printf("Session log: %v\n", logPath)
			defer func() { _ = nanosim.CloseSessionLog() }()
		}
	}

	m, err := machine.New(flagBackend, flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading firmware: %v (backends: %v)\n",
			err, machine.Backends())
		return 1
	}

	img, err := store.Open(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing SD card: %v\n", err)
		return 1
	}
	defer func() {
		if err := img.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving SD card: %v\n", err)
		}
	}()

	if err := attachCard(m, img); err != nil {
		fmt.Fprintf(os.Stderr, "Error wiring SD card: %v\n", err)
		return 1
	}

	h, err := harness.New(m, img, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// SIGINT/SIGTERM stop the run loop, which flushes the card image
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagSerial != "" {
		bridge, err := serialbridge.Open(flagSerial, flagBaud, m, h)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening serial bridge: %v\n", err)
			return 1
		}
		defer func() { _ = bridge.Close() }()
	}

	go h.ConsoleLoop(os.Stdin, stop)

	fmt.Println("About to start")
	code, err := h.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return code
}

// attachCard creates the emulated card on the image and connects it to the
// machine's SPI and chip-select lines. The card must be wired before the
// first simulated instruction so the firmware's initial CS edge is seen.
func attachCard(m machine.Machine, img *store.Image) error {
	card, err := nanosim.New(img.Data())
	if err != nil {
		return err
	}
	adapter := nanosim.Attach(card)

	mosi, err := m.Line(machine.LineSPIOut)
	if err != nil {
		return err
	}
	mosi.Connect(adapter.MOSI())

	miso, err := m.Line(machine.LineSPIIn)
	if err != nil {
		return err
	}
	adapter.MISO().Connect(miso)

	cs, err := m.Line(machine.LineChipSelect)
	if err != nil {
		return err
	}
	cs.Connect(adapter.CS())
	return nil
}
