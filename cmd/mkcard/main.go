// nanosim
// Copyright (c) 2026 rabidaudio
// SPDX-License-Identifier: MIT

// Command mkcard creates SD card image files for the simulator.
//
// Usage:
//
//	mkcard [flags] <card image> [file ...]
//
// By default the image is a sparse flat binary of the requested size,
// which is what raw-block firmware expects. With -format the image gets
// an MBR partition table and a FAT32 filesystem, and any listed files
// are copied into the filesystem root.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"

	nanosim "github.com/rabidaudio/nanosim"
)

const (
	sectorSize     = 512
	partitionStart = 2048 // sectors, standard 1 MiB alignment
)

var (
	flagSize   string
	flagFormat bool
	flagLabel  string
	flagForce  bool
)

func init() {
	flag.StringVar(&flagSize, "size", "64M", "Card capacity, with optional K/M/G suffix")
	flag.BoolVar(&flagFormat, "format", false, "Partition the image and create a FAT32 filesystem")
	flag.StringVar(&flagLabel, "label", "NANOSIM", "Volume label for -format")
	flag.BoolVar(&flagForce, "force", false, "Overwrite an existing image")
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <card image> [file ...]\n", os.Args[0])
		flag.PrintDefaults()
		return 1
	}
	path := flag.Arg(0)

	size, err := parseSize(flagSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid size %q: %v\n", flagSize, err)
		return 1
	}
	if size < nanosim.BlockSize {
		fmt.Fprintf(os.Stderr, "Error: size %v is smaller than one block (%v bytes)\n",
			flagSize, nanosim.BlockSize)
		return 1
	}
	if size%sectorSize != 0 {
		fmt.Fprintf(os.Stderr, "Error: size %v is not a multiple of %v bytes\n",
			flagSize, sectorSize)
		return 1
	}

	if !flagForce {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "Error: %v already exists (use -force to overwrite)\n", path)
			return 1
		}
	}

	if !flagFormat {
		if flag.NArg() > 1 {
			fmt.Fprintln(os.Stderr, "Error: copying files requires -format")
			return 1
		}
		if err := createFlat(path, size); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Created %v (%v bytes, unformatted)\n", path, size)
		return 0
	}

	if err := createFormatted(path, size, flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = os.Remove(path)
		return 1
	}
	fmt.Printf("Created %v (%v bytes, FAT32)\n", path, size)
	return 0
}

// createFlat writes a sparse image of all zero bytes. Reads of unwritten
// blocks return zeros, matching a freshly erased card.
func createFlat(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// createFormatted builds an MBR-partitioned image with a single FAT32
// filesystem and copies the named host files into its root directory.
func createFormatted(path string, size int64, files []string) error {
	if flagForce {
		// diskfs.Create refuses to reuse an existing file
		_ = os.Remove(path)
	}
	dsk, err := diskfs.Create(path, size, diskfs.SectorSizeDefault)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}

	table := &mbr.Table{
		LogicalSectorSize:  sectorSize,
		PhysicalSectorSize: sectorSize,
		Partitions: []*mbr.Partition{
			{
				Bootable: false,
				Type:     mbr.Fat32LBA,
				Start:    partitionStart,
				Size:     uint32(size/sectorSize) - partitionStart,
			},
		},
	}
	if err := dsk.Partition(table); err != nil {
		return fmt.Errorf("partition image: %w", err)
	}

	fs, err := dsk.CreateFilesystem(disk.FilesystemSpec{
		Partition:   1,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: flagLabel,
	})
	if err != nil {
		return fmt.Errorf("create filesystem: %w", err)
	}

	for _, name := range files {
		if err := copyIn(fs, name); err != nil {
			return err
		}
	}
	return dsk.Close()
}

func copyIn(fs filesystem.FileSystem, name string) error {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := fs.OpenFile("/"+filepath.Base(name), os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("create %v: %w", filepath.Base(name), err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %v: %w", name, err)
	}
	return nil
}

// parseSize parses a byte count with an optional K, M, or G suffix.
func parseSize(s string) (int64, error) {
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult = 1 << 10
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		mult = 1 << 30
		s = strings.TrimSuffix(s, "G")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return n * mult, nil
}
