// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rp

import (
	"log"
	"os"
)

type config struct {
	msg    *log.Logger
	devmem string

	reserved struct {
		start uint32
		size  uint32
	}
}

func newConfig() config {
	cfg := config{
		msg:    log.New(os.Stdout, "rp: ", 0),
		devmem: "/dev/mem",
	}
	cfg.reserved.start = 0x01000000
	cfg.reserved.size = 0x01000000
	return cfg
}

// Option configures a Board.
type Option func(*config)

// WithDevMem sets the memory device to map the FPGA from.
func WithDevMem(fname string) Option {
	return func(cfg *config) {
		cfg.devmem = fname
	}
}

// WithReservedMemory sets the physical memory region reserved for the
// AXI acquisition path.
func WithReservedMemory(start, size uint32) Option {
	return func(cfg *config) {
		cfg.reserved.start = start
		cfg.reserved.size = size
	}
}

func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
