// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the register map of the Red Pitaya STEMlab 125-14
// FPGA image, as seen from the ARM core through /dev/mem.
package regs // import "github.com/go-lpc/redpitaya/rp/internal/regs"

const (
	HK_BASE = 0x40000000 // housekeeping
	HK_SPAN = 0x1000

	OSC_BASE = 0x40100000 // oscilloscope
	OSC_SPAN = 0x30000
)

// housekeeping
const (
	HK_ID       = 0x00
	HK_DNA_LSB  = 0x04
	HK_DNA_MSB  = 0x08
	HK_ID_MASK  = 0xf
	HK_DNA_MASK = 0x1ffffff
)

// oscilloscope
const (
	OSC_CFG      = 0x00
	OSC_TRIG_SRC = 0x04
	OSC_CHA_THR  = 0x08
	OSC_CHB_THR  = 0x0c
	OSC_DLY      = 0x10
	OSC_DEC      = 0x14
	OSC_WP_CUR   = 0x18
	OSC_WP_TRIG  = 0x1c
	OSC_CHA_HYS  = 0x20
	OSC_CHB_HYS  = 0x24
	OSC_AVG      = 0x28

	OSC_AXI_CHA = 0x50
	OSC_AXI_CHB = 0x70

	OSC_CHA_BUF = 0x10000
	OSC_CHB_BUF = 0x20000
)

// AXI channel block, relative to OSC_AXI_CHx.
const (
	AXI_ADDR_LO = 0x00
	AXI_ADDR_HI = 0x04
	AXI_DLY     = 0x08
	AXI_ENABLE  = 0x0c
	AXI_WP_TRIG = 0x10
	AXI_WP_CUR  = 0x14
)

// OSC_CFG bits.
const (
	CFG_ARM       = 1 << 0
	CFG_RST       = 1 << 1
	CFG_TRIG_ST   = 1 << 2
	CFG_ARM_KEEP  = 1 << 3
	CFG_FILLED    = 1 << 4
	CFG_AXI_CHA_F = 1 << 20
	CFG_AXI_CHB_F = 1 << 21
)

const (
	ADC_BITS = 14
	ADC_MASK = 1<<ADC_BITS - 1

	// default hysteresis, in ADC counts.
	HYST_DEFAULT = 0x14
)
