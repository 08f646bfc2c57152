// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rp

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/redpitaya/rp/internal/regs"
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// board holds the register banks of the FPGA and the first error
// encountered while accessing them.
type board struct {
	err  error
	xbuf [4]byte
	regs pins
}

type pins struct {
	hk struct {
		id     reg32
		dnaLSB reg32
		dnaMSB reg32
	}
	osc struct {
		cfg    reg32
		src    reg32
		thr    [2]reg32
		dly    reg32
		dec    reg32
		wpCur  reg32
		wpTrig reg32
		hys    [2]reg32
		avg    reg32
		axi    [2]axiPins
		buf    [2]ring
	}
}

type axiPins struct {
	lo     reg32
	hi     reg32
	dly    reg32
	enable reg32
	wpTrig reg32
	wpCur  reg32
}

func (brd *board) readU32(r io.ReaderAt, off int64) uint32 {
	if brd.err != nil {
		return 0
	}
	_, brd.err = r.ReadAt(brd.xbuf[:4], off)
	if brd.err != nil {
		brd.err = fmt.Errorf("rp: could not read register 0x%x: %w", off, brd.err)
		return 0
	}
	return binary.LittleEndian.Uint32(brd.xbuf[:4])
}

func (brd *board) writeU32(w io.WriterAt, off int64, v uint32) {
	if brd.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(brd.xbuf[:4], v)
	_, brd.err = w.WriteAt(brd.xbuf[:4], off)
	if brd.err != nil {
		brd.err = fmt.Errorf("rp: could not write register 0x%x: %w", off, brd.err)
		return
	}
}

func (brd *board) bindHK(hk rwer) {
	brd.regs.hk.id = newReg32(brd, hk, regs.HK_ID)
	brd.regs.hk.dnaLSB = newReg32(brd, hk, regs.HK_DNA_LSB)
	brd.regs.hk.dnaMSB = newReg32(brd, hk, regs.HK_DNA_MSB)
}

func (brd *board) bindOsc(osc rwer) {
	brd.regs.osc.cfg = newReg32(brd, osc, regs.OSC_CFG)
	brd.regs.osc.src = newReg32(brd, osc, regs.OSC_TRIG_SRC)
	brd.regs.osc.thr[CH1] = newReg32(brd, osc, regs.OSC_CHA_THR)
	brd.regs.osc.thr[CH2] = newReg32(brd, osc, regs.OSC_CHB_THR)
	brd.regs.osc.dly = newReg32(brd, osc, regs.OSC_DLY)
	brd.regs.osc.dec = newReg32(brd, osc, regs.OSC_DEC)
	brd.regs.osc.wpCur = newReg32(brd, osc, regs.OSC_WP_CUR)
	brd.regs.osc.wpTrig = newReg32(brd, osc, regs.OSC_WP_TRIG)
	brd.regs.osc.hys[CH1] = newReg32(brd, osc, regs.OSC_CHA_HYS)
	brd.regs.osc.hys[CH2] = newReg32(brd, osc, regs.OSC_CHB_HYS)
	brd.regs.osc.avg = newReg32(brd, osc, regs.OSC_AVG)
	brd.regs.osc.axi[CH1] = newAXIPins(brd, osc, regs.OSC_AXI_CHA)
	brd.regs.osc.axi[CH2] = newAXIPins(brd, osc, regs.OSC_AXI_CHB)
	brd.regs.osc.buf[CH1] = newRing(brd, osc, regs.OSC_CHA_BUF)
	brd.regs.osc.buf[CH2] = newRing(brd, osc, regs.OSC_CHB_BUF)
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(brd *board, rw rwer, offset int64) reg32 {
	return reg32{
		r: func() uint32 {
			return brd.readU32(rw, offset)
		},
		w: func(v uint32) {
			brd.writeU32(rw, offset, v)
		},
	}
}

func newAXIPins(brd *board, rw rwer, offset int64) axiPins {
	return axiPins{
		lo:     newReg32(brd, rw, offset+regs.AXI_ADDR_LO),
		hi:     newReg32(brd, rw, offset+regs.AXI_ADDR_HI),
		dly:    newReg32(brd, rw, offset+regs.AXI_DLY),
		enable: newReg32(brd, rw, offset+regs.AXI_ENABLE),
		wpTrig: newReg32(brd, rw, offset+regs.AXI_WP_TRIG),
		wpCur:  newReg32(brd, rw, offset+regs.AXI_WP_CUR),
	}
}

// ring is the on-chip sample buffer of a channel.
// Each sample occupies a 32b word.
type ring struct {
	brd  *board
	rw   rwer
	addr int64
}

func newRing(brd *board, rw rwer, offset int64) ring {
	return ring{brd: brd, rw: rw, addr: offset}
}

// r reads n samples starting at position pos, wrapping around the end
// of the buffer.
func (rg *ring) r(pos uint32, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		idx := (int64(pos) + int64(i)) % BufferSize
		out[i] = adc14(rg.brd.readU32(rg.rw, rg.addr+4*idx))
	}
	return out
}

// adc14 sign-extends a 14b ADC word.
func adc14(v uint32) int16 {
	v &= regs.ADC_MASK
	if v&(1<<(regs.ADC_BITS-1)) != 0 {
		return int16(int32(v) - (1 << regs.ADC_BITS))
	}
	return int16(v)
}
