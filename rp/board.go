// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/go-lpc/redpitaya/internal/mmap"
	"github.com/go-lpc/redpitaya/rp/internal/regs"
)

var _ Driver = (*Board)(nil)

// Board drives the acquisition engine of a Red Pitaya through the
// memory-mapped FPGA registers.
type Board struct {
	msg *log.Logger
	cfg config

	mem struct {
		fd  *os.File
		hk  *mmap.Handle
		osc *mmap.Handle
		ddr *mmap.Handle
	}
	ddr rwer // AXI reserved memory, mapped on first use

	brd  board
	gain [2]PinState
	ext  float64 // external trigger level, not backed by a register
	axi  [2]axiWindow
}

type axiWindow struct {
	addr uint32 // first byte of the channel buffer
	n    int    // number of samples
}

// Open opens the memory device and maps the FPGA register banks.
func Open(opts ...Option) (*Board, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	mem, err := os.OpenFile(cfg.devmem, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, &Error{Op: "Open", Args: []interface{}{cfg.devmem}, Code: EOMD, Err: err}
	}
	defer func() {
		if err != nil {
			_ = mem.Close()
		}
	}()

	hk, err := mmap.Map(mem, regs.HK_BASE, regs.HK_SPAN)
	if err != nil {
		return nil, &Error{Op: "Open", Args: []interface{}{cfg.devmem}, Code: EMMD, Err: err}
	}
	defer func() {
		if err != nil {
			_ = hk.Close()
		}
	}()

	osc, err := mmap.Map(mem, regs.OSC_BASE, regs.OSC_SPAN)
	if err != nil {
		return nil, &Error{Op: "Open", Args: []interface{}{cfg.devmem}, Code: EMMD, Err: err}
	}

	b := newBoard(cfg, hk, osc, nil)
	b.mem.fd = mem
	b.mem.hk = hk
	b.mem.osc = osc

	return b, nil
}

func newBoard(cfg config, hk, osc, ddr rwer) *Board {
	b := &Board{
		msg: cfg.msg,
		cfg: cfg,
		ddr: ddr,
	}
	b.brd.bindHK(hk)
	b.brd.bindOsc(osc)
	return b
}

// Close unmaps the register banks and closes the memory device.
func (b *Board) Close() error {
	if b.mem.fd == nil {
		return nil
	}

	var errDDR error
	if b.mem.ddr != nil {
		errDDR = b.mem.ddr.Close()
	}
	var (
		errHK  = b.mem.hk.Close()
		errOsc = b.mem.osc.Close()
		errMem = b.mem.fd.Close()
	)

	b.mem.fd = nil
	b.mem.hk = nil
	b.mem.osc = nil
	b.mem.ddr = nil
	b.ddr = nil

	if errMem != nil {
		return &Error{Op: "Close", Code: ECMD, Err: errMem}
	}

	if errHK != nil {
		return &Error{Op: "Close", Code: EUMD, Err: fmt.Errorf("could not unmap housekeeping: %w", errHK)}
	}

	if errOsc != nil {
		return &Error{Op: "Close", Code: EUMD, Err: fmt.Errorf("could not unmap oscilloscope: %w", errOsc)}
	}

	if errDDR != nil {
		return &Error{Op: "Close", Code: EUMD, Err: fmt.Errorf("could not unmap reserved memory: %w", errDDR)}
	}

	return nil
}

// done reports, and clears, the first register access error of an operation.
func (b *Board) done(code StatusCode, op string, args ...interface{}) error {
	err := b.brd.err
	if err == nil {
		return nil
	}
	b.brd.err = nil
	return &Error{Op: op, Args: args, Code: code, Err: err}
}

func (b *Board) ID() (uint32, error) {
	id := b.brd.regs.hk.id.r() & regs.HK_ID_MASK
	return id, b.done(EFRB, "ID")
}

func (b *Board) DNA() (uint64, error) {
	var (
		lsb = uint64(b.brd.regs.hk.dnaLSB.r())
		msb = uint64(b.brd.regs.hk.dnaMSB.r() & regs.HK_DNA_MASK)
	)
	return msb<<32 | lsb, b.done(EFRB, "DNA")
}

func (b *Board) SetDecimation(dec Decimation) error {
	if !dec.Valid() {
		return Errorf(EOOR, "SetDecimation", dec)
	}
	b.brd.regs.osc.dec.w(uint32(dec))
	return b.done(EFWB, "SetDecimation", dec)
}

func (b *Board) DecimationFactor() (int, error) {
	dec := b.brd.regs.osc.dec.r()
	return int(dec), b.done(EFRB, "DecimationFactor")
}

func (b *Board) SamplingRate() (float64, error) {
	dec := b.brd.regs.osc.dec.r()
	if err := b.done(EFRB, "SamplingRate"); err != nil {
		return 0, err
	}
	if dec == 0 {
		return 0, Errorf(EIPV, "SamplingRate")
	}
	return MaxSamplingRate / float64(dec), nil
}

func (b *Board) SetAveraging(enable bool) error {
	b.brd.regs.osc.avg.w(b2u(enable))
	return b.done(EFWB, "SetAveraging", enable)
}

func (b *Board) Averaging() (bool, error) {
	v := b.brd.regs.osc.avg.r()
	return v&1 == 1, b.done(EFRB, "Averaging")
}

func (b *Board) SetTriggerSource(src TriggerSource) error {
	if !src.Valid() {
		return Errorf(EOOR, "SetTriggerSource", src)
	}
	b.brd.regs.osc.src.w(uint32(src))
	return b.done(EFWB, "SetTriggerSource", src)
}

// TriggerState returns the trigger state.
// The trigger source register is cleared by the FPGA once triggered.
func (b *Board) TriggerState() (TriggerState, error) {
	src := b.brd.regs.osc.src.r()
	if err := b.done(EFRB, "TriggerState"); err != nil {
		return Waiting, err
	}
	if src == 0 {
		return Triggered, nil
	}
	return Waiting, nil
}

func (b *Board) SetTriggerLevel(ch TriggerChannel, volts float64) error {
	const op = "SetTriggerLevel"
	switch ch {
	case TrigCH1, TrigCH2:
		fs := b.gain[ch].FullScale()
		if math.Abs(volts) > fs {
			return Errorf(EOOR, op, ch, volts)
		}
		cnt := Counts(volts, b.gain[ch])
		b.brd.regs.osc.thr[ch].w(uint32(cnt) & regs.ADC_MASK)
		return b.done(EFWB, op, ch, volts)
	case TrigEXT:
		b.ext = volts
		return nil
	default:
		return Errorf(EOOR, op, ch, volts)
	}
}

func (b *Board) TriggerLevel(ch TriggerChannel) (float64, error) {
	const op = "TriggerLevel"
	switch ch {
	case TrigCH1, TrigCH2:
		raw := adc14(b.brd.regs.osc.thr[ch].r())
		if err := b.done(EFRB, op, ch); err != nil {
			return 0, err
		}
		return float64(Volts(raw, b.gain[ch])), nil
	case TrigEXT:
		return b.ext, nil
	default:
		return 0, Errorf(EOOR, op, ch)
	}
}

func (b *Board) SetTriggerHysteresis(volts float64) error {
	const op = "SetTriggerHysteresis"
	if volts < 0 {
		return Errorf(EOOR, op, volts)
	}
	for _, ch := range Channels {
		if volts > b.gain[ch].FullScale() {
			return Errorf(EOOR, op, volts)
		}
		cnt := Counts(volts, b.gain[ch])
		b.brd.regs.osc.hys[ch].w(uint32(cnt) & regs.ADC_MASK)
	}
	return b.done(EFWB, op, volts)
}

func (b *Board) TriggerHysteresis() (float64, error) {
	raw := adc14(b.brd.regs.osc.hys[CH1].r())
	if err := b.done(EFRB, "TriggerHysteresis"); err != nil {
		return 0, err
	}
	return float64(Volts(raw, b.gain[CH1])), nil
}

// SetTriggerDelay sets the number of decimated samples written after
// the trigger. Negative delays are clamped to 0.
func (b *Board) SetTriggerDelay(delay int) error {
	if delay < 0 {
		b.msg.Printf("trigger delay %d clamped to 0", delay)
		delay = 0
	}
	b.brd.regs.osc.dly.w(uint32(delay))
	return b.done(EFWB, "SetTriggerDelay", delay)
}

func (b *Board) TriggerDelay() (int, error) {
	v := b.brd.regs.osc.dly.r()
	return int(v), b.done(EFRB, "TriggerDelay")
}

func (b *Board) BufferFillState() (bool, error) {
	v := b.brd.regs.osc.cfg.r()
	return v&regs.CFG_FILLED != 0, b.done(EFRB, "BufferFillState")
}

// SetGain records the position of the LV/HV jumper of a channel.
// It drives the conversion between volts and ADC counts.
func (b *Board) SetGain(ch Channel, st PinState) error {
	if ch > CH2 || st > High {
		return Errorf(EOOR, "SetGain", ch, st)
	}
	b.gain[ch] = st
	return nil
}

func (b *Board) Gain(ch Channel) (PinState, error) {
	if ch > CH2 {
		return Low, Errorf(EOOR, "Gain", ch)
	}
	return b.gain[ch], nil
}

func (b *Board) Start() error {
	b.brd.regs.osc.cfg.w(regs.CFG_ARM)
	return b.done(EFWB, "Start")
}

func (b *Board) Stop() error {
	b.brd.regs.osc.cfg.w(regs.CFG_RST)
	return b.done(EFWB, "Stop")
}

// ResetFPGA resets the acquisition state machine and restores the
// default acquisition settings.
func (b *Board) ResetFPGA() error {
	osc := &b.brd.regs.osc
	osc.cfg.w(regs.CFG_RST)
	osc.cfg.w(0)
	osc.src.w(uint32(TrigSrcDisabled))
	osc.dly.w(0)
	osc.dec.w(uint32(Dec1))
	osc.avg.w(1)
	for _, ch := range Channels {
		osc.thr[ch].w(0)
		osc.hys[ch].w(regs.HYST_DEFAULT)
		osc.axi[ch].enable.w(0)
	}
	return b.done(EFWB, "ResetFPGA")
}

func (b *Board) OldestDataRaw(ch Channel, n int) ([]int16, error) {
	const op = "OldestDataRaw"
	if ch > CH2 || n <= 0 || n > BufferSize {
		return nil, Errorf(EOOR, op, ch, n)
	}
	wp := b.brd.regs.osc.wpCur.r()
	pos := (wp + 1) % BufferSize
	raw := b.brd.regs.osc.buf[ch].r(pos, n)
	if err := b.done(EFRB, op, ch, n); err != nil {
		return nil, err
	}
	return raw, nil
}

func (b *Board) OldestDataV(ch Channel, n int) ([]float32, error) {
	raw, err := b.OldestDataRaw(ch, n)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Op = "OldestDataV"
		}
		return nil, err
	}
	return b.volts(ch, raw), nil
}

func (b *Board) volts(ch Channel, raw []int16) []float32 {
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = Volts(v, b.gain[ch])
	}
	return out
}

func (b *Board) MemoryRegion() (start, size uint32, err error) {
	return b.cfg.reserved.start, b.cfg.reserved.size, nil
}

func (b *Board) AXISetDecimationFactor(dec Decimation) error {
	if !dec.Valid() {
		return Errorf(EOOR, "AXISetDecimationFactor", dec)
	}
	b.brd.regs.osc.dec.w(uint32(dec))
	return b.done(EFWB, "AXISetDecimationFactor", dec)
}

func (b *Board) AXISetBufferSamples(ch Channel, addr uint32, n int) error {
	const op = "AXISetBufferSamples"
	var (
		beg = uint64(b.cfg.reserved.start)
		end = beg + uint64(b.cfg.reserved.size)
		hi  = uint64(addr) + 2*uint64(n)
	)
	if ch > CH2 || n <= 0 || uint64(addr) < beg || hi > end {
		return Errorf(EOOR, op, ch, addr, n)
	}
	axi := &b.brd.regs.osc.axi[ch]
	axi.lo.w(addr)
	axi.hi.w(uint32(hi))
	if err := b.done(EFWB, op, ch, addr, n); err != nil {
		return err
	}
	b.axi[ch] = axiWindow{addr: addr, n: n}
	return nil
}

func (b *Board) AXIEnable(ch Channel, enable bool) error {
	if ch > CH2 {
		return Errorf(EOOR, "AXIEnable", ch, enable)
	}
	b.brd.regs.osc.axi[ch].enable.w(b2u(enable))
	return b.done(EFWB, "AXIEnable", ch, enable)
}

func (b *Board) AXISetTriggerDelay(ch Channel, delay int) error {
	if ch > CH2 {
		return Errorf(EOOR, "AXISetTriggerDelay", ch, delay)
	}
	if delay < 0 {
		b.msg.Printf("AXI trigger delay %d for %v clamped to 0", delay, ch)
		delay = 0
	}
	b.brd.regs.osc.axi[ch].dly.w(uint32(delay))
	return b.done(EFWB, "AXISetTriggerDelay", ch, delay)
}

func (b *Board) AXIWritePointerAtTrig(ch Channel) (uint32, error) {
	if ch > CH2 {
		return 0, Errorf(EOOR, "AXIWritePointerAtTrig", ch)
	}
	wp := b.brd.regs.osc.axi[ch].wpTrig.r()
	return wp, b.done(EFRB, "AXIWritePointerAtTrig", ch)
}

func (b *Board) AXIBufferFillState(ch Channel) (bool, error) {
	var mask uint32
	switch ch {
	case CH1:
		mask = regs.CFG_AXI_CHA_F
	case CH2:
		mask = regs.CFG_AXI_CHB_F
	default:
		return false, Errorf(EOOR, "AXIBufferFillState", ch)
	}
	v := b.brd.regs.osc.cfg.r()
	return v&mask != 0, b.done(EFRB, "AXIBufferFillState", ch)
}

// AXIDataRaw reads n samples of the channel buffer, starting at the
// physical address pos and wrapping around the end of the buffer.
func (b *Board) AXIDataRaw(ch Channel, pos uint32, n int) ([]int16, error) {
	const op = "AXIDataRaw"
	if ch > CH2 {
		return nil, Errorf(EOOR, op, ch, pos, n)
	}
	win := b.axi[ch]
	if win.n == 0 {
		return nil, Errorf(UIA, op, ch, pos, n)
	}
	end := uint64(win.addr) + 2*uint64(win.n)
	if n <= 0 || n > win.n || pos < win.addr || uint64(pos) >= end {
		return nil, Errorf(EOOR, op, ch, pos, n)
	}

	ddr, err := b.reserved()
	if err != nil {
		return nil, &Error{Op: op, Args: []interface{}{ch, pos, n}, Code: EMMD, Err: err}
	}

	buf := make([]byte, 2*win.n)
	_, err = ddr.ReadAt(buf, int64(win.addr-b.cfg.reserved.start))
	if err != nil {
		return nil, &Error{Op: op, Args: []interface{}{ch, pos, n}, Code: EFRB, Err: err}
	}

	var (
		out = make([]int16, n)
		beg = int(pos-win.addr) / 2
	)
	for i := range out {
		j := 2 * ((beg + i) % win.n)
		out[i] = adc14(uint32(binary.LittleEndian.Uint16(buf[j:])))
	}
	return out, nil
}

func (b *Board) AXIDataV(ch Channel, pos uint32, n int) ([]float32, error) {
	raw, err := b.AXIDataRaw(ch, pos, n)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Op = "AXIDataV"
		}
		return nil, err
	}
	return b.volts(ch, raw), nil
}

func (b *Board) reserved() (rwer, error) {
	if b.ddr != nil {
		return b.ddr, nil
	}
	if b.mem.fd == nil {
		return nil, fmt.Errorf("rp: memory device not opened")
	}
	h, err := mmap.Map(b.mem.fd, int64(b.cfg.reserved.start), int64(b.cfg.reserved.size))
	if err != nil {
		return nil, fmt.Errorf("rp: could not map reserved memory: %w", err)
	}
	b.mem.ddr = h
	b.ddr = h
	return h, nil
}

func b2u(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
