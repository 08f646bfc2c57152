// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rp

import (
	"encoding/binary"
	"errors"
	"io"
	"log"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-lpc/redpitaya/internal/mmap"
	"github.com/go-lpc/redpitaya/rp/internal/regs"
)

type fakeBoard struct {
	*Board
	hk  *mmap.Handle
	osc *mmap.Handle
	ddr *mmap.Handle
}

func newFakeBoard(t *testing.T, opts ...Option) *fakeBoard {
	t.Helper()

	cfg := newConfig()
	cfg.msg = log.New(io.Discard, "rp: ", 0)
	WithReservedMemory(0x1000, 0x100)(&cfg)
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		hk  = mmap.HandleFrom(make([]byte, regs.HK_SPAN))
		osc = mmap.HandleFrom(make([]byte, regs.OSC_SPAN))
		ddr = mmap.HandleFrom(make([]byte, cfg.reserved.size))
	)
	return &fakeBoard{
		Board: newBoard(cfg, hk, osc, ddr),
		hk:    hk,
		osc:   osc,
		ddr:   ddr,
	}
}

func putU32(t *testing.T, w io.WriterAt, off int64, v uint32) {
	t.Helper()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.WriteAt(buf[:], off)
	if err != nil {
		t.Fatalf("could not write 0x%x at 0x%x: %+v", v, off, err)
	}
}

func getU32(t *testing.T, r io.ReaderAt, off int64) uint32 {
	t.Helper()
	var buf [4]byte
	_, err := r.ReadAt(buf[:], off)
	if err != nil {
		t.Fatalf("could not read at 0x%x: %+v", off, err)
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func wantCode(t *testing.T, err error, code StatusCode) {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("invalid error type: %T (%+v)", err, err)
	}
	if e.Code != code {
		t.Fatalf("invalid status code: got=%v, want=%v", e.Code, code)
	}
}

func TestBoardOpen(t *testing.T) {
	_, err := Open(WithDevMem(filepath.Join(t.TempDir(), "not-there")))
	wantCode(t, err, EOMD)

	var brd Board
	if err := brd.Close(); err != nil {
		t.Fatalf("could not close unopened board: %+v", err)
	}
}

func TestBoardIdentity(t *testing.T) {
	brd := newFakeBoard(t)
	putU32(t, brd.hk, regs.HK_ID, 0xf1)
	putU32(t, brd.hk, regs.HK_DNA_LSB, 0xcafefade)
	putU32(t, brd.hk, regs.HK_DNA_MSB, 0xff000042)

	id, err := brd.ID()
	if err != nil {
		t.Fatalf("could not read ID: %+v", err)
	}
	if got, want := id, uint32(1); got != want {
		t.Fatalf("invalid ID: got=0x%x, want=0x%x", got, want)
	}

	dna, err := brd.DNA()
	if err != nil {
		t.Fatalf("could not read DNA: %+v", err)
	}
	if got, want := dna, uint64(0x42cafefade); got != want {
		t.Fatalf("invalid DNA: got=0x%x, want=0x%x", got, want)
	}
}

func TestBoardDecimation(t *testing.T) {
	brd := newFakeBoard(t)

	_, err := brd.SamplingRate()
	wantCode(t, err, EIPV)

	err = brd.SetDecimation(Dec8)
	if err != nil {
		t.Fatalf("could not set decimation: %+v", err)
	}

	dec, err := brd.DecimationFactor()
	if err != nil {
		t.Fatalf("could not get decimation: %+v", err)
	}
	if dec != 8 {
		t.Fatalf("invalid decimation: got=%d, want=8", dec)
	}

	rate, err := brd.SamplingRate()
	if err != nil {
		t.Fatalf("could not get sampling rate: %+v", err)
	}
	if got, want := rate, 125e6/8; got != want {
		t.Fatalf("invalid sampling rate: got=%v, want=%v", got, want)
	}

	err = brd.SetDecimation(Decimation(3))
	wantCode(t, err, EOOR)

	err = brd.AXISetDecimationFactor(Dec1024)
	if err != nil {
		t.Fatalf("could not set AXI decimation: %+v", err)
	}
	if got, want := getU32(t, brd.osc, regs.OSC_DEC), uint32(1024); got != want {
		t.Fatalf("invalid decimation register: got=%d, want=%d", got, want)
	}
}

func TestBoardTrigger(t *testing.T) {
	brd := newFakeBoard(t)

	st, err := brd.TriggerState()
	if err != nil {
		t.Fatalf("could not get trigger state: %+v", err)
	}
	if st != Triggered {
		t.Fatalf("invalid initial trigger state: %v", st)
	}

	err = brd.SetTriggerSource(TrigSrcChBNE)
	if err != nil {
		t.Fatalf("could not set trigger source: %+v", err)
	}
	if got, want := getU32(t, brd.osc, regs.OSC_TRIG_SRC), uint32(5); got != want {
		t.Fatalf("invalid trigger source register: got=%d, want=%d", got, want)
	}

	st, _ = brd.TriggerState()
	if st != Waiting {
		t.Fatalf("invalid armed trigger state: %v", st)
	}

	putU32(t, brd.osc, regs.OSC_TRIG_SRC, 0) // FPGA triggered
	st, _ = brd.TriggerState()
	if st != Triggered {
		t.Fatalf("invalid triggered state: %v", st)
	}

	err = brd.SetTriggerSource(TriggerSource(42))
	wantCode(t, err, EOOR)

	err = brd.SetTriggerDelay(7680)
	if err != nil {
		t.Fatalf("could not set trigger delay: %+v", err)
	}
	dly, err := brd.TriggerDelay()
	if err != nil {
		t.Fatalf("could not get trigger delay: %+v", err)
	}
	if dly != 7680 {
		t.Fatalf("invalid trigger delay: got=%d, want=7680", dly)
	}

	err = brd.SetTriggerDelay(-5)
	if err != nil {
		t.Fatalf("could not set negative trigger delay: %+v", err)
	}
	if dly, _ = brd.TriggerDelay(); dly != 0 {
		t.Fatalf("negative trigger delay not clamped: %d", dly)
	}
}

func TestBoardTriggerLevel(t *testing.T) {
	brd := newFakeBoard(t)

	for _, tc := range []struct {
		name  string
		ch    TriggerChannel
		gain  PinState
		volts float64
		reg   uint32
	}{
		{"ch1-lv", TrigCH1, Low, 0.5, 4096},
		{"ch1-lv-neg", TrigCH1, Low, -0.25, 0x3fff - 2048 + 1},
		{"ch2-hv", TrigCH2, High, 10, 4096},
		{"ch2-zero", TrigCH2, Low, 0, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := brd.SetGain(Channel(tc.ch), tc.gain)
			if err != nil {
				t.Fatalf("could not set gain: %+v", err)
			}
			err = brd.SetTriggerLevel(tc.ch, tc.volts)
			if err != nil {
				t.Fatalf("could not set trigger level: %+v", err)
			}
			off := int64(regs.OSC_CHA_THR)
			if tc.ch == TrigCH2 {
				off = regs.OSC_CHB_THR
			}
			if got := getU32(t, brd.osc, off); got != tc.reg {
				t.Fatalf("invalid threshold register: got=0x%x, want=0x%x", got, tc.reg)
			}

			lvl, err := brd.TriggerLevel(tc.ch)
			if err != nil {
				t.Fatalf("could not get trigger level: %+v", err)
			}
			if math.Abs(lvl-tc.volts) > 1e-6 {
				t.Fatalf("invalid trigger level: got=%v, want=%v", lvl, tc.volts)
			}
		})
	}

	_ = brd.SetGain(CH1, Low)
	err := brd.SetTriggerLevel(TrigCH1, 1.5)
	wantCode(t, err, EOOR)

	err = brd.SetTriggerLevel(TrigEXT, 1.2)
	if err != nil {
		t.Fatalf("could not set ext trigger level: %+v", err)
	}
	lvl, err := brd.TriggerLevel(TrigEXT)
	if err != nil || lvl != 1.2 {
		t.Fatalf("invalid ext trigger level: lvl=%v, err=%+v", lvl, err)
	}

	_, err = brd.TriggerLevel(TriggerChannel(9))
	wantCode(t, err, EOOR)
}

func TestBoardReset(t *testing.T) {
	brd := newFakeBoard(t)

	_ = brd.SetDecimation(Dec64)
	_ = brd.SetTriggerSource(TrigSrcExtPE)
	_ = brd.SetTriggerDelay(42)
	_ = brd.SetAveraging(false)
	_ = brd.AXIEnable(CH2, true)

	err := brd.ResetFPGA()
	if err != nil {
		t.Fatalf("could not reset FPGA: %+v", err)
	}

	for _, tc := range []struct {
		name string
		off  int64
		want uint32
	}{
		{"cfg", regs.OSC_CFG, 0},
		{"src", regs.OSC_TRIG_SRC, 0},
		{"dly", regs.OSC_DLY, 0},
		{"dec", regs.OSC_DEC, 1},
		{"avg", regs.OSC_AVG, 1},
		{"hys-a", regs.OSC_CHA_HYS, regs.HYST_DEFAULT},
		{"hys-b", regs.OSC_CHB_HYS, regs.HYST_DEFAULT},
		{"axi-b", regs.OSC_AXI_CHB + regs.AXI_ENABLE, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := getU32(t, brd.osc, tc.off); got != tc.want {
				t.Fatalf("invalid register: got=0x%x, want=0x%x", got, tc.want)
			}
		})
	}

	avg, err := brd.Averaging()
	if err != nil || !avg {
		t.Fatalf("invalid averaging: avg=%v, err=%+v", avg, err)
	}

	hys, err := brd.TriggerHysteresis()
	if err != nil {
		t.Fatalf("could not get hysteresis: %+v", err)
	}
	if got, want := hys, float64(regs.HYST_DEFAULT)/8192; math.Abs(got-want) > 1e-6 {
		t.Fatalf("invalid hysteresis: got=%v, want=%v", got, want)
	}

	err = brd.Start()
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}
	if got := getU32(t, brd.osc, regs.OSC_CFG); got != regs.CFG_ARM {
		t.Fatalf("invalid cfg after start: 0x%x", got)
	}

	err = brd.Stop()
	if err != nil {
		t.Fatalf("could not stop: %+v", err)
	}
	if got := getU32(t, brd.osc, regs.OSC_CFG); got != regs.CFG_RST {
		t.Fatalf("invalid cfg after stop: 0x%x", got)
	}
}

func TestBoardFillState(t *testing.T) {
	brd := newFakeBoard(t)

	for _, tc := range []struct {
		cfg  uint32
		fill bool
		cha  bool
		chb  bool
	}{
		{0, false, false, false},
		{regs.CFG_FILLED, true, false, false},
		{regs.CFG_AXI_CHA_F, false, true, false},
		{regs.CFG_AXI_CHA_F | regs.CFG_AXI_CHB_F, false, true, true},
	} {
		putU32(t, brd.osc, regs.OSC_CFG, tc.cfg)

		fill, err := brd.BufferFillState()
		if err != nil || fill != tc.fill {
			t.Fatalf("cfg=0x%x: invalid fill state: got=%v, want=%v (err=%+v)", tc.cfg, fill, tc.fill, err)
		}
		cha, err := brd.AXIBufferFillState(CH1)
		if err != nil || cha != tc.cha {
			t.Fatalf("cfg=0x%x: invalid CH1 AXI fill state: got=%v, want=%v (err=%+v)", tc.cfg, cha, tc.cha, err)
		}
		chb, err := brd.AXIBufferFillState(CH2)
		if err != nil || chb != tc.chb {
			t.Fatalf("cfg=0x%x: invalid CH2 AXI fill state: got=%v, want=%v (err=%+v)", tc.cfg, chb, tc.chb, err)
		}
	}

	_, err := brd.AXIBufferFillState(Channel(3))
	wantCode(t, err, EOOR)
}

func TestBoardOldestData(t *testing.T) {
	brd := newFakeBoard(t)

	// ring buffer of CH2 holds i at index i, and -1 at index 2
	for i := 0; i < BufferSize; i++ {
		putU32(t, brd.osc, regs.OSC_CHB_BUF+4*int64(i), uint32(i)&regs.ADC_MASK)
	}
	putU32(t, brd.osc, regs.OSC_CHB_BUF+4*2, 0x3fff)

	for _, tc := range []struct {
		name string
		wp   uint32
		n    int
		want []int16
	}{
		{"simple", 10, 4, []int16{11, 12, 13, 14}},
		{"wrap", BufferSize - 2, 4, []int16{-1, 0, 1, -1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			putU32(t, brd.osc, regs.OSC_WP_CUR, tc.wp)
			raw, err := brd.OldestDataRaw(CH2, tc.n)
			if err != nil {
				t.Fatalf("could not read oldest data: %+v", err)
			}
			if !reflect.DeepEqual(raw, tc.want) {
				t.Fatalf("invalid data:\ngot= %v\nwant=%v", raw, tc.want)
			}
		})
	}

	putU32(t, brd.osc, regs.OSC_WP_CUR, 1)
	volts, err := brd.OldestDataV(CH2, 2)
	if err != nil {
		t.Fatalf("could not read oldest volts: %+v", err)
	}
	if got, want := volts, []float32{-1.0 / 8192, 3.0 / 8192}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid volts: got=%v, want=%v", got, want)
	}

	_, err = brd.OldestDataRaw(CH1, 0)
	wantCode(t, err, EOOR)

	_, err = brd.OldestDataV(CH1, BufferSize+1)
	wantCode(t, err, EOOR)
	if e := err.(*Error); e.Op != "OldestDataV" {
		t.Fatalf("invalid op name: %q", e.Op)
	}
}

func TestBoardAXI(t *testing.T) {
	brd := newFakeBoard(t)

	start, size, err := brd.MemoryRegion()
	if err != nil {
		t.Fatalf("could not get memory region: %+v", err)
	}
	if start != 0x1000 || size != 0x100 {
		t.Fatalf("invalid memory region: start=0x%x, size=0x%x", start, size)
	}

	_, err = brd.AXIDataRaw(CH1, start, 1)
	wantCode(t, err, UIA)

	err = brd.AXISetBufferSamples(CH1, start, 16)
	if err != nil {
		t.Fatalf("could not set AXI buffer: %+v", err)
	}
	if got := getU32(t, brd.osc, regs.OSC_AXI_CHA+regs.AXI_ADDR_LO); got != 0x1000 {
		t.Fatalf("invalid low address: 0x%x", got)
	}
	if got := getU32(t, brd.osc, regs.OSC_AXI_CHA+regs.AXI_ADDR_HI); got != 0x1020 {
		t.Fatalf("invalid high address: 0x%x", got)
	}

	err = brd.AXISetBufferSamples(CH2, start+size-2, 2)
	wantCode(t, err, EOOR)

	err = brd.AXIEnable(CH1, true)
	if err != nil {
		t.Fatalf("could not enable AXI: %+v", err)
	}
	if got := getU32(t, brd.osc, regs.OSC_AXI_CHA+regs.AXI_ENABLE); got != 1 {
		t.Fatalf("invalid enable register: %d", got)
	}

	err = brd.AXISetTriggerDelay(CH1, 1234)
	if err != nil {
		t.Fatalf("could not set AXI trigger delay: %+v", err)
	}
	if got := getU32(t, brd.osc, regs.OSC_AXI_CHA+regs.AXI_DLY); got != 1234 {
		t.Fatalf("invalid AXI delay register: %d", got)
	}

	putU32(t, brd.osc, regs.OSC_AXI_CHA+regs.AXI_WP_TRIG, start+2*14)
	wp, err := brd.AXIWritePointerAtTrig(CH1)
	if err != nil {
		t.Fatalf("could not get write pointer: %+v", err)
	}
	if wp != start+28 {
		t.Fatalf("invalid write pointer: 0x%x", wp)
	}

	for i := 0; i < 16; i++ {
		v := int16(10 * i)
		if i == 1 {
			v = -3
		}
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(v))
		_, err := brd.ddr.WriteAt(buf[:], int64(2*i))
		if err != nil {
			t.Fatalf("could not fill reserved memory: %+v", err)
		}
	}

	raw, err := brd.AXIDataRaw(CH1, wp, 4)
	if err != nil {
		t.Fatalf("could not read AXI data: %+v", err)
	}
	if got, want := raw, []int16{140, 150, 0, -3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid AXI data: got=%v, want=%v", got, want)
	}

	_ = brd.SetGain(CH1, High)
	volts, err := brd.AXIDataV(CH1, start+2*2, 1)
	if err != nil {
		t.Fatalf("could not read AXI volts: %+v", err)
	}
	if got, want := volts[0], float32(20.0/8192*20); math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("invalid AXI volts: got=%v, want=%v", got, want)
	}

	_, err = brd.AXIDataRaw(CH1, start+0x40, 1)
	wantCode(t, err, EOOR)

	_, err = brd.AXIDataV(CH1, start, 17)
	wantCode(t, err, EOOR)
}

type failingRW struct{}

func (failingRW) ReadAt(p []byte, off int64) (int, error)  { return 0, io.ErrUnexpectedEOF }
func (failingRW) WriteAt(p []byte, off int64) (int, error) { return 0, io.ErrShortWrite }

func TestBoardRegisterFailure(t *testing.T) {
	cfg := newConfig()
	cfg.msg = log.New(io.Discard, "rp: ", 0)
	brd := newBoard(cfg, failingRW{}, failingRW{}, failingRW{})

	_, err := brd.DecimationFactor()
	wantCode(t, err, EFRB)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid underlying error: %+v", err)
	}

	err = brd.SetDecimation(Dec2)
	wantCode(t, err, EFWB)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid underlying error: %+v", err)
	}

	// errors do not stick across operations.
	_, err = brd.TriggerState()
	wantCode(t, err, EFRB)
	if got, want := err.(*Error).Op, "TriggerState"; got != want {
		t.Fatalf("invalid op: got=%q, want=%q", got, want)
	}
}
