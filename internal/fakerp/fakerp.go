// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakerp provides an in-memory Red Pitaya board, recording the
// primitives it is asked to run.
package fakerp // import "github.com/go-lpc/redpitaya/internal/fakerp"

import (
	"math"
	"sync"

	"github.com/go-lpc/redpitaya/rp"
)

// Device is an in-memory rp.Driver.
//
// Trigger and fill states are served from the TrigStates, Fills and
// AXIFills queues, and default to "triggered" and "filled" once the
// queues are drained.
type Device struct {
	mu    sync.Mutex
	calls []string
	fails map[string]rp.StatusCode

	TrigStates []rp.TriggerState
	Fills      []bool
	AXIFills   [2][]bool

	// Signal returns the i-th raw sample of a channel.
	Signal func(ch rp.Channel, i int) int16

	// WPTrig holds the AXI write pointer at trigger, per channel.
	// A zero value points at the start of the channel buffer.
	WPTrig [2]uint32

	id     uint32
	dna    uint64
	closed bool

	dec     rp.Decimation
	avg     bool
	src     rp.TriggerSource
	levels  [3]float64
	hyst    float64
	delay   int
	gains   [2]rp.PinState
	started bool

	region struct {
		start uint32
		size  uint32
	}
	axi [2]struct {
		addr    uint32
		n       int
		enabled bool
		delay   int
	}
}

var _ rp.Driver = (*Device)(nil)

// New returns a new in-memory board.
func New() *Device {
	dev := &Device{
		fails:  make(map[string]rp.StatusCode),
		Signal: Sine,
		id:     1,
		dna:    0x0123456789abcd,
		dec:    rp.Dec1,
		avg:    true,
	}
	dev.region.start = 0x01000000
	dev.region.size = 0x01000000
	return dev
}

// Sine is the default signal: a full-scale sine on CH1, a half-scale
// cosine on CH2, with a 128 samples period.
func Sine(ch rp.Channel, i int) int16 {
	phi := 2 * math.Pi * float64(i) / 128
	switch ch {
	case rp.CH1:
		return int16(8191 * math.Sin(phi))
	default:
		return int16(4096 * math.Cos(phi))
	}
}

// SetMemoryRegion sets the reserved memory region.
func (dev *Device) SetMemoryRegion(start, size uint32) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.region.start = start
	dev.region.size = size
}

// Fail makes all subsequent calls to op fail with the provided code.
func (dev *Device) Fail(op string, code rp.StatusCode) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.fails[op] = code
}

// Calls returns the list of primitives called so far.
func (dev *Device) Calls() []string {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]string(nil), dev.calls...)
}

// Called reports whether op has been called.
func (dev *Device) Called(op string) bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	for _, v := range dev.calls {
		if v == op {
			return true
		}
	}
	return false
}

// ResetCalls clears the list of recorded calls.
func (dev *Device) ResetCalls() {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.calls = dev.calls[:0]
}

// Closed reports whether the device has been released.
func (dev *Device) Closed() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.closed
}

// Started reports whether the acquisition is running.
func (dev *Device) Started() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.started
}

// Source returns the last programmed trigger source.
func (dev *Device) Source() rp.TriggerSource {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.src
}

// AXIEnabled reports whether the AXI path of a channel is enabled.
func (dev *Device) AXIEnabled(ch rp.Channel) bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.axi[ch].enabled
}

// AXIBuffer returns the AXI buffer address, size and trigger delay of a channel.
func (dev *Device) AXIBuffer(ch rp.Channel) (addr uint32, n, delay int) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.axi[ch].addr, dev.axi[ch].n, dev.axi[ch].delay
}

// call records op and returns the injected error, if any.
// call must be invoked with dev.mu held.
func (dev *Device) call(op string, args ...interface{}) error {
	dev.calls = append(dev.calls, op)
	if code, ok := dev.fails[op]; ok {
		return rp.Errorf(code, op, args...)
	}
	return nil
}

func (dev *Device) ID() (uint32, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.id, dev.call("ID")
}

func (dev *Device) DNA() (uint64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.dna, dev.call("DNA")
}

func (dev *Device) SetDecimation(dec rp.Decimation) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("SetDecimation", dec); err != nil {
		return err
	}
	if !dec.Valid() {
		return rp.Errorf(rp.EOOR, "SetDecimation", dec)
	}
	dev.dec = dec
	return nil
}

func (dev *Device) DecimationFactor() (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.dec.Factor(), dev.call("DecimationFactor")
}

func (dev *Device) SamplingRate() (float64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("SamplingRate"); err != nil {
		return 0, err
	}
	return dev.dec.SamplingRate(), nil
}

func (dev *Device) SetAveraging(enable bool) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("SetAveraging", enable); err != nil {
		return err
	}
	dev.avg = enable
	return nil
}

func (dev *Device) Averaging() (bool, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.avg, dev.call("Averaging")
}

func (dev *Device) SetTriggerSource(src rp.TriggerSource) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("SetTriggerSource", src); err != nil {
		return err
	}
	dev.src = src
	return nil
}

func (dev *Device) TriggerState() (rp.TriggerState, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("TriggerState"); err != nil {
		return rp.Waiting, err
	}
	if len(dev.TrigStates) == 0 {
		return rp.Triggered, nil
	}
	st := dev.TrigStates[0]
	dev.TrigStates = dev.TrigStates[1:]
	return st, nil
}

func (dev *Device) SetTriggerLevel(ch rp.TriggerChannel, volts float64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("SetTriggerLevel", ch, volts); err != nil {
		return err
	}
	if ch > rp.TrigEXT {
		return rp.Errorf(rp.EOOR, "SetTriggerLevel", ch, volts)
	}
	dev.levels[ch] = volts
	return nil
}

func (dev *Device) TriggerLevel(ch rp.TriggerChannel) (float64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("TriggerLevel", ch); err != nil {
		return 0, err
	}
	if ch > rp.TrigEXT {
		return 0, rp.Errorf(rp.EOOR, "TriggerLevel", ch)
	}
	return dev.levels[ch], nil
}

func (dev *Device) SetTriggerHysteresis(volts float64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("SetTriggerHysteresis", volts); err != nil {
		return err
	}
	dev.hyst = volts
	return nil
}

func (dev *Device) TriggerHysteresis() (float64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.hyst, dev.call("TriggerHysteresis")
}

func (dev *Device) SetTriggerDelay(delay int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("SetTriggerDelay", delay); err != nil {
		return err
	}
	dev.delay = delay
	return nil
}

func (dev *Device) TriggerDelay() (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.delay, dev.call("TriggerDelay")
}

func (dev *Device) BufferFillState() (bool, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("BufferFillState"); err != nil {
		return false, err
	}
	if len(dev.Fills) == 0 {
		return true, nil
	}
	v := dev.Fills[0]
	dev.Fills = dev.Fills[1:]
	return v, nil
}

func (dev *Device) SetGain(ch rp.Channel, st rp.PinState) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("SetGain", ch, st); err != nil {
		return err
	}
	if ch > rp.CH2 {
		return rp.Errorf(rp.EOOR, "SetGain", ch, st)
	}
	dev.gains[ch] = st
	return nil
}

func (dev *Device) Gain(ch rp.Channel) (rp.PinState, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("Gain", ch); err != nil {
		return rp.Low, err
	}
	if ch > rp.CH2 {
		return rp.Low, rp.Errorf(rp.EOOR, "Gain", ch)
	}
	return dev.gains[ch], nil
}

func (dev *Device) Start() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("Start"); err != nil {
		return err
	}
	dev.started = true
	return nil
}

func (dev *Device) Stop() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("Stop"); err != nil {
		return err
	}
	dev.started = false
	return nil
}

func (dev *Device) ResetFPGA() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("ResetFPGA"); err != nil {
		return err
	}
	dev.started = false
	dev.src = rp.TrigSrcDisabled
	dev.dec = rp.Dec1
	dev.delay = 0
	dev.avg = true
	for i := range dev.axi {
		dev.axi[i].enabled = false
	}
	return nil
}

func (dev *Device) OldestDataRaw(ch rp.Channel, n int) ([]int16, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("OldestDataRaw", ch, n); err != nil {
		return nil, err
	}
	if ch > rp.CH2 || n <= 0 || n > rp.BufferSize {
		return nil, rp.Errorf(rp.EOOR, "OldestDataRaw", ch, n)
	}
	return dev.raw(ch, 0, n), nil
}

func (dev *Device) OldestDataV(ch rp.Channel, n int) ([]float32, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("OldestDataV", ch, n); err != nil {
		return nil, err
	}
	if ch > rp.CH2 || n <= 0 || n > rp.BufferSize {
		return nil, rp.Errorf(rp.EOOR, "OldestDataV", ch, n)
	}
	return dev.volts(ch, dev.raw(ch, 0, n)), nil
}

func (dev *Device) raw(ch rp.Channel, beg, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = dev.Signal(ch, beg+i)
	}
	return out
}

func (dev *Device) volts(ch rp.Channel, raw []int16) []float32 {
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = rp.Volts(v, dev.gains[ch])
	}
	return out
}

func (dev *Device) MemoryRegion() (start, size uint32, err error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.region.start, dev.region.size, dev.call("MemoryRegion")
}

func (dev *Device) AXISetDecimationFactor(dec rp.Decimation) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("AXISetDecimationFactor", dec); err != nil {
		return err
	}
	if !dec.Valid() {
		return rp.Errorf(rp.EOOR, "AXISetDecimationFactor", dec)
	}
	dev.dec = dec
	return nil
}

func (dev *Device) AXISetBufferSamples(ch rp.Channel, addr uint32, n int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("AXISetBufferSamples", ch, addr, n); err != nil {
		return err
	}
	var (
		beg = uint64(dev.region.start)
		end = beg + uint64(dev.region.size)
	)
	if ch > rp.CH2 || n <= 0 || uint64(addr) < beg || uint64(addr)+2*uint64(n) > end {
		return rp.Errorf(rp.EOOR, "AXISetBufferSamples", ch, addr, n)
	}
	dev.axi[ch].addr = addr
	dev.axi[ch].n = n
	return nil
}

func (dev *Device) AXIEnable(ch rp.Channel, enable bool) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("AXIEnable", ch, enable); err != nil {
		return err
	}
	if ch > rp.CH2 {
		return rp.Errorf(rp.EOOR, "AXIEnable", ch, enable)
	}
	dev.axi[ch].enabled = enable
	return nil
}

func (dev *Device) AXISetTriggerDelay(ch rp.Channel, delay int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("AXISetTriggerDelay", ch, delay); err != nil {
		return err
	}
	if ch > rp.CH2 {
		return rp.Errorf(rp.EOOR, "AXISetTriggerDelay", ch, delay)
	}
	dev.axi[ch].delay = delay
	return nil
}

func (dev *Device) AXIWritePointerAtTrig(ch rp.Channel) (uint32, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("AXIWritePointerAtTrig", ch); err != nil {
		return 0, err
	}
	if ch > rp.CH2 {
		return 0, rp.Errorf(rp.EOOR, "AXIWritePointerAtTrig", ch)
	}
	if dev.WPTrig[ch] == 0 {
		return dev.axi[ch].addr, nil
	}
	return dev.WPTrig[ch], nil
}

func (dev *Device) AXIBufferFillState(ch rp.Channel) (bool, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("AXIBufferFillState", ch); err != nil {
		return false, err
	}
	if ch > rp.CH2 {
		return false, rp.Errorf(rp.EOOR, "AXIBufferFillState", ch)
	}
	if len(dev.AXIFills[ch]) == 0 {
		return true, nil
	}
	v := dev.AXIFills[ch][0]
	dev.AXIFills[ch] = dev.AXIFills[ch][1:]
	return v, nil
}

func (dev *Device) AXIDataRaw(ch rp.Channel, pos uint32, n int) ([]int16, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("AXIDataRaw", ch, pos, n); err != nil {
		return nil, err
	}
	beg, err := dev.axiPos("AXIDataRaw", ch, pos, n)
	if err != nil {
		return nil, err
	}
	return dev.raw(ch, beg, n), nil
}

func (dev *Device) AXIDataV(ch rp.Channel, pos uint32, n int) ([]float32, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("AXIDataV", ch, pos, n); err != nil {
		return nil, err
	}
	beg, err := dev.axiPos("AXIDataV", ch, pos, n)
	if err != nil {
		return nil, err
	}
	return dev.volts(ch, dev.raw(ch, beg, n)), nil
}

func (dev *Device) axiPos(op string, ch rp.Channel, pos uint32, n int) (int, error) {
	if ch > rp.CH2 {
		return 0, rp.Errorf(rp.EOOR, op, ch, pos, n)
	}
	win := dev.axi[ch]
	if win.n == 0 {
		return 0, rp.Errorf(rp.UIA, op, ch, pos, n)
	}
	if n <= 0 || n > win.n || pos < win.addr || uint64(pos) >= uint64(win.addr)+2*uint64(win.n) {
		return 0, rp.Errorf(rp.EOOR, op, ch, pos, n)
	}
	return int(pos-win.addr) / 2, nil
}

func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.call("Close"); err != nil {
		return err
	}
	dev.closed = true
	return nil
}
