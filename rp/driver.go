// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rp

// Driver is the set of primitives needed to run acquisitions on a board.
type Driver interface {
	// ID returns the FPGA synthesized design identifier.
	ID() (uint32, error)
	// DNA returns the FPGA unique DNA.
	DNA() (uint64, error)

	SetDecimation(dec Decimation) error
	DecimationFactor() (int, error)
	SamplingRate() (float64, error)
	SetAveraging(enable bool) error
	Averaging() (bool, error)

	SetTriggerSource(src TriggerSource) error
	TriggerState() (TriggerState, error)
	SetTriggerLevel(ch TriggerChannel, volts float64) error
	TriggerLevel(ch TriggerChannel) (float64, error)
	SetTriggerHysteresis(volts float64) error
	TriggerHysteresis() (float64, error)
	SetTriggerDelay(delay int) error
	TriggerDelay() (int, error)

	BufferFillState() (bool, error)
	SetGain(ch Channel, st PinState) error
	Gain(ch Channel) (PinState, error)

	Start() error
	Stop() error
	ResetFPGA() error

	OldestDataRaw(ch Channel, n int) ([]int16, error)
	OldestDataV(ch Channel, n int) ([]float32, error)

	AXI

	Close() error
}

// AXI is the set of primitives driving the acquisition into the
// reserved host memory.
type AXI interface {
	// MemoryRegion returns the start address and size (in bytes) of
	// the reserved memory region.
	MemoryRegion() (start, size uint32, err error)
	AXISetDecimationFactor(dec Decimation) error
	AXISetBufferSamples(ch Channel, addr uint32, n int) error
	AXIEnable(ch Channel, enable bool) error
	AXISetTriggerDelay(ch Channel, delay int) error
	AXIWritePointerAtTrig(ch Channel) (uint32, error)
	AXIBufferFillState(ch Channel) (bool, error)
	AXIDataRaw(ch Channel, pos uint32, n int) ([]int16, error)
	AXIDataV(ch Channel, pos uint32, n int) ([]float32, error)
}

// Volts converts a raw ADC sample into volts, given the input attenuation.
func Volts(raw int16, st PinState) float32 {
	return float32(float64(raw) / adcScale * st.FullScale())
}

// Counts converts a voltage into ADC counts, given the input attenuation.
// Values outside of the full scale are clamped.
func Counts(volts float64, st PinState) int16 {
	v := volts / st.FullScale() * adcScale
	switch {
	case v >= adcScale-1:
		return adcScale - 1
	case v <= -adcScale:
		return -adcScale
	}
	if v < 0 {
		return int16(v - 0.5)
	}
	return int16(v + 0.5)
}

const adcScale = 1 << 13
