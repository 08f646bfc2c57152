// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"math"

	"github.com/go-lpc/redpitaya/rp"
)

// window returns the duration in seconds of a full ring buffer at the
// provided decimation.
func window(dec rp.Decimation) float64 {
	return float64(rp.BufferSize) / dec.SamplingRate()
}

// BestDecimation returns the smallest decimation whose full ring buffer
// spans at least duration seconds.
func BestDecimation(duration float64) (rp.Decimation, error) {
	for _, dec := range rp.Decimations {
		if window(dec) >= duration {
			return dec, nil
		}
	}
	return 0, fmt.Errorf("%w for a %gs trace (max=%gs)",
		ErrNoSuitableDecimation, duration,
		window(rp.Decimations[len(rp.Decimations)-1]),
	)
}

// FrequencyToDecimation returns the largest decimation whose sampling
// rate is strictly greater than hz.
func FrequencyToDecimation(hz float64) (rp.Decimation, error) {
	for i := len(rp.Decimations) - 1; i >= 0; i-- {
		dec := rp.Decimations[i]
		if dec.SamplingRate() > hz {
			return dec, nil
		}
	}
	return 0, fmt.Errorf("%w for a %gHz sampling rate", ErrNoSuitableDecimation, hz)
}

// SampleCount returns the number of samples needed to cover duration
// seconds at the provided sampling rate.
//
// SampleCount panics if the result does not fit in the ring buffer.
func SampleCount(duration, rate float64) int {
	n := int(math.Ceil(duration * rate))
	if n <= 0 || n > rp.BufferSize {
		panic(fmt.Errorf(
			"acq: invalid sample count %d for %gs at %gHz (max=%d)",
			n, duration, rate, rp.BufferSize,
		))
	}
	return n
}

// TriggerDelay converts a delay, expressed in units, into a number of
// samples for a trace of the provided length and sampling rate.
// It also returns the value to program into the trigger delay register,
// whose zero sits at the middle of the ring buffer.
//
// TriggerDelay panics if units is invalid.
func TriggerDelay(delay float64, units Units, samples int, rate float64) (float64, int) {
	var n float64
	switch units {
	case Second:
		n = math.Ceil(delay * rate)
	case Trace:
		n = delay * float64(samples)
	default:
		panic(fmt.Errorf("acq: invalid delay units %v", units))
	}
	return n, int(n + halfBuffer - float64(samples))
}
