// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"time"

	"github.com/go-lpc/redpitaya/rp"
)

// timebase describes the samples of an armed acquisition.
type timebase struct {
	samples int
	rate    float64 // sampling rate in Hz
	delay   int     // trigger delay register
}

func (tb timebase) timeRaw() []int64 {
	out := make([]int64, tb.samples)
	off := int64(tb.delay) - halfBuffer
	for i := range out {
		out[i] = int64(i) + off
	}
	return out
}

func (tb timebase) seconds() []float64 {
	raw := tb.timeRaw()
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v) / tb.rate
	}
	return out
}

// interval returns the pause between two polls of the board state.
func (tb timebase) interval() time.Duration {
	const minPoll = 100 * time.Microsecond
	d := time.Duration(float64(tb.samples) / tb.rate / 1000 * float64(time.Second))
	if d < minPoll {
		return minPoll
	}
	return d
}

// cond is a predicate on the board state.
type cond func() (bool, error)

// reader extracts the samples of an acquisition from the board.
type reader interface {
	params() timebase

	// conds returns the predicates that must hold, in order, once the
	// acquisition is done.
	conds(chans [2]bool) []cond
	stop(chans [2]bool) error

	has(ch rp.Channel) bool
	raw(ch rp.Channel) ([]int16, error)
	volts(ch rp.Channel) ([]float32, error)
}

func anyOf(chans [2]bool) bool {
	return chans[0] || chans[1]
}

// direct reads samples from the on-chip ring buffer.
type direct struct {
	drv rp.Driver
	tb  timebase
}

func (r *direct) params() timebase { return r.tb }

func (r *direct) conds(chans [2]bool) []cond {
	conds := []cond{triggered(r.drv)}
	if anyOf(chans) {
		conds = append(conds, r.drv.BufferFillState)
	}
	return conds
}

func (r *direct) stop(chans [2]bool) error {
	if !anyOf(chans) {
		return nil
	}
	return r.drv.Stop()
}

func (r *direct) has(ch rp.Channel) bool { return ch <= rp.CH2 }

func (r *direct) raw(ch rp.Channel) ([]int16, error) {
	return r.drv.OldestDataRaw(ch, r.tb.samples)
}

func (r *direct) volts(ch rp.Channel) ([]float32, error) {
	return r.drv.OldestDataV(ch, r.tb.samples)
}

// axi reads samples from the reserved memory region, starting at the
// write pointer of each channel at trigger time.
type axi struct {
	drv   rp.Driver
	tb    timebase
	chans [2]bool
}

func (r *axi) params() timebase { return r.tb }

func (r *axi) conds(chans [2]bool) []cond {
	conds := []cond{triggered(r.drv)}
	for _, ch := range rp.Channels {
		if !chans[ch] {
			continue
		}
		ch := ch
		conds = append(conds, func() (bool, error) {
			return r.drv.AXIBufferFillState(ch)
		})
	}
	return conds
}

func (r *axi) stop(chans [2]bool) error {
	if !anyOf(chans) {
		return nil
	}
	return r.drv.Stop()
}

func (r *axi) has(ch rp.Channel) bool { return ch <= rp.CH2 && r.chans[ch] }

func (r *axi) raw(ch rp.Channel) ([]int16, error) {
	pos, err := r.drv.AXIWritePointerAtTrig(ch)
	if err != nil {
		return nil, err
	}
	return r.drv.AXIDataRaw(ch, pos, r.tb.samples)
}

func (r *axi) volts(ch rp.Channel) ([]float32, error) {
	pos, err := r.drv.AXIWritePointerAtTrig(ch)
	if err != nil {
		return nil, err
	}
	return r.drv.AXIDataV(ch, pos, r.tb.samples)
}

func triggered(drv rp.Driver) cond {
	return func() (bool, error) {
		st, err := drv.TriggerState()
		if err != nil {
			return false, err
		}
		return st != rp.Waiting, nil
	}
}

// partition splits the reserved memory region between the enabled
// channels.
func partition(start, size uint32, samples int, chans [2]bool) ([2]uint32, error) {
	var addrs [2]uint32
	n := 0
	for _, ok := range chans {
		if ok {
			n++
		}
	}
	if n == 0 {
		return addrs, ErrNoChannel
	}

	need := 2 * uint64(samples) * uint64(n)
	if need > uint64(size) {
		return addrs, fmt.Errorf(
			"%w: %d samples on %d channel(s) need %d bytes (available=%d)",
			ErrInsufficientMemory, samples, n, need, size,
		)
	}

	switch chans {
	case [2]bool{true, false}:
		addrs = [2]uint32{start, 0}
	case [2]bool{false, true}:
		addrs = [2]uint32{0, start}
	default:
		addrs = [2]uint32{start, start + size/2}
	}
	return addrs, nil
}
