// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"fmt"
	"time"

	"github.com/go-lpc/redpitaya/rp"
)

// State is the lifecycle state of a Result.
type State uint8

const (
	Running State = iota
	Completed
	Canceled
)

func (st State) String() string {
	switch st {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

// Result is the outcome of an acquisition.
//
// Samples are read out of the board once the acquisition is done, and
// kept afterwards. Accessing them on a running result waits for the
// acquisition to complete.
// The returned slices are shared and must not be modified.
type Result struct {
	Timestamp time.Time
	Channels  [2]bool // enabled channels
	Metadata  Metadata

	ctl   *Controller
	rdr   reader
	state State // guarded by ctl.mu
	err   error // read-out error, guarded by ctl.mu

	timeRaw []int64
	time    []float64
	raw     [2][]int16
	volts   [2][]float32
}

// State returns the lifecycle state of the result.
func (r *Result) State() State {
	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()
	return r.state
}

// Samples returns the number of samples per channel.
func (r *Result) Samples() int {
	return r.rdr.params().samples
}

// SamplingRate returns the sampling rate in Hz.
func (r *Result) SamplingRate() float64 {
	return r.rdr.params().rate
}

// Ready reports whether the acquisition is done, without blocking.
func (r *Result) Ready() (bool, error) {
	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()

	switch r.state {
	case Completed:
		return r.err == nil, r.err
	case Canceled:
		return false, ErrMeasurementCanceled
	}
	return r.ready()
}

func (r *Result) ready() (bool, error) {
	for _, cond := range r.rdr.conds(r.Channels) {
		ok, err := cond()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Read completes the acquisition and reads all samples out of the board.
// Read returns ErrDataNotReady if the acquisition is not done yet.
// A failed read-out is not retried: Read keeps returning its error.
func (r *Result) Read() error {
	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()
	return r.read()
}

func (r *Result) read() error {
	switch r.state {
	case Completed:
		return r.err
	case Canceled:
		return ErrMeasurementCanceled
	}

	ok, err := r.ready()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDataNotReady
	}
	return r.complete()
}

// complete marks the result as completed, stops the board and reads out
// all samples.
func (r *Result) complete() error {
	r.state = Completed
	r.err = r.readout()
	return r.err
}

func (r *Result) readout() error {
	err := r.rdr.stop(r.Channels)
	if err != nil {
		return err
	}

	_, err = r.loadTime()
	if err != nil {
		return err
	}
	for _, ch := range rp.Channels {
		if !r.rdr.has(ch) {
			continue
		}
		_, err = r.loadRaw(ch)
		if err != nil {
			return err
		}
		_, err = r.loadVolts(ch)
		if err != nil {
			return err
		}
	}
	return nil
}

// Cancel aborts a running acquisition and stops the board.
// Samples of a canceled result are not available.
// Canceling a completed result is a no-op.
func (r *Result) Cancel() error {
	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()
	return r.cancel()
}

func (r *Result) cancel() error {
	if r.state != Running {
		return nil
	}
	r.state = Canceled
	return r.rdr.stop(r.Channels)
}

// Collect waits for the acquisition to be done and reads out its samples.
// Collect returns the context error when ctx is done first.
func (r *Result) Collect(ctx context.Context) error {
	return r.check(ctx)
}

// check makes sure the samples of the result can be accessed, waiting
// for and completing a running acquisition.
func (r *Result) check(ctx context.Context) error {
	r.ctl.mu.Lock()
	st, err := r.state, r.err
	r.ctl.mu.Unlock()

	switch st {
	case Completed:
		return err
	case Canceled:
		return ErrMeasurementCanceled
	}

	err = r.Wait(ctx)
	if err != nil {
		return err
	}

	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()
	switch r.state {
	case Running:
		return r.complete()
	case Canceled:
		return ErrMeasurementCanceled
	}
	return r.err
}

// TimeRaw returns the sample offsets with respect to the trigger.
func (r *Result) TimeRaw() ([]int64, error) {
	err := r.check(context.Background())
	if err != nil {
		return nil, err
	}
	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()
	_, err = r.loadTime()
	return r.timeRaw, err
}

// Time returns the sample times in seconds with respect to the trigger.
func (r *Result) Time() ([]float64, error) {
	err := r.check(context.Background())
	if err != nil {
		return nil, err
	}
	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()
	return r.loadTime()
}

// Raw returns the samples of a channel in ADC counts.
func (r *Result) Raw(ch rp.Channel) ([]int16, error) {
	err := r.check(context.Background())
	if err != nil {
		return nil, err
	}
	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()
	return r.loadRaw(ch)
}

// Volts returns the samples of a channel in volts.
func (r *Result) Volts(ch rp.Channel) ([]float32, error) {
	err := r.check(context.Background())
	if err != nil {
		return nil, err
	}
	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()
	return r.loadVolts(ch)
}

func (r *Result) loadTime() ([]float64, error) {
	if r.timeRaw == nil {
		r.timeRaw = r.rdr.params().timeRaw()
	}
	if r.time == nil {
		r.time = r.rdr.params().seconds()
	}
	return r.time, nil
}

func (r *Result) loadRaw(ch rp.Channel) ([]int16, error) {
	if !r.rdr.has(ch) {
		return nil, fmt.Errorf("acq: channel %v was not acquired: %w", ch, ErrNoChannel)
	}
	if r.raw[ch] != nil {
		return r.raw[ch], nil
	}
	raw, err := r.rdr.raw(ch)
	if err != nil {
		return nil, err
	}
	r.raw[ch] = raw
	return raw, nil
}

func (r *Result) loadVolts(ch rp.Channel) ([]float32, error) {
	if !r.rdr.has(ch) {
		return nil, fmt.Errorf("acq: channel %v was not acquired: %w", ch, ErrNoChannel)
	}
	if r.volts[ch] != nil {
		return r.volts[ch], nil
	}
	volts, err := r.rdr.volts(ch)
	if err != nil {
		return nil, err
	}
	r.volts[ch] = volts
	return volts, nil
}
