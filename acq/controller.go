// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/go-lpc/redpitaya"
	"github.com/go-lpc/redpitaya/rp"
)

// Controller arms acquisitions on a Red Pitaya board.
//
// A Controller owns its driver and keeps at most one acquisition in
// flight.
type Controller struct {
	mu    sync.Mutex
	msg   *log.Logger
	drv   rp.Driver
	sleep func(time.Duration)
	now   func() time.Time
	polls uint64

	dev DeviceMetadata

	chans [2]struct {
		enabled bool
		gain    rp.PinState
	}

	trig struct {
		src   rp.TriggerSource
		ch    rp.TriggerChannel
		level float64
	}

	tb struct {
		samples int
		dec     rp.Decimation
		delay   int // trigger delay register
	}

	last *Result
}

// DeviceMetadata identifies the board a controller is attached to.
type DeviceMetadata struct {
	ID      uint32 `json:"id"`
	DNA     uint64 `json:"dna"`
	Version string `json:"version"`
}

// TimebaseSettings describes the timebase programmed on the board.
type TimebaseSettings struct {
	Decimation          int     `json:"decimation"`
	SamplingRate        float64 `json:"sampling_rate"`
	TraceDuration       float64 `json:"trace_duration"`
	TriggerDelay        float64 `json:"trigger_delay"`
	TriggerDelaySamples float64 `json:"trigger_delay_samples"`
}

// Metadata is a snapshot of the board and acquisition settings.
type Metadata struct {
	Device   DeviceMetadata   `json:"device"`
	Timebase TimebaseSettings `json:"timebase"`
	Trigger  TriggerSettings  `json:"trigger"`
}

// New creates a controller for the provided board.
//
// Both channels are set to the low gain and disabled, the trigger is set
// to a positive edge at 0V on CH1, and the timebase to 1024 samples at
// full rate with the trigger in the middle of the trace.
func New(drv rp.Driver, opts ...Option) (*Controller, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctl := &Controller{
		msg:   cfg.msg,
		drv:   drv,
		sleep: cfg.sleep,
		now:   cfg.now,
		polls: cfg.polls,
	}

	var err error
	ctl.dev.ID, err = drv.ID()
	if err != nil {
		return nil, fmt.Errorf("acq: could not read board ID: %w", err)
	}
	ctl.dev.DNA, err = drv.DNA()
	if err != nil {
		return nil, fmt.Errorf("acq: could not read board DNA: %w", err)
	}
	ctl.dev.Version, _ = redpitaya.Version()

	for _, ch := range rp.Channels {
		err = ctl.SetGain(ch, rp.Low)
		if err != nil {
			return nil, fmt.Errorf("acq: could not set %v gain: %w", ch, err)
		}
	}

	err = ctl.ConfigureTrigger(Trigger{Source: SrcCH1, PositiveEdge: true})
	if err != nil {
		return nil, fmt.Errorf("acq: could not configure default trigger: %w", err)
	}

	_, err = ctl.ConfigureTimebase(1024, rp.Dec1, 0.5, Trace)
	if err != nil {
		return nil, fmt.Errorf("acq: could not configure default timebase: %w", err)
	}

	return ctl, nil
}

// busy reports whether an acquisition is in flight.
// busy must be called with ctl.mu held.
func (ctl *Controller) busy() bool {
	return ctl.last != nil && ctl.last.state == Running
}

// Busy reports whether an acquisition is in flight.
func (ctl *Controller) Busy() bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.busy()
}

// Last returns the result of the last acquisition, if any.
func (ctl *Controller) Last() *Result {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.last
}

// Samples returns the number of samples of the configured timebase.
func (ctl *Controller) Samples() int {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.tb.samples
}

// Channels returns the enabled state of both channels.
func (ctl *Controller) Channels() [2]bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.enabled()
}

func (ctl *Controller) enabled() [2]bool {
	return [2]bool{ctl.chans[0].enabled, ctl.chans[1].enabled}
}

// EnableChannel selects whether a channel takes part in the next
// acquisitions.
func (ctl *Controller) EnableChannel(ch rp.Channel, enable bool) error {
	if ch > rp.CH2 {
		return errInvalid("channel %v", ch)
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.busy() {
		return ErrBusy
	}
	ctl.chans[ch].enabled = enable
	return nil
}

// SetGain selects the input range of a channel.
func (ctl *Controller) SetGain(ch rp.Channel, st rp.PinState) error {
	if ch > rp.CH2 {
		return errInvalid("channel %v", ch)
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.busy() {
		return ErrBusy
	}
	err := ctl.drv.SetGain(ch, st)
	if err != nil {
		return err
	}
	ctl.chans[ch].gain = st
	return nil
}

// Gain returns the input range of a channel.
func (ctl *Controller) Gain(ch rp.Channel) (rp.PinState, error) {
	if ch > rp.CH2 {
		return rp.Low, errInvalid("channel %v", ch)
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.chans[ch].gain, nil
}

// ConfigureTimebase sets the number of samples, the decimation and the
// trigger delay of the next acquisitions.
// The delay is expressed in units and is returned in samples.
//
// Traces longer than the ring buffer are acquired through the AXI path.
func (ctl *Controller) ConfigureTimebase(samples int, dec rp.Decimation, delay float64, units Units) (float64, error) {
	switch {
	case samples <= 0:
		return 0, errInvalid("number of samples %d", samples)
	case !dec.Valid():
		return 0, errInvalid("decimation %v", dec)
	case !units.valid():
		return 0, errInvalid("delay units %v", units)
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.busy() {
		return 0, ErrBusy
	}

	n, hw := TriggerDelay(delay, units, samples, dec.SamplingRate())

	ctl.tb.samples = samples
	ctl.tb.dec = dec
	ctl.tb.delay = hw

	return n, nil
}

// ConfigureTimebaseForDuration selects the shortest ring buffer window
// that covers hint seconds, and places the trigger at position, a
// fraction of the trace.
// A position of 0 puts the trigger at the beginning of the trace, 1 at
// its end and negative values before the trace.
//
// ConfigureTimebaseForDuration returns the actual duration of the window.
func (ctl *Controller) ConfigureTimebaseForDuration(hint, position float64) (float64, error) {
	if hint <= 0 {
		return 0, errInvalid("trace duration %g", hint)
	}
	if position > 1 || position < -1e5 {
		return 0, errInvalid("trigger position %g", position)
	}

	dec, err := BestDecimation(hint)
	if err != nil {
		return 0, err
	}
	rate := dec.SamplingRate()
	n := int(math.Ceil(hint * rate))
	if n > rp.BufferSize {
		n = rp.BufferSize
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.busy() {
		return 0, ErrBusy
	}

	ctl.tb.samples = n
	ctl.tb.dec = dec
	ctl.tb.delay = int(float64(n)*(-position) + halfBuffer)

	return window(dec), nil
}

// TimebaseSettings reads back the timebase programmed on the board.
func (ctl *Controller) TimebaseSettings() (TimebaseSettings, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.timebaseSettings()
}

func (ctl *Controller) timebaseSettings() (TimebaseSettings, error) {
	var tbs TimebaseSettings
	dec, err := ctl.drv.DecimationFactor()
	if err != nil {
		return tbs, err
	}
	rate, err := ctl.drv.SamplingRate()
	if err != nil {
		return tbs, err
	}
	delay, err := ctl.drv.TriggerDelay()
	if err != nil {
		return tbs, err
	}

	tbs.Decimation = dec
	tbs.SamplingRate = rate
	tbs.TraceDuration = float64(rp.BufferSize) / rate
	tbs.TriggerDelaySamples = float64(delay - halfBuffer)
	tbs.TriggerDelay = tbs.TriggerDelaySamples / rate
	return tbs, nil
}

// Metadata returns a snapshot of the board, timebase and trigger settings.
func (ctl *Controller) Metadata() (Metadata, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.metadata()
}

func (ctl *Controller) metadata() (Metadata, error) {
	var (
		meta = Metadata{Device: ctl.dev}
		err  error
	)
	meta.Timebase, err = ctl.timebaseSettings()
	if err != nil {
		return meta, err
	}
	meta.Trigger, err = ctl.triggerSettings()
	if err != nil {
		return meta, err
	}
	return meta, nil
}

// Acquire arms the board and returns the result of the acquisition.
// A still running previous acquisition is read out first, and its error,
// if any, is returned.
// If now is true, the board is triggered right away.
func (ctl *Controller) Acquire(now bool) (*Result, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.busy() {
		ctl.msg.Printf("finalizing previous acquisition...")
		err := ctl.last.read()
		if err != nil {
			return nil, err
		}
	}

	var (
		rdr reader
		err error
	)
	switch {
	case ctl.tb.samples > rp.BufferSize:
		rdr, err = ctl.armAXI(now)
	default:
		rdr, err = ctl.armDirect(now)
	}
	if err != nil {
		return nil, err
	}

	meta, err := ctl.metadata()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Timestamp: ctl.now().UTC(),
		Channels:  ctl.enabled(),
		Metadata:  meta,
		ctl:       ctl,
		rdr:       rdr,
		state:     Running,
	}
	ctl.last = res
	return res, nil
}

func (ctl *Controller) armDirect(now bool) (reader, error) {
	err := ctl.drv.ResetFPGA()
	if err != nil {
		return nil, err
	}

	err = ctl.drv.Start()
	if err != nil {
		return nil, err
	}

	err = ctl.drv.SetDecimation(ctl.tb.dec)
	if err != nil {
		return nil, err
	}

	err = ctl.trigger(now)
	if err != nil {
		return nil, err
	}

	tb, err := ctl.timebase()
	if err != nil {
		return nil, err
	}
	return &direct{drv: ctl.drv, tb: tb}, nil
}

// armAXI validates the reserved memory layout before touching any
// register.
func (ctl *Controller) armAXI(now bool) (reader, error) {
	chans := ctl.enabled()
	start, size, err := ctl.drv.MemoryRegion()
	if err != nil {
		return nil, err
	}

	addrs, err := partition(start, size, ctl.tb.samples, chans)
	if err != nil {
		return nil, err
	}

	err = ctl.drv.ResetFPGA()
	if err != nil {
		return nil, err
	}

	err = ctl.drv.AXISetDecimationFactor(ctl.tb.dec)
	if err != nil {
		return nil, err
	}

	for _, ch := range rp.Channels {
		if !chans[ch] {
			continue
		}
		err = ctl.drv.AXISetTriggerDelay(ch, ctl.tb.delay)
		if err != nil {
			return nil, err
		}
		err = ctl.drv.AXISetBufferSamples(ch, addrs[ch], ctl.tb.samples)
		if err != nil {
			return nil, err
		}
		err = ctl.drv.AXIEnable(ch, true)
		if err != nil {
			return nil, err
		}
	}

	err = ctl.trigger(now)
	if err != nil {
		return nil, err
	}

	err = ctl.drv.Start()
	if err != nil {
		return nil, err
	}

	tb, err := ctl.timebase()
	if err != nil {
		return nil, err
	}
	return &axi{drv: ctl.drv, tb: tb, chans: chans}, nil
}

// trigger programs the trigger of an acquisition.
func (ctl *Controller) trigger(now bool) error {
	if now {
		return ctl.drv.SetTriggerSource(rp.TrigSrcNow)
	}

	switch ctl.trig.src {
	case rp.TrigSrcDisabled, rp.TrigSrcNow:
		// no level to program.
	default:
		err := ctl.drv.SetTriggerLevel(ctl.trig.ch, ctl.trig.level)
		if err != nil {
			return err
		}
	}

	err := ctl.drv.SetTriggerDelay(ctl.tb.delay)
	if err != nil {
		return err
	}

	return ctl.drv.SetTriggerSource(ctl.trig.src)
}

func (ctl *Controller) timebase() (timebase, error) {
	rate, err := ctl.drv.SamplingRate()
	if err != nil {
		return timebase{}, err
	}
	return timebase{
		samples: ctl.tb.samples,
		rate:    rate,
		delay:   ctl.tb.delay,
	}, nil
}

// Close cancels the acquisition in flight, if any, and releases the board.
func (ctl *Controller) Close() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.busy() {
		ctl.msg.Printf("canceling acquisition in flight...")
		err := ctl.last.cancel()
		if err != nil {
			ctl.msg.Printf("could not cancel acquisition: %+v", err)
		}
	}

	err := ctl.drv.Close()
	if err != nil {
		return fmt.Errorf("acq: could not release board: %w", err)
	}
	return nil
}
