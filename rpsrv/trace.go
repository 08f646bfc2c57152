// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpsrv

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-daq/tdaq"

	"github.com/go-lpc/redpitaya/acq"
	"github.com/go-lpc/redpitaya/rp"
)

// Trace is the payload of a /traces frame.
type Trace struct {
	Run          uint32
	Seq          uint64 // acquisition number within the run
	Timestamp    time.Time
	SamplingRate float64
	Offset       int64 // offset of the first sample with respect to the trigger

	Channels [2]bool
	Gains    [2]rp.PinState
	Data     [2][]int16 // ADC counts of the enabled channels
}

func newTrace(run uint32, seq uint64, ctl *acq.Controller, res *acq.Result) (Trace, error) {
	tr := Trace{
		Run:          run,
		Seq:          seq,
		Timestamp:    res.Timestamp,
		SamplingRate: res.SamplingRate(),
		Channels:     res.Channels,
	}

	tbins, err := res.TimeRaw()
	if err != nil {
		return tr, fmt.Errorf("rpsrv: could not read time bins: %w", err)
	}
	if len(tbins) > 0 {
		tr.Offset = tbins[0]
	}

	for _, ch := range rp.Channels {
		if !res.Channels[ch] {
			continue
		}
		tr.Gains[ch], err = ctl.Gain(ch)
		if err != nil {
			return tr, fmt.Errorf("rpsrv: could not read gain of %v: %w", ch, err)
		}
		tr.Data[ch], err = res.Raw(ch)
		if err != nil {
			return tr, fmt.Errorf("rpsrv: could not read samples of %v: %w", ch, err)
		}
	}

	return tr, nil
}

// Volts returns the samples of a channel in volts.
func (tr Trace) Volts(ch rp.Channel) []float32 {
	if ch > rp.CH2 {
		return nil
	}
	out := make([]float32, len(tr.Data[ch]))
	for i, v := range tr.Data[ch] {
		out[i] = rp.Volts(v, tr.Gains[ch])
	}
	return out
}

func (tr Trace) MarshalTDAQ() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(tr.Run)
	enc.WriteU64(tr.Seq)
	enc.WriteI64(tr.Timestamp.UnixNano())
	enc.WriteF64(tr.SamplingRate)
	enc.WriteI64(tr.Offset)
	for ch := range tr.Data {
		var on uint8
		if tr.Channels[ch] {
			on = 1
		}
		enc.WriteU8(on)
		enc.WriteU8(uint8(tr.Gains[ch]))
		enc.WriteU32(uint32(len(tr.Data[ch])))
		for _, v := range tr.Data[ch] {
			enc.WriteI16(v)
		}
	}
	return buf.Bytes(), enc.Err()
}

func (tr *Trace) UnmarshalTDAQ(p []byte) error {
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	tr.Run = dec.ReadU32()
	tr.Seq = dec.ReadU64()
	tr.Timestamp = time.Unix(0, dec.ReadI64()).UTC()
	tr.SamplingRate = dec.ReadF64()
	tr.Offset = dec.ReadI64()
	for ch := range tr.Data {
		tr.Channels[ch] = dec.ReadU8() == 1
		tr.Gains[ch] = rp.PinState(dec.ReadU8())
		n := int(dec.ReadU32())
		if dec.Err() != nil {
			break
		}
		tr.Data[ch] = nil
		if n > 0 {
			tr.Data[ch] = make([]int16, n)
		}
		for i := range tr.Data[ch] {
			tr.Data[ch][i] = dec.ReadI16()
		}
	}
	return dec.Err()
}
