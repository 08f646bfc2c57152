// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rp exposes the acquisition primitives of a Red Pitaya board:
// decimation, trigger source, level and delay, buffer and trigger state,
// direct and AXI buffer read-out.
//
// Failing primitives return a *Error carrying the name of the operation,
// its arguments and a status code.
package rp // import "github.com/go-lpc/redpitaya/rp"

import (
	"fmt"
)

const (
	// BufferSize is the number of samples held by the on-chip ring buffer.
	BufferSize = 16 * 1024

	// MaxSamplingRate is the ADC sampling rate (in Hz) at decimation 1.
	MaxSamplingRate = 125e6
)

// Channel is an analog input channel.
type Channel uint8

const (
	CH1 Channel = iota // channel A
	CH2                // channel B
)

// Channels lists all the analog input channels.
var Channels = []Channel{CH1, CH2}

func (ch Channel) String() string {
	switch ch {
	case CH1:
		return "CH1"
	case CH2:
		return "CH2"
	default:
		return fmt.Sprintf("Channel(%d)", uint8(ch))
	}
}

// TriggerChannel is a channel a trigger level can be attached to.
type TriggerChannel uint8

const (
	TrigCH1 TriggerChannel = iota
	TrigCH2
	TrigEXT
)

func (ch TriggerChannel) String() string {
	switch ch {
	case TrigCH1:
		return "TRIG_CH1"
	case TrigCH2:
		return "TRIG_CH2"
	case TrigEXT:
		return "TRIG_EXT"
	default:
		return fmt.Sprintf("TriggerChannel(%d)", uint8(ch))
	}
}

// TriggerSource is the native trigger source of the acquisition engine.
// Values match the content of the trigger source register.
type TriggerSource uint8

const (
	TrigSrcDisabled TriggerSource = iota
	TrigSrcNow
	TrigSrcChAPE // channel A, positive edge
	TrigSrcChANE // channel A, negative edge
	TrigSrcChBPE
	TrigSrcChBNE
	TrigSrcExtPE // external trigger on DIO0_P
	TrigSrcExtNE
	TrigSrcAWGPE // arbitrary waveform generator
	TrigSrcAWGNE
)

var trigSrcNames = [...]string{
	TrigSrcDisabled: "DISABLED",
	TrigSrcNow:      "NOW",
	TrigSrcChAPE:    "CHA_PE",
	TrigSrcChANE:    "CHA_NE",
	TrigSrcChBPE:    "CHB_PE",
	TrigSrcChBNE:    "CHB_NE",
	TrigSrcExtPE:    "EXT_PE",
	TrigSrcExtNE:    "EXT_NE",
	TrigSrcAWGPE:    "AWG_PE",
	TrigSrcAWGNE:    "AWG_NE",
}

func (src TriggerSource) Valid() bool {
	return int(src) < len(trigSrcNames)
}

func (src TriggerSource) String() string {
	if !src.Valid() {
		return fmt.Sprintf("TriggerSource(%d)", uint8(src))
	}
	return trigSrcNames[src]
}

// TriggerState describes whether the acquisition engine still waits
// for its trigger condition.
type TriggerState uint8

const (
	Triggered TriggerState = iota // triggered or disabled
	Waiting
)

func (st TriggerState) String() string {
	switch st {
	case Triggered:
		return "TRIGGERED"
	case Waiting:
		return "WAITING"
	default:
		return fmt.Sprintf("TriggerState(%d)", uint8(st))
	}
}

// Decimation is the clock divider applied to the ADC stream.
// Only powers of two from 1 to 65536 are supported.
type Decimation uint32

const (
	Dec1     Decimation = 1
	Dec2     Decimation = 2
	Dec4     Decimation = 4
	Dec8     Decimation = 8
	Dec16    Decimation = 16
	Dec32    Decimation = 32
	Dec64    Decimation = 64
	Dec128   Decimation = 128
	Dec256   Decimation = 256
	Dec512   Decimation = 512
	Dec1024  Decimation = 1024
	Dec2048  Decimation = 2048
	Dec4096  Decimation = 4096
	Dec8192  Decimation = 8192
	Dec16384 Decimation = 16384
	Dec32768 Decimation = 32768
	Dec65536 Decimation = 65536
)

// Decimations lists the supported decimations, in increasing order.
var Decimations = []Decimation{
	Dec1, Dec2, Dec4, Dec8, Dec16, Dec32, Dec64, Dec128, Dec256,
	Dec512, Dec1024, Dec2048, Dec4096, Dec8192, Dec16384, Dec32768,
	Dec65536,
}

// DecimationFrom returns the decimation with the provided factor.
func DecimationFrom(factor int) (Decimation, bool) {
	dec := Decimation(factor)
	if factor <= 0 || !dec.Valid() {
		return 0, false
	}
	return dec, true
}

// Valid reports whether dec is a supported decimation.
func (dec Decimation) Valid() bool {
	return dec != 0 && dec <= Dec65536 && dec&(dec-1) == 0
}

// Factor returns the decimation factor.
func (dec Decimation) Factor() int { return int(dec) }

// SamplingRate returns the sampling rate (in Hz) at this decimation.
func (dec Decimation) SamplingRate() float64 {
	return MaxSamplingRate / float64(dec)
}

func (dec Decimation) String() string {
	return fmt.Sprintf("DEC_%d", uint32(dec))
}

// PinState selects the input attenuation of an analog channel.
type PinState uint8

const (
	Low  PinState = iota // LV, 1:1
	High                 // HV, 1:20
)

func (st PinState) String() string {
	switch st {
	case Low:
		return "LOW"
	case High:
		return "HIGH"
	default:
		return fmt.Sprintf("PinState(%d)", uint8(st))
	}
}

// FullScale returns the full scale voltage of the input stage.
func (st PinState) FullScale() float64 {
	if st == High {
		return 20
	}
	return 1
}
