// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rp

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestDecimation(t *testing.T) {
	if got, want := len(Decimations), 17; got != want {
		t.Fatalf("invalid number of decimations: got=%d, want=%d", got, want)
	}

	for i, dec := range Decimations {
		if !dec.Valid() {
			t.Fatalf("decimation %v should be valid", dec)
		}
		if got, want := dec.Factor(), 1<<i; got != want {
			t.Fatalf("invalid factor: got=%d, want=%d", got, want)
		}
		v, ok := DecimationFrom(1 << i)
		if !ok || v != dec {
			t.Fatalf("invalid decimation from factor %d: got=%v (ok=%v)", 1<<i, v, ok)
		}
	}

	for _, factor := range []int{-1, 0, 3, 6, 1000, 1 << 17} {
		t.Run(fmt.Sprintf("invalid-%d", factor), func(t *testing.T) {
			if _, ok := DecimationFrom(factor); ok {
				t.Fatalf("factor %d should be invalid", factor)
			}
		})
	}

	if got, want := Dec1024.String(), "DEC_1024"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}
	if got, want := Dec4.SamplingRate(), 31.25e6; got != want {
		t.Fatalf("invalid sampling rate: got=%v, want=%v", got, want)
	}
}

func TestStringers(t *testing.T) {
	for _, tc := range []struct {
		v    fmt.Stringer
		want string
	}{
		{CH1, "CH1"},
		{CH2, "CH2"},
		{Channel(7), "Channel(7)"},
		{TrigEXT, "TRIG_EXT"},
		{TrigSrcChBNE, "CHB_NE"},
		{TrigSrcAWGPE, "AWG_PE"},
		{TriggerSource(10), "TriggerSource(10)"},
		{Waiting, "WAITING"},
		{Triggered, "TRIGGERED"},
		{High, "HIGH"},
		{Low, "LOW"},
	} {
		if got := tc.v.String(); got != tc.want {
			t.Fatalf("invalid stringer: got=%q, want=%q", got, tc.want)
		}
	}
}

func TestCountsVolts(t *testing.T) {
	for _, tc := range []struct {
		volts float64
		st    PinState
		want  int16
	}{
		{0, Low, 0},
		{0.5, Low, 4096},
		{-0.5, Low, -4096},
		{1, Low, 8191},
		{-1, Low, -8192},
		{2, Low, 8191},
		{5, High, 2048},
		{-20, High, -8192},
	} {
		t.Run(fmt.Sprintf("%v-%v", tc.volts, tc.st), func(t *testing.T) {
			if got := Counts(tc.volts, tc.st); got != tc.want {
				t.Fatalf("invalid counts: got=%d, want=%d", got, tc.want)
			}
		})
	}

	if got, want := Volts(4096, Low), float32(0.5); got != want {
		t.Fatalf("invalid volts: got=%v, want=%v", got, want)
	}
	if got, want := Volts(-2048, High), float32(-5); got != want {
		t.Fatalf("invalid volts: got=%v, want=%v", got, want)
	}
}

func TestError(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want string
	}{
		{
			err:  Errorf(EOOR, "SetDecimation", Decimation(3)),
			want: "rp: while calling SetDecimation with arguments [DEC_3]: Value Out Of Range (6)",
		},
		{
			err:  Errorf(OK, "Start"),
			want: "rp: while calling Start with arguments []: Success (0)",
		},
		{
			err:  Errorf(StatusCode(99), "Stop"),
			want: "rp: while calling Stop with arguments []: Unknown error 99 (99)",
		},
		{
			err:  &Error{Op: "DNA", Code: EFRB, Err: io.EOF},
			want: "rp: while calling DNA with arguments []: Failed to read from the bus (21): EOF",
		},
		{
			err:  Errorf(NOTS, "AXIEnable", CH2, true),
			want: "rp: while calling AXIEnable with arguments [CH2 true]: Command not supported (24)",
		},
	} {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("invalid error message:\ngot= %q\nwant=%q", got, tc.want)
			}
		})
	}

	err := fmt.Errorf("wrapped: %w", &Error{Op: "DNA", Code: EFRB, Err: io.EOF})
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("could not find *Error in chain")
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("could not find underlying error in chain")
	}
}
