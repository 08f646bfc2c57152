// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acq drives the acquisition engine of a Red Pitaya board.
//
// A Controller holds the trigger and timebase configuration, arms the
// board through an rp.Driver and hands back a Result for each
// acquisition. Traces that fit in the on-chip ring buffer are read
// directly from it, longer traces go through the AXI path into the
// reserved memory region.
package acq // import "github.com/go-lpc/redpitaya/acq"

import (
	"fmt"
	"strings"

	"github.com/go-lpc/redpitaya/rp"
)

const halfBuffer = rp.BufferSize / 2

// Units describes how a trigger delay is expressed.
type Units uint8

const (
	Trace  Units = iota // delay in units of the requested trace length
	Second              // delay in seconds
)

func (u Units) String() string {
	switch u {
	case Trace:
		return "trace"
	case Second:
		return "second"
	}
	return fmt.Sprintf("Units(%d)", uint8(u))
}

func (u Units) valid() bool {
	return u == Trace || u == Second
}

// ParseUnits returns the delay units named by s.
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "traces", "":
		return Trace, nil
	case "second", "seconds", "s":
		return Second, nil
	}
	return 0, errInvalid("delay units %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (u Units) MarshalText() ([]byte, error) {
	if !u.valid() {
		return nil, errInvalid("delay units %d", uint8(u))
	}
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Units) UnmarshalText(p []byte) error {
	v, err := ParseUnits(string(p))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
