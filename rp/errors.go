// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rp

import (
	"fmt"
	"strings"
)

// StatusCode is the status returned by a board primitive.
type StatusCode int

const (
	OK   StatusCode = iota // success
	EOED                   // failed to open EEPROM device
	EOMD                   // failed to open memory device
	ECMD                   // failed to close memory device
	EMMD                   // failed to map memory device
	EUMD                   // failed to unmap memory device
	EOOR                   // value out of range
	ELID                   // LED input direction is not valid
	EMRO                   // modifying read only field
	EWIP                   // writing to input pin is not valid
	EPN                    // invalid pin number
	UIA                    // uninitialized input argument
	FCA                    // failed to find calibration parameters
	RCA                    // failed to read calibration parameters
	BTS                    // buffer too small
	EIPV                   // invalid parameter value
	EUF                    // unsupported feature
	ENN                    // data not normalized
	EFOB                   // failed to open bus
	EFCB                   // failed to close bus
	EABA                   // failed to acquire bus access
	EFRB                   // failed to read from the bus
	EFWB                   // failed to write to the bus
	EMNC                   // extension module not connected
	NOTS                   // command not supported
)

var statusMsgs = [...]string{
	OK:   "Success",
	EOED: "Failed to Open EEPROM Device",
	EOMD: "Failed to Open Memory Device",
	ECMD: "Failed to Close Memory Device",
	EMMD: "Failed to Map Memory Device",
	EUMD: "Failed to Unmap Memory Device",
	EOOR: "Value Out Of Range",
	ELID: "LED Input Direction is not valid",
	EMRO: "Modifying Read Only field",
	EWIP: "Writing to Input Pin is not valid",
	EPN:  "Invalid Pin number",
	UIA:  "Uninitialized Input Argument",
	FCA:  "Failed to Find Calibration Parameters",
	RCA:  "Failed to Read Calibration Parameters",
	BTS:  "Buffer too small",
	EIPV: "Invalid parameter value",
	EUF:  "Unsupported Feature",
	ENN:  "Data not normalized",
	EFOB: "Failed to open bus",
	EFCB: "Failed to close bus",
	EABA: "Failed to acquire bus access",
	EFRB: "Failed to read from the bus",
	EFWB: "Failed to write to the bus",
	EMNC: "Extension module not connected",
	NOTS: "Command not supported",
}

func (code StatusCode) String() string {
	if code < 0 || int(code) >= len(statusMsgs) {
		return fmt.Sprintf("Unknown error %d", int(code))
	}
	return statusMsgs[code]
}

// Error is returned when a board primitive does not succeed.
type Error struct {
	Op   string        // name of the failed primitive
	Args []interface{} // arguments of the failed call
	Code StatusCode

	Err error // underlying error, if any
}

// Errorf returns a new *Error for the op primitive.
func Errorf(code StatusCode, op string, args ...interface{}) *Error {
	return &Error{Op: op, Args: args, Code: code}
}

func (e *Error) Error() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "rp: while calling %s with arguments %v: %v (%d)",
		e.Op, e.Args, e.Code, int(e.Code),
	)
	if e.Err != nil {
		fmt.Fprintf(o, ": %v", e.Err)
	}
	return o.String()
}

func (e *Error) Unwrap() error { return e.Err }
