// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"errors"
	"fmt"
)

var (
	ErrNoSuitableDecimation = errors.New("acq: no suitable decimation")
	ErrDataNotReady         = errors.New("acq: data not ready")
	ErrMeasurementCanceled  = errors.New("acq: measurement canceled")
	ErrInsufficientMemory   = errors.New("acq: insufficient reserved memory")
	ErrNoChannel            = errors.New("acq: no channel enabled")
	ErrBusy                 = errors.New("acq: acquisition in flight")
	ErrTimeout              = errors.New("acq: timeout waiting for trigger")
	ErrUnknownTrigger       = errors.New("acq: unknown trigger")

	// ErrInvalidArgument matches every argument validation failure.
	ErrInvalidArgument = errors.New("acq: invalid argument")
)

type invalidError struct {
	msg string
}

func (e invalidError) Error() string        { return e.msg }
func (e invalidError) Is(target error) bool { return target == ErrInvalidArgument }

func errInvalid(format string, args ...interface{}) error {
	return invalidError{msg: fmt.Sprintf("acq: invalid "+format, args...)}
}
