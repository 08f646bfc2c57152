// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"

	"github.com/cenkalti/backoff"
)

// Wait blocks until the acquisition is done: the board is not waiting
// for the trigger anymore and, when a channel is enabled, its buffer is
// full.
//
// The board is polled at an interval of a thousandth of the trace
// duration, and at most every 100µs.
// Wait returns ErrTimeout when the controller poll budget is exhausted,
// and the context error when ctx is done.
func (r *Result) Wait(ctx context.Context) error {
	ctl := r.ctl

	ctl.mu.Lock()
	switch r.state {
	case Completed:
		ctl.mu.Unlock()
		return nil
	case Canceled:
		ctl.mu.Unlock()
		return ErrMeasurementCanceled
	}
	conds := r.rdr.conds(r.Channels)
	ctl.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	var bo backoff.BackOff = backoff.NewConstantBackOff(r.rdr.params().interval())
	if ctl.polls > 0 {
		bo = backoff.WithMaxRetries(bo, ctl.polls)
	}
	bo = backoff.WithContext(bo, ctx)
	bo.Reset()

	for _, cond := range conds {
		for {
			done, ok, err := r.poll(cond)
			switch {
			case err != nil:
				return err
			case done:
				return nil
			}
			if ok {
				break
			}

			d := bo.NextBackOff()
			if d == backoff.Stop {
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrTimeout
			}
			ctl.sleep(d)
		}
	}
	return nil
}

// poll evaluates a condition on the board state.
// done reports whether the result left the running state meanwhile.
func (r *Result) poll(cond cond) (done, ok bool, err error) {
	r.ctl.mu.Lock()
	defer r.ctl.mu.Unlock()

	switch r.state {
	case Completed:
		return true, true, nil
	case Canceled:
		return true, false, ErrMeasurementCanceled
	}

	ok, err = cond()
	return false, ok, err
}
