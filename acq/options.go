// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"log"
	"os"
	"time"
)

type config struct {
	msg   *log.Logger
	sleep func(time.Duration)
	now   func() time.Time
	polls uint64
}

func newConfig() config {
	return config{
		msg:   log.New(os.Stdout, "acq: ", 0),
		sleep: time.Sleep,
		now:   time.Now,
	}
}

// Option configures a Controller.
type Option func(*config)

func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSleep sets the function used to pause between two polls of the
// board state.
func WithSleep(sleep func(time.Duration)) Option {
	return func(cfg *config) {
		cfg.sleep = sleep
	}
}

// WithClock sets the function used to timestamp results.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.now = now
	}
}

// WithMaxPolls bounds the number of times Result.Wait polls the board
// again after a negative answer, before giving up with ErrTimeout.
// Zero means no limit.
func WithMaxPolls(n uint64) Option {
	return func(cfg *config) {
		cfg.polls = n
	}
}
