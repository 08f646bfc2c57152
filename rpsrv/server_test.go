// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpsrv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/log"

	"github.com/go-lpc/redpitaya/config"
	"github.com/go-lpc/redpitaya/internal/fakerp"
	"github.com/go-lpc/redpitaya/rp"
	"github.com/go-lpc/redpitaya/runlog"
)

func newContext(ctx context.Context) tdaq.Context {
	return tdaq.Context{
		Ctx: ctx,
		Msg: log.NewMsgStream("rpsrv", log.LvlError, io.Discard),
	}
}

func frameStr(t *testing.T, s string) tdaq.Frame {
	t.Helper()
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteStr(s)
	if err := enc.Err(); err != nil {
		t.Fatalf("could not encode frame: %+v", err)
	}
	return tdaq.Frame{Body: buf.Bytes()}
}

func frameU32(t *testing.T, v uint32) tdaq.Frame {
	t.Helper()
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(v)
	if err := enc.Err(); err != nil {
		t.Fatalf("could not encode frame: %+v", err)
	}
	return tdaq.Frame{Body: buf.Bytes()}
}

type recorder struct {
	mu      sync.Mutex
	dsn     string
	entries []runlog.Entry
	closed  bool
}

func (rec *recorder) Record(ctx context.Context, e runlog.Entry) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.entries = append(rec.entries, e)
	return nil
}

func (rec *recorder) Close() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.closed = true
	return nil
}

const cfgYAML = `
ch1:
  enabled: true
ch2:
  enabled: true
  gain: 20
timebase:
  samples: 256
run:
  rate: 0
  db: "rp:s3cr3t@tcp(localhost:3306)/redpitaya"
`

func TestServer(t *testing.T) {
	dev := fakerp.New()
	rec := new(recorder)

	srv := New(func(cfg config.Config) (rp.Driver, error) {
		return dev, nil
	})
	srv.openDB = func(dsn string) (Recorder, error) {
		rec.dsn = dsn
		return rec, nil
	}

	ctx := newContext(context.Background())

	err := srv.OnConfig(ctx, nil, frameStr(t, cfgYAML))
	if err != nil {
		t.Fatalf("could not run /config: %+v", err)
	}

	err = srv.OnInit(ctx, nil, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not run /init: %+v", err)
	}
	if got, want := rec.dsn, "rp:s3cr3t@tcp(localhost:3306)/redpitaya"; got != want {
		t.Fatalf("invalid run log DSN: got=%q, want=%q", got, want)
	}

	err = srv.OnStart(ctx, nil, frameU32(t, 42))
	if err != nil {
		t.Fatalf("could not run /start: %+v", err)
	}
	if got, want := srv.Run(), uint32(42); got != want {
		t.Fatalf("invalid run number: got=%d, want=%d", got, want)
	}

	rctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Loop(newContext(rctx))
	}()

	const n = 3
	for i := 0; i < n; i++ {
		var frame tdaq.Frame
		err := srv.Traces(ctx, &frame)
		if err != nil {
			t.Fatalf("could not receive trace %d: %+v", i, err)
		}

		var tr Trace
		err = tr.UnmarshalTDAQ(frame.Body)
		if err != nil {
			t.Fatalf("could not decode trace %d: %+v", i, err)
		}

		if tr.Run != 42 || tr.Seq != uint64(i) {
			t.Fatalf("invalid trace header: run=%d, seq=%d", tr.Run, tr.Seq)
		}
		if tr.Channels != [2]bool{true, true} {
			t.Fatalf("invalid channels: %v", tr.Channels)
		}
		if tr.Gains != [2]rp.PinState{rp.Low, rp.High} {
			t.Fatalf("invalid gains: %v", tr.Gains)
		}
		if got, want := tr.Offset, int64(-128); got != want {
			t.Fatalf("invalid offset: got=%d, want=%d", got, want)
		}
		if got, want := tr.SamplingRate, rp.MaxSamplingRate; got != want {
			t.Fatalf("invalid sampling rate: got=%v, want=%v", got, want)
		}
		for _, ch := range rp.Channels {
			if got, want := len(tr.Data[ch]), 256; got != want {
				t.Fatalf("invalid number of samples for %v: got=%d, want=%d", ch, got, want)
			}
			for j, v := range tr.Data[ch] {
				if want := fakerp.Sine(ch, j); v != want {
					t.Fatalf("invalid sample %d of %v: got=%d, want=%d", j, ch, v, want)
				}
			}
		}
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("could not run acquisition loop: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("acquisition loop did not stop")
	}

	if got := srv.Acquisitions(); got < n {
		t.Fatalf("invalid number of acquisitions: got=%d, want>=%d", got, n)
	}

	rec.mu.Lock()
	if got := len(rec.entries); got < n {
		t.Fatalf("invalid number of recorded entries: got=%d, want>=%d", got, n)
	}
	if e := rec.entries[0]; e.Run != 42 || e.Samples != 256 || e.Channels != "ch1,ch2" || e.Output != "/traces" {
		t.Fatalf("invalid recorded entry: %+v", e)
	}
	rec.mu.Unlock()

	err = srv.OnStop(ctx, nil, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not run /stop: %+v", err)
	}

	err = srv.OnQuit(ctx, nil, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not run /quit: %+v", err)
	}
	if !dev.Closed() {
		t.Fatalf("board should be closed")
	}
	if !rec.closed {
		t.Fatalf("run log should be closed")
	}
}

func TestServerRunNumbers(t *testing.T) {
	srv := New(func(cfg config.Config) (rp.Driver, error) {
		return fakerp.New(), nil
	})
	ctx := newContext(context.Background())

	err := srv.OnStart(ctx, nil, tdaq.Frame{})
	if err == nil {
		t.Fatalf("expected an error starting an uninitialized board")
	}
	err = srv.Loop(ctx)
	if err == nil {
		t.Fatalf("expected an error running an uninitialized board")
	}

	err = srv.OnInit(ctx, nil, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not run /init: %+v", err)
	}

	for i := 1; i <= 3; i++ {
		err = srv.OnStart(ctx, nil, tdaq.Frame{})
		if err != nil {
			t.Fatalf("could not run /start: %+v", err)
		}
		if got, want := srv.Run(), uint32(i); got != want {
			t.Fatalf("invalid run number: got=%d, want=%d", got, want)
		}
	}

	err = srv.OnReset(ctx, nil, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not run /reset: %+v", err)
	}
	err = srv.OnStart(ctx, nil, tdaq.Frame{})
	if err == nil {
		t.Fatalf("expected an error starting a reset board")
	}
}

func TestServerErrors(t *testing.T) {
	ctx := newContext(context.Background())

	for _, tc := range []struct {
		name string
		run  func(srv *Server) error
	}{
		{
			name: "config-payload",
			run: func(srv *Server) error {
				return srv.OnConfig(ctx, nil, tdaq.Frame{})
			},
		},
		{
			name: "config-yaml",
			run: func(srv *Server) error {
				return srv.OnConfig(ctx, nil, frameStr(t, "trigger: [1, 2"))
			},
		},
		{
			name: "init-apply",
			run: func(srv *Server) error {
				err := srv.OnConfig(ctx, nil, frameStr(t, "trigger:\n  source: ch3\n"))
				if err != nil {
					return nil
				}
				return srv.OnInit(ctx, nil, tdaq.Frame{})
			},
		},
		{
			name: "init-open",
			run: func(srv *Server) error {
				srv.open = func(config.Config) (rp.Driver, error) {
					return nil, io.ErrUnexpectedEOF
				}
				return srv.OnInit(ctx, nil, tdaq.Frame{})
			},
		},
		{
			name: "init-db",
			run: func(srv *Server) error {
				srv.cfg.Run.DB = "not a dsn"
				srv.openDB = func(dsn string) (Recorder, error) {
					return nil, fmt.Errorf("invalid dsn %q", dsn)
				}
				return srv.OnInit(ctx, nil, tdaq.Frame{})
			},
		},
		{
			name: "start-payload",
			run: func(srv *Server) error {
				err := srv.OnInit(ctx, nil, tdaq.Frame{})
				if err != nil {
					return nil
				}
				return srv.OnStart(ctx, nil, tdaq.Frame{Body: []byte{1}})
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := New(func(cfg config.Config) (rp.Driver, error) {
				return fakerp.New(), nil
			})
			err := tc.run(srv)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestLoopFailure(t *testing.T) {
	dev := fakerp.New()

	var alerts []error
	srv := New(
		func(cfg config.Config) (rp.Driver, error) { return dev, nil },
		WithAlert(func(err error) { alerts = append(alerts, err) }),
	)
	ctx := newContext(context.Background())

	err := srv.OnInit(ctx, nil, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not run /init: %+v", err)
	}
	err = srv.OnStart(ctx, nil, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not run /start: %+v", err)
	}

	dev.Fail("ResetFPGA", rp.EFRB)

	err = srv.Loop(ctx)
	if err == nil {
		t.Fatalf("expected an error")
	}
	var rerr *rp.Error
	if !errors.As(err, &rerr) || rerr.Op != "ResetFPGA" {
		t.Fatalf("invalid error: %+v", err)
	}
	if len(alerts) != 1 || !errors.Is(alerts[0], err) {
		t.Fatalf("invalid alerts: %v", alerts)
	}
}

func TestTrace(t *testing.T) {
	want := Trace{
		Run:          7,
		Seq:          3,
		Timestamp:    time.Date(2024, 3, 14, 15, 9, 26, 535, time.UTC),
		SamplingRate: rp.Dec64.SamplingRate(),
		Offset:       -8192,
		Channels:     [2]bool{false, true},
		Gains:        [2]rp.PinState{rp.Low, rp.High},
		Data:         [2][]int16{nil, {-8192, -1, 0, 1, 8191}},
	}

	raw, err := want.MarshalTDAQ()
	if err != nil {
		t.Fatalf("could not encode trace: %+v", err)
	}

	var got Trace
	err = got.UnmarshalTDAQ(raw)
	if err != nil {
		t.Fatalf("could not decode trace: %+v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid round-trip:\ngot= %+v\nwant=%+v", got, want)
	}

	volts := got.Volts(rp.CH2)
	if got, want := volts[0], float32(-20); got != want {
		t.Fatalf("invalid volts: got=%v, want=%v", got, want)
	}
	if got.Volts(rp.CH1) == nil || len(got.Volts(rp.CH1)) != 0 {
		t.Fatalf("invalid volts for a disabled channel")
	}

	err = got.UnmarshalTDAQ(raw[:len(raw)-1])
	if err == nil {
		t.Fatalf("expected an error decoding a truncated trace")
	}
}
