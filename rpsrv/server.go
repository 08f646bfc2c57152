// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpsrv runs Red Pitaya acquisitions under the control of a tdaq
// run control.
//
// The configuration is pushed as a YAML document with the /config command.
// Once started, the board is armed at a bounded rate and every completed
// acquisition is sent on the /traces output as an encoded Trace.
package rpsrv // import "github.com/go-lpc/redpitaya/rpsrv"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"

	"github.com/go-daq/tdaq"
	"golang.org/x/time/rate"

	"github.com/go-lpc/redpitaya/acq"
	"github.com/go-lpc/redpitaya/config"
	"github.com/go-lpc/redpitaya/rp"
	"github.com/go-lpc/redpitaya/runlog"
)

// Recorder logs completed acquisitions.
type Recorder interface {
	Record(ctx context.Context, e runlog.Entry) error
	Close() error
}

// Server drives a board from tdaq commands.
type Server struct {
	open   func(cfg config.Config) (rp.Driver, error)
	openDB func(dsn string) (Recorder, error)
	alert  func(err error)
	msg    *log.Logger

	cfg config.Config
	ctl *acq.Controller
	db  Recorder
	lim *rate.Limiter

	data chan []byte

	mu  sync.Mutex
	run uint32
	n   uint64 // number of acquisitions in the current run
}

// Option configures a Server.
type Option func(*Server)

// WithAlert installs a function called when a run fails.
func WithAlert(f func(err error)) Option {
	return func(srv *Server) {
		srv.alert = f
	}
}

// WithLogger sets the logger of the acquisition controller.
func WithLogger(msg *log.Logger) Option {
	return func(srv *Server) {
		srv.msg = msg
	}
}

// New creates a server opening its board with open.
func New(open func(cfg config.Config) (rp.Driver, error), opts ...Option) *Server {
	srv := &Server{
		open: open,
		openDB: func(dsn string) (Recorder, error) {
			return runlog.Open(dsn)
		},
		alert: func(error) {},
		msg:   log.New(io.Discard, "", 0),
		cfg:   config.Default(),
		data:  make(chan []byte, 16),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Register installs the server handlers on a tdaq process.
func (srv *Server) Register(p *tdaq.Server) {
	p.CmdHandle("/config", srv.OnConfig)
	p.CmdHandle("/init", srv.OnInit)
	p.CmdHandle("/reset", srv.OnReset)
	p.CmdHandle("/start", srv.OnStart)
	p.CmdHandle("/stop", srv.OnStop)
	p.CmdHandle("/quit", srv.OnQuit)

	p.OutputHandle("/traces", srv.Traces)

	p.RunHandle(srv.Loop)
}

// Run returns the current run number.
func (srv *Server) Run() uint32 {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.run
}

// Acquisitions returns the number of acquisitions of the current run.
func (srv *Server) Acquisitions() uint64 {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.n
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
	raw := dec.ReadStr()
	if err := dec.Err(); err != nil {
		ctx.Msg.Errorf("could not decode /config payload: %+v", err)
		return fmt.Errorf("rpsrv: could not decode /config payload: %w", err)
	}

	cfg, err := config.Parse([]byte(raw))
	if err != nil {
		ctx.Msg.Errorf("could not parse configuration: %+v", err)
		return fmt.Errorf("rpsrv: could not parse configuration: %w", err)
	}

	srv.cfg = cfg
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	err := srv.close()
	if err != nil {
		ctx.Msg.Errorf("could not close previous board: %+v", err)
	}

	drv, err := srv.open(srv.cfg)
	if err != nil {
		ctx.Msg.Errorf("could not open board: %+v", err)
		return fmt.Errorf("rpsrv: could not open board: %w", err)
	}

	ctl, err := acq.New(
		drv,
		acq.WithLogger(srv.msg),
		acq.WithMaxPolls(srv.cfg.Run.MaxPolls),
	)
	if err != nil {
		_ = drv.Close()
		ctx.Msg.Errorf("could not create acquisition controller: %+v", err)
		return fmt.Errorf("rpsrv: could not create acquisition controller: %w", err)
	}

	err = srv.cfg.Apply(ctl)
	if err != nil {
		_ = ctl.Close()
		ctx.Msg.Errorf("could not configure board: %+v", err)
		return fmt.Errorf("rpsrv: could not configure board: %w", err)
	}

	if dsn := srv.cfg.Run.DB; dsn != "" {
		db, err := srv.openDB(dsn)
		if err != nil {
			_ = ctl.Close()
			ctx.Msg.Errorf("could not open run log: %+v", err)
			return fmt.Errorf("rpsrv: could not open run log: %w", err)
		}
		srv.db = db
	}

	srv.ctl = ctl
	srv.lim = rate.NewLimiter(limit(srv.cfg.Run.Rate), 1)

	ctx.Msg.Infof("board initialized (samples=%d, channels=%v)", ctl.Samples(), ctl.Channels())
	return nil
}

func limit(hz float64) rate.Limit {
	if hz <= 0 || math.IsInf(hz, +1) {
		return rate.Inf
	}
	return rate.Limit(hz)
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	srv.mu.Lock()
	srv.n = 0
	srv.mu.Unlock()

	err := srv.close()
	if err != nil {
		ctx.Msg.Errorf("could not close board: %+v", err)
		return fmt.Errorf("rpsrv: could not reset: %w", err)
	}
	return nil
}

// OnStart starts a new run.
// The run number is read from the request when present, and incremented
// otherwise.
func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	if srv.ctl == nil {
		return fmt.Errorf("rpsrv: board not initialized")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	switch {
	case len(req.Body) > 0:
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		run := dec.ReadU32()
		if err := dec.Err(); err != nil {
			return fmt.Errorf("rpsrv: could not decode run number: %w", err)
		}
		srv.run = run
	default:
		srv.run++
	}
	srv.n = 0

	ctx.Msg.Infof("starting run %d...", srv.run)
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.mu.Lock()
	run, n := srv.run, srv.n
	srv.mu.Unlock()

	ctx.Msg.Debugf("received /stop command... -> run=%d, n=%d", run, n)

	if srv.ctl == nil {
		return nil
	}
	if res := srv.ctl.Last(); res != nil {
		err := res.Cancel()
		if err != nil {
			return fmt.Errorf("rpsrv: could not cancel acquisition: %w", err)
		}
	}
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return srv.close()
}

func (srv *Server) close() error {
	var errs []error
	if srv.ctl != nil {
		errs = append(errs, srv.ctl.Close())
		srv.ctl = nil
	}
	if srv.db != nil {
		errs = append(errs, srv.db.Close())
		srv.db = nil
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Traces sends the encoded traces of the current run.
func (srv *Server) Traces(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

// Loop acquires traces until the run is stopped.
func (srv *Server) Loop(ctx tdaq.Context) error {
	if srv.ctl == nil {
		return fmt.Errorf("rpsrv: board not initialized")
	}

	for {
		err := srv.lim.Wait(ctx.Ctx)
		if err != nil {
			if ctx.Ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rpsrv: could not wait for rate limiter: %w", err)
		}

		err = srv.acquire(ctx)
		switch {
		case err == nil:
			// ok.
		case ctx.Ctx.Err() != nil:
			return nil
		default:
			ctx.Msg.Errorf("could not acquire trace: %+v", err)
			srv.alert(err)
			return err
		}
	}
}

func (srv *Server) acquire(ctx tdaq.Context) error {
	res, err := srv.ctl.Acquire(false)
	if err != nil {
		return fmt.Errorf("rpsrv: could not arm board: %w", err)
	}

	err = res.Wait(ctx.Ctx)
	if err != nil {
		if errors.Is(err, acq.ErrTimeout) {
			ctx.Msg.Warnf("no trigger after %d polls", srv.cfg.Run.MaxPolls)
		}
		_ = res.Cancel()
		return fmt.Errorf("rpsrv: could not wait for acquisition: %w", err)
	}

	srv.mu.Lock()
	run, seq := srv.run, srv.n
	srv.mu.Unlock()

	tr, err := newTrace(run, seq, srv.ctl, res)
	if err != nil {
		return err
	}

	raw, err := tr.MarshalTDAQ()
	if err != nil {
		return fmt.Errorf("rpsrv: could not encode trace: %w", err)
	}

	select {
	case srv.data <- raw:
	case <-ctx.Ctx.Done():
		return ctx.Ctx.Err()
	}

	srv.mu.Lock()
	srv.n++
	srv.mu.Unlock()

	if srv.db != nil {
		err = srv.db.Record(ctx.Ctx, runlog.NewEntry(run, res, "/traces"))
		if err != nil {
			return fmt.Errorf("rpsrv: could not record acquisition: %w", err)
		}
	}

	return nil
}
