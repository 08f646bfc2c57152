// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rphttp exposes an acquisition controller over HTTP.
//
// Requests and replies are JSON encoded. The routes are:
//
//	GET  /trigger          current trigger settings
//	POST /trigger          configure the trigger
//	GET  /timebase         timebase settings read back from the board
//	POST /timebase         configure the timebase
//	GET  /channel/{ch}     enable state and gain of a channel
//	POST /channel/{ch}     enable a channel and set its gain
//	POST /acquire          arm a new acquisition
//	GET  /result/ready     whether the last acquisition is done
//	POST /result/wait      wait for the last acquisition
//	POST /result/cancel    cancel the last acquisition
//	GET  /result           samples of the last acquisition (raw=1 for ADC counts)
//	GET  /metadata         board, timebase and trigger settings
package rphttp // import "github.com/go-lpc/redpitaya/rphttp"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"

	"github.com/go-lpc/redpitaya/acq"
	"github.com/go-lpc/redpitaya/config"
	"github.com/go-lpc/redpitaya/rp"
)

var errNoResult = errors.New("rphttp: no acquisition")

// Server serves the HTTP routes of an acquisition controller.
type Server struct {
	ctl *acq.Controller
	mux chi.Router
}

// New creates a new HTTP server for the provided controller.
func New(ctl *acq.Controller) *Server {
	srv := &Server{
		ctl: ctl,
		mux: chi.NewRouter(),
	}

	srv.mux.Get("/trigger", srv.handleGetTrigger)
	srv.mux.Post("/trigger", srv.handleSetTrigger)
	srv.mux.Get("/timebase", srv.handleGetTimebase)
	srv.mux.Post("/timebase", srv.handleSetTimebase)
	srv.mux.Get("/channel/{ch}", srv.handleGetChannel)
	srv.mux.Post("/channel/{ch}", srv.handleSetChannel)
	srv.mux.Post("/acquire", srv.handleAcquire)
	srv.mux.Get("/result/ready", srv.handleReady)
	srv.mux.Post("/result/wait", srv.handleWait)
	srv.mux.Post("/result/cancel", srv.handleCancel)
	srv.mux.Get("/result", srv.handleResult)
	srv.mux.Get("/metadata", srv.handleMetadata)

	return srv
}

// Router returns the router holding the server routes.
func (srv *Server) Router() chi.Router {
	return srv.mux
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.mux.ServeHTTP(w, r)
}

// Timebase is the payload of a timebase configuration request.
// A positive Duration selects the timebase from a trace duration and a
// trigger position.
type Timebase struct {
	Samples    int     `json:"samples"`
	Decimation int     `json:"decimation"`
	Delay      float64 `json:"delay"`
	Units      string  `json:"units"`

	Duration float64 `json:"duration,omitempty"`
	Position float64 `json:"position,omitempty"`
}

// Channel is the payload of a channel configuration request.
type Channel struct {
	Enabled bool `json:"enabled"`
	Gain    int  `json:"gain"` // 1 (LV) or 20 (HV)
}

// Status describes the state of the last acquisition.
type Status struct {
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
	Ready     bool      `json:"ready"`
	Samples   int       `json:"samples"`
}

// Trace holds the samples of an acquisition.
type Trace struct {
	Timestamp time.Time    `json:"timestamp"`
	Metadata  acq.Metadata `json:"metadata"`
	Raw       bool         `json:"raw"`
	Time      interface{}  `json:"time"`
	CH1       interface{}  `json:"ch1,omitempty"`
	CH2       interface{}  `json:"ch2,omitempty"`
}

func (srv *Server) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	trg, err := srv.ctl.TriggerSettings()
	if err != nil {
		httpError(w, err)
		return
	}
	respond(w, trg)
}

func (srv *Server) handleSetTrigger(w http.ResponseWriter, r *http.Request) {
	var trg acq.Trigger
	if !decode(w, r, &trg) {
		return
	}
	err := srv.ctl.ConfigureTrigger(trg)
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) handleGetTimebase(w http.ResponseWriter, r *http.Request) {
	tbs, err := srv.ctl.TimebaseSettings()
	if err != nil {
		httpError(w, err)
		return
	}
	respond(w, tbs)
}

func (srv *Server) handleSetTimebase(w http.ResponseWriter, r *http.Request) {
	var tb Timebase
	if !decode(w, r, &tb) {
		return
	}

	if tb.Duration > 0 {
		dt, err := srv.ctl.ConfigureTimebaseForDuration(tb.Duration, tb.Position)
		if err != nil {
			httpError(w, err)
			return
		}
		respond(w, map[string]float64{"trace_duration": dt})
		return
	}

	dec, ok := rp.DecimationFrom(tb.Decimation)
	if !ok {
		httpError(w, badRequest(fmt.Errorf("rphttp: invalid decimation %d", tb.Decimation)))
		return
	}
	units, err := acq.ParseUnits(tb.Units)
	if err != nil {
		httpError(w, badRequest(err))
		return
	}

	n, err := srv.ctl.ConfigureTimebase(tb.Samples, dec, tb.Delay, units)
	if err != nil {
		httpError(w, err)
		return
	}
	respond(w, map[string]float64{"delay_samples": n})
}

func (srv *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := channel(r)
	if err != nil {
		httpError(w, err)
		return
	}
	st, err := srv.ctl.Gain(ch)
	if err != nil {
		httpError(w, err)
		return
	}
	respond(w, Channel{
		Enabled: srv.ctl.Channels()[ch],
		Gain:    int(st.FullScale()),
	})
}

func (srv *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := channel(r)
	if err != nil {
		httpError(w, err)
		return
	}

	req := Channel{Gain: 1}
	if !decode(w, r, &req) {
		return
	}

	st, err := config.Gain(req.Gain)
	if err != nil {
		httpError(w, badRequest(err))
		return
	}

	err = srv.ctl.SetGain(ch, st)
	if err != nil {
		httpError(w, err)
		return
	}
	err = srv.ctl.EnableChannel(ch, req.Enabled)
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Now bool `json:"now"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	res, err := srv.ctl.Acquire(req.Now)
	if err != nil {
		httpError(w, err)
		return
	}
	respond(w, Status{
		Timestamp: res.Timestamp,
		State:     res.State().String(),
		Samples:   res.Samples(),
	})
}

func (srv *Server) last(w http.ResponseWriter) *acq.Result {
	res := srv.ctl.Last()
	if res == nil {
		httpError(w, errNoResult)
	}
	return res
}

func (srv *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	res := srv.last(w)
	if res == nil {
		return
	}

	ok, err := res.Ready()
	if err != nil {
		httpError(w, err)
		return
	}
	respond(w, Status{
		Timestamp: res.Timestamp,
		State:     res.State().String(),
		Ready:     ok,
		Samples:   res.Samples(),
	})
}

func (srv *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	res := srv.last(w)
	if res == nil {
		return
	}

	err := res.Wait(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	res := srv.last(w)
	if res == nil {
		return
	}

	err := res.Cancel()
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res := srv.last(w)
	if res == nil {
		return
	}

	raw := false
	if v := r.URL.Query().Get("raw"); v != "" {
		var err error
		raw, err = strconv.ParseBool(v)
		if err != nil {
			httpError(w, badRequest(fmt.Errorf("rphttp: invalid raw parameter %q: %w", v, err)))
			return
		}
	}

	err := res.Collect(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}

	tr, err := trace(res, raw)
	if err != nil {
		httpError(w, err)
		return
	}
	respond(w, tr)
}

func trace(res *acq.Result, raw bool) (Trace, error) {
	tr := Trace{
		Timestamp: res.Timestamp,
		Metadata:  res.Metadata,
		Raw:       raw,
	}

	var err error
	if raw {
		tr.Time, err = res.TimeRaw()
	} else {
		tr.Time, err = res.Time()
	}
	if err != nil {
		return tr, err
	}

	for _, ch := range rp.Channels {
		if !res.Channels[ch] {
			continue
		}
		var vs interface{}
		if raw {
			vs, err = res.Raw(ch)
		} else {
			vs, err = res.Volts(ch)
		}
		if err != nil {
			return tr, err
		}
		switch ch {
		case rp.CH1:
			tr.CH1 = vs
		case rp.CH2:
			tr.CH2 = vs
		}
	}
	return tr, nil
}

func (srv *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := srv.ctl.Metadata()
	if err != nil {
		httpError(w, err)
		return
	}
	respond(w, meta)
}

func channel(r *http.Request) (rp.Channel, error) {
	v := strings.TrimPrefix(strings.ToLower(chi.URLParam(r, "ch")), "ch")
	switch v {
	case "1":
		return rp.CH1, nil
	case "2":
		return rp.CH2, nil
	}
	return 0, badRequest(fmt.Errorf("rphttp: invalid channel %q", chi.URLParam(r, "ch")))
}

type errBadRequest struct {
	err error
}

func badRequest(err error) error       { return errBadRequest{err} }
func (e errBadRequest) Error() string { return e.err.Error() }
func (e errBadRequest) Unwrap() error { return e.err }

func status(err error) int {
	var bad errBadRequest
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, errNoResult):
		return http.StatusNotFound
	case errors.Is(err, acq.ErrBusy), errors.Is(err, acq.ErrDataNotReady):
		return http.StatusConflict
	case errors.Is(err, acq.ErrMeasurementCanceled):
		return http.StatusGone
	case errors.Is(err, acq.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.Is(err, acq.ErrUnknownTrigger),
		errors.Is(err, acq.ErrNoSuitableDecimation),
		errors.Is(err, acq.ErrInsufficientMemory),
		errors.Is(err, acq.ErrNoChannel),
		errors.Is(err, acq.ErrInvalidArgument):
		return http.StatusBadRequest
	}
	var rerr *rp.Error
	if errors.As(err, &rerr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func httpError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), status(err))
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		httpError(w, badRequest(fmt.Errorf("rphttp: could not decode request: %w", err)))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
