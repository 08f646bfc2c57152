// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rp-http exposes a Red Pitaya board over HTTP.
//
// Example:
//
//	$> rp-http -addr :8000 -cfg rp.yml
//	$> curl -X POST localhost:8000/rp/acquire
//	$> curl -X POST localhost:8000/rp/result/wait
//	$> curl localhost:8000/rp/result?raw=1
package main // import "github.com/go-lpc/redpitaya/cmd/rp-http"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/go-lpc/redpitaya/acq"
	"github.com/go-lpc/redpitaya/config"
	"github.com/go-lpc/redpitaya/internal/fakerp"
	"github.com/go-lpc/redpitaya/rp"
	"github.com/go-lpc/redpitaya/rphttp"
)

func main() {
	var (
		addr = flag.String("addr", ":8000", "[ip]:port to listen on")
		cfg  = flag.String("cfg", "", "path to a YAML configuration file")
		sim  = flag.Bool("sim", false, "run against a simulated board")
	)

	log.SetPrefix("rp-http: ")
	log.SetFlags(0)

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, *addr, *cfg, *sim)
	if err != nil {
		log.Fatalf("could not run rp-http: %+v", err)
	}
}

func newRouter(ctl *acq.Controller) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount("/rp", rphttp.New(ctl).Router())
	return root
}

func run(ctx context.Context, addr, fname string, sim bool) error {
	cfg, err := config.Load(fname)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	var drv rp.Driver
	switch {
	case sim:
		drv = fakerp.New()
	default:
		brd, err := rp.Open(cfg.BoardOptions()...)
		if err != nil {
			return fmt.Errorf("could not open board: %w", err)
		}
		drv = brd
	}

	ctl, err := acq.New(drv, acq.WithMaxPolls(cfg.Run.MaxPolls))
	if err != nil {
		_ = drv.Close()
		return fmt.Errorf("could not create acquisition controller: %w", err)
	}
	defer ctl.Close()

	err = cfg.Apply(ctl)
	if err != nil {
		return fmt.Errorf("could not configure board: %w", err)
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: newRouter(ctl),
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		log.Printf("serving board on %q...", addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not serve: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		log.Printf("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return grp.Wait()
}
