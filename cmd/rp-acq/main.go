// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rp-acq runs one acquisition on a Red Pitaya board and saves the
// trace to a CSV file.
//
// Usage: rp-acq [options] [mkconf|version]
//
// Example:
//
//	$> rp-acq mkconf > rp.yml
//	$> rp-acq -cfg rp.yml -o trace.csv
//	rp-acq: trace saved to "trace.csv"
package main // import "github.com/go-lpc/redpitaya/cmd/rp-acq"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.com/go-lpc/redpitaya"
	"github.com/go-lpc/redpitaya/acq"
	"github.com/go-lpc/redpitaya/config"
	"github.com/go-lpc/redpitaya/internal/fakerp"
	"github.com/go-lpc/redpitaya/rp"
)

func main() {
	log.SetPrefix("rp-acq: ")
	log.SetFlags(0)

	err := xmain(os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type options struct {
	cfg     string
	oname   string
	raw     bool
	now     bool
	timeout time.Duration
	sim     bool
	spin    bool
}

func xmain(args []string, stdout, stderr io.Writer) error {
	var (
		opts options
		fset = flag.NewFlagSet("rp-acq", flag.ContinueOnError)
	)
	fset.StringVar(&opts.cfg, "cfg", "", "path to a YAML configuration file")
	fset.StringVar(&opts.oname, "o", "", "path to the output CSV file (overrides the configuration)")
	fset.BoolVar(&opts.raw, "raw", false, "save ADC counts instead of volts")
	fset.BoolVar(&opts.now, "now", false, "trigger right away")
	fset.DurationVar(&opts.timeout, "timeout", 0, "maximum time to wait for the trigger (0: no limit)")
	fset.BoolVar(&opts.sim, "sim", false, "run against a simulated board")
	fset.BoolVar(&opts.spin, "spin", true, "display a spinner while waiting for the trigger")
	fset.SetOutput(stderr)
	fset.Usage = func() {
		fmt.Fprintf(stderr, `rp-acq runs one acquisition on a Red Pitaya board.

Usage: rp-acq [options] [mkconf|version]

Commands:
  mkconf   write a configuration template to stdout
  version  print the version of rp-acq

Options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	switch fset.Arg(0) {
	case "":
	case "mkconf":
		return config.Write(stdout, config.Default())
	case "version":
		version, sum := redpitaya.Version()
		if version == "" {
			version = "(devel)"
		}
		fmt.Fprintf(stdout, "rp-acq %s %s\n", version, sum)
		return nil
	default:
		fset.Usage()
		return fmt.Errorf("unknown command %q", fset.Arg(0))
	}

	cfg, err := config.Load(opts.cfg)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}
	if opts.oname != "" {
		cfg.Run.Output = opts.oname
	}
	if opts.raw {
		cfg.Run.Raw = true
	}

	return run(cfg, opts, stderr)
}

func open(cfg config.Config, sim bool) (rp.Driver, error) {
	if sim {
		return fakerp.New(), nil
	}
	brd, err := rp.Open(cfg.BoardOptions()...)
	if err != nil {
		return nil, err
	}
	return brd, nil
}

func run(cfg config.Config, opts options, stderr io.Writer) error {
	drv, err := open(cfg, opts.sim)
	if err != nil {
		return fmt.Errorf("could not open board: %w", err)
	}

	ctl, err := acq.New(
		drv,
		acq.WithLogger(log.New(stderr, "acq: ", 0)),
		acq.WithMaxPolls(cfg.Run.MaxPolls),
	)
	if err != nil {
		_ = drv.Close()
		return fmt.Errorf("could not create acquisition controller: %w", err)
	}
	defer ctl.Close()

	err = cfg.Apply(ctl)
	if err != nil {
		return fmt.Errorf("could not configure board: %w", err)
	}

	ctx := context.Background()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	res, err := ctl.Acquire(opts.now)
	if err != nil {
		return fmt.Errorf("could not arm board: %w", err)
	}

	err = wait(ctx, res, opts.spin, stderr)
	if err != nil {
		_ = res.Cancel()
		return fmt.Errorf("could not acquire trace: %w", err)
	}

	err = res.SaveCSV(cfg.Run.Output, cfg.Run.Raw)
	if err != nil {
		return fmt.Errorf("could not save trace: %w", err)
	}
	fmt.Fprintf(stderr, "rp-acq: trace saved to %q\n", cfg.Run.Output)

	return nil
}

func wait(ctx context.Context, res *acq.Result, spin bool, w io.Writer) error {
	if !spin {
		return res.Wait(ctx)
	}

	sp, err := yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " ",
		Message:           "waiting for trigger...",
		StopCharacter:     "✓",
		StopMessage:       "triggered",
		StopFailCharacter: "✗",
		StopFailMessage:   "no trigger",
	})
	if err != nil {
		return fmt.Errorf("could not create spinner: %w", err)
	}

	err = sp.Start()
	if err != nil {
		return fmt.Errorf("could not start spinner: %w", err)
	}

	err = res.Wait(ctx)
	if err != nil {
		_ = sp.StopFail()
		return err
	}
	return sp.Stop()
}
