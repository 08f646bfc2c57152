// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rp-ctl is an interactive shell driving a Red Pitaya board.
//
// Example:
//
//	$> rp-ctl -sim
//	rp> channel 1 on 1
//	rp> trigger ch1 0.2 pos
//	rp> timebase 4096 8 0.5 trace
//	rp> acquire
//	rp> wait
//	rp> save trace.csv
//	rp> quit
package main // import "github.com/go-lpc/redpitaya/cmd/rp-ctl"

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/go-lpc/redpitaya/acq"
	"github.com/go-lpc/redpitaya/config"
	"github.com/go-lpc/redpitaya/internal/fakerp"
	"github.com/go-lpc/redpitaya/rp"
)

func main() {
	var (
		fname = flag.String("cfg", "", "path to a YAML configuration file")
		sim   = flag.Bool("sim", false, "run against a simulated board")
	)

	log.SetPrefix("rp-ctl: ")
	log.SetFlags(0)

	flag.Parse()

	cfg, err := config.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	var drv rp.Driver
	switch {
	case *sim:
		drv = fakerp.New()
	default:
		brd, err := rp.Open(cfg.BoardOptions()...)
		if err != nil {
			log.Fatalf("could not open board: %+v", err)
		}
		drv = brd
	}

	ctl, err := acq.New(drv, acq.WithMaxPolls(cfg.Run.MaxPolls))
	if err != nil {
		_ = drv.Close()
		log.Fatalf("could not create acquisition controller: %+v", err)
	}
	defer ctl.Close()

	err = cfg.Apply(ctl)
	if err != nil {
		log.Fatalf("could not configure board: %+v", err)
	}

	sh := newShell(ctl, os.Stdout)
	err = sh.run()
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var errQuit = errors.New("quit")

type command struct {
	help string
	run  func(sh *shell, args []string) error
}

var cmds map[string]command

func init() {
	cmds = map[string]command{
		"help":     {"help: list commands", (*shell).help},
		"quit":     {"quit: exit the shell", func(*shell, []string) error { return errQuit }},
		"trigger":  {"trigger [src [level [pos|neg]]]: show or set the trigger", (*shell).trigger},
		"timebase": {"timebase [samples dec delay trace|seconds]: show or set the timebase", (*shell).timebase},
		"duration": {"duration seconds [position]: set the timebase from a trace duration", (*shell).duration},
		"channel":  {"channel 1|2 on|off [1|20]: enable a channel and set its gain", (*shell).channel},
		"acquire":  {"acquire [now]: arm the board", (*shell).acquire},
		"ready":    {"ready: check whether the last acquisition is done", (*shell).ready},
		"wait":     {"wait [timeout]: wait for the last acquisition", (*shell).wait},
		"cancel":   {"cancel: cancel the last acquisition", (*shell).cancel},
		"save":     {"save file.csv [raw]: save the last acquisition", (*shell).save},
		"metadata": {"metadata: show the board and acquisition settings", (*shell).metadata},
	}
}

type shell struct {
	ctl *acq.Controller
	w   io.Writer
}

func newShell(ctl *acq.Controller, w io.Writer) *shell {
	return &shell{ctl: ctl, w: w}
}

func (sh *shell) run() error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(complete)

	hist := filepath.Join(os.TempDir(), ".rp-ctl-history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("rp> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return nil
		default:
			fmt.Fprintf(sh.w, "error: %+v\n", err)
		}
	}
}

func complete(line string) []string {
	var out []string
	for name := range cmds {
		if strings.HasPrefix(name, strings.ToLower(line)) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (sh *shell) exec(line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	cmd, ok := cmds[strings.ToLower(toks[0])]
	if !ok {
		return fmt.Errorf("unknown command %q", toks[0])
	}
	return cmd.run(sh, toks[1:])
}

func (sh *shell) help(args []string) error {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sh.w, "  %s\n", cmds[name].help)
	}
	return nil
}

func (sh *shell) print(v interface{}) error {
	enc := json.NewEncoder(sh.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (sh *shell) trigger(args []string) error {
	if len(args) == 0 {
		trg, err := sh.ctl.TriggerSettings()
		if err != nil {
			return err
		}
		return sh.print(trg)
	}

	trg := acq.Trigger{Source: acq.Source(args[0]), PositiveEdge: true}
	if len(args) > 1 {
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid trigger level %q: %w", args[1], err)
		}
		trg.Level = v
	}
	if len(args) > 2 {
		switch args[2] {
		case "pos", "+":
			trg.PositiveEdge = true
		case "neg", "-":
			trg.PositiveEdge = false
		default:
			return fmt.Errorf("invalid trigger edge %q", args[2])
		}
	}
	return sh.ctl.ConfigureTrigger(trg)
}

func (sh *shell) timebase(args []string) error {
	if len(args) == 0 {
		tbs, err := sh.ctl.TimebaseSettings()
		if err != nil {
			return err
		}
		return sh.print(tbs)
	}
	if len(args) != 4 {
		return fmt.Errorf("timebase: expected 4 arguments, got %d", len(args))
	}

	samples, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid number of samples %q: %w", args[0], err)
	}
	factor, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid decimation %q: %w", args[1], err)
	}
	dec, ok := rp.DecimationFrom(factor)
	if !ok {
		return fmt.Errorf("invalid decimation %d", factor)
	}
	delay, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid delay %q: %w", args[2], err)
	}
	units, err := acq.ParseUnits(args[3])
	if err != nil {
		return err
	}

	n, err := sh.ctl.ConfigureTimebase(samples, dec, delay, units)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "trigger delay: %g samples\n", n)
	return nil
}

func (sh *shell) duration(args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("duration: expected 1 or 2 arguments, got %d", len(args))
	}
	hint, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", args[0], err)
	}
	pos := 0.5
	if len(args) > 1 {
		pos, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid trigger position %q: %w", args[1], err)
		}
	}

	dt, err := sh.ctl.ConfigureTimebaseForDuration(hint, pos)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "trace duration: %gs (%d samples)\n", dt, sh.ctl.Samples())
	return nil
}

func (sh *shell) channel(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("channel: expected 2 or 3 arguments, got %d", len(args))
	}

	var ch rp.Channel
	switch strings.TrimPrefix(strings.ToLower(args[0]), "ch") {
	case "1":
		ch = rp.CH1
	case "2":
		ch = rp.CH2
	default:
		return fmt.Errorf("invalid channel %q", args[0])
	}

	var enable bool
	switch args[1] {
	case "on":
		enable = true
	case "off":
		enable = false
	default:
		return fmt.Errorf("invalid channel state %q", args[1])
	}

	if len(args) == 3 {
		v, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid gain %q: %w", args[2], err)
		}
		st, err := config.Gain(v)
		if err != nil {
			return err
		}
		err = sh.ctl.SetGain(ch, st)
		if err != nil {
			return err
		}
	}
	return sh.ctl.EnableChannel(ch, enable)
}

func (sh *shell) acquire(args []string) error {
	now := len(args) > 0 && args[0] == "now"
	res, err := sh.ctl.Acquire(now)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "armed at %s (%d samples)\n", res.Timestamp.Format(time.RFC3339), res.Samples())
	return nil
}

func (sh *shell) last() (*acq.Result, error) {
	res := sh.ctl.Last()
	if res == nil {
		return nil, fmt.Errorf("no acquisition")
	}
	return res, nil
}

func (sh *shell) ready(args []string) error {
	res, err := sh.last()
	if err != nil {
		return err
	}
	ok, err := res.Ready()
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "ready: %v (state=%v)\n", ok, res.State())
	return nil
}

func (sh *shell) wait(args []string) error {
	res, err := sh.last()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if len(args) > 0 {
		timeout, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", args[0], err)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = res.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "triggered\n")
	return nil
}

func (sh *shell) cancel(args []string) error {
	res, err := sh.last()
	if err != nil {
		return err
	}
	return res.Cancel()
}

func (sh *shell) save(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("save: missing output file name")
	}
	res, err := sh.last()
	if err != nil {
		return err
	}
	raw := len(args) > 1 && args[1] == "raw"
	err = res.SaveCSV(args[0], raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "trace saved to %q\n", args[0])
	return nil
}

func (sh *shell) metadata(args []string) error {
	meta, err := sh.ctl.Metadata()
	if err != nil {
		return err
	}
	return sh.print(meta)
}
