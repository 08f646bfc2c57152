// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the configuration of a Red Pitaya acquisition.
package config // import "github.com/go-lpc/redpitaya/config"

import (
	"fmt"
	"io"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"

	"github.com/go-lpc/redpitaya/acq"
	"github.com/go-lpc/redpitaya/rp"
)

// Config is the configuration of a board and of its acquisitions.
type Config struct {
	DevMem   string   `koanf:"devmem" yaml:"devmem"`
	Reserved Memory   `koanf:"reserved" yaml:"reserved"`
	CH1      Channel  `koanf:"ch1" yaml:"ch1"`
	CH2      Channel  `koanf:"ch2" yaml:"ch2"`
	Trigger  Trigger  `koanf:"trigger" yaml:"trigger"`
	Timebase Timebase `koanf:"timebase" yaml:"timebase"`
	Run      Run      `koanf:"run" yaml:"run"`
}

// Memory is the physical memory region reserved for AXI acquisitions.
type Memory struct {
	Start uint32 `koanf:"start" yaml:"start"`
	Size  uint32 `koanf:"size" yaml:"size"`
}

// Channel configures an input channel.
type Channel struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`
	Gain    int  `koanf:"gain" yaml:"gain"` // 1 (LV) or 20 (HV)
}

// Trigger configures the trigger condition.
type Trigger struct {
	Source       string  `koanf:"source" yaml:"source"`
	Level        float64 `koanf:"level" yaml:"level"`
	PositiveEdge bool    `koanf:"positive_edge" yaml:"positive_edge"`
}

// Timebase configures the acquisition window.
//
// When Duration is positive, the shortest window covering Duration
// seconds is selected and the trigger is placed at Position, a fraction
// of the trace. Otherwise Samples, Decimation, Delay and Units are used.
type Timebase struct {
	Samples    int     `koanf:"samples" yaml:"samples"`
	Decimation int     `koanf:"decimation" yaml:"decimation"`
	Delay      float64 `koanf:"delay" yaml:"delay"`
	Units      string  `koanf:"units" yaml:"units"`

	Duration float64 `koanf:"duration" yaml:"duration"`
	Position float64 `koanf:"position" yaml:"position"`
}

// Run configures a series of acquisitions.
type Run struct {
	Rate     float64 `koanf:"rate" yaml:"rate"` // maximum number of acquisitions per second
	MaxPolls uint64  `koanf:"max_polls" yaml:"max_polls"`
	Output   string  `koanf:"output" yaml:"output"`
	Raw      bool    `koanf:"raw" yaml:"raw"`
	DB       string  `koanf:"db" yaml:"db"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DevMem: "/dev/mem",
		Reserved: Memory{
			Start: 0x01000000,
			Size:  0x01000000,
		},
		CH1: Channel{Enabled: true, Gain: 1},
		CH2: Channel{Enabled: false, Gain: 1},
		Trigger: Trigger{
			Source:       string(acq.SrcCH1),
			Level:        0,
			PositiveEdge: true,
		},
		Timebase: Timebase{
			Samples:    1024,
			Decimation: 1,
			Delay:      0.5,
			Units:      acq.Trace.String(),
		},
		Run: Run{
			Rate:   10,
			Output: "rp-trace.csv",
		},
	}
}

// Load loads the configuration from the provided YAML file, on top of
// the defaults.
// An empty file name loads the defaults.
func Load(fname string) (Config, error) {
	k, err := defaults()
	if err != nil {
		return Config{}, err
	}

	if fname != "" {
		err = k.Load(file.Provider(fname), yaml.Parser())
		if err != nil {
			return Config{}, fmt.Errorf("config: could not load %q: %w", fname, err)
		}
	}

	return unmarshal(k)
}

// Parse parses a YAML configuration, on top of the defaults.
func Parse(raw []byte) (Config, error) {
	k, err := defaults()
	if err != nil {
		return Config{}, err
	}

	err = k.Load(rawbytes.Provider(raw), yaml.Parser())
	if err != nil {
		return Config{}, fmt.Errorf("config: could not parse configuration: %w", err)
	}

	return unmarshal(k)
}

func defaults() (*koanf.Koanf, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(Default(), "koanf"), nil)
	if err != nil {
		return nil, fmt.Errorf("config: could not load defaults: %w", err)
	}
	return k, nil
}

func unmarshal(k *koanf.Koanf) (Config, error) {
	var cfg Config
	err := k.Unmarshal("", &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: could not decode configuration: %w", err)
	}
	return cfg, nil
}

// Write writes the configuration as YAML.
func Write(w io.Writer, cfg Config) error {
	raw, err := yml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: could not encode configuration: %w", err)
	}
	_, err = w.Write(raw)
	if err != nil {
		return fmt.Errorf("config: could not write configuration: %w", err)
	}
	return nil
}

// BoardOptions returns the options to open the board with.
func (cfg Config) BoardOptions() []rp.Option {
	return []rp.Option{
		rp.WithDevMem(cfg.DevMem),
		rp.WithReservedMemory(cfg.Reserved.Start, cfg.Reserved.Size),
	}
}

// Gain returns the input range selected by a gain of 1 (LV) or 20 (HV).
func Gain(v int) (rp.PinState, error) {
	switch v {
	case 1:
		return rp.Low, nil
	case 20:
		return rp.High, nil
	}
	return rp.Low, fmt.Errorf("config: invalid gain %d (want 1 or 20)", v)
}

// Apply programs the channels, trigger and timebase on the controller.
func (cfg Config) Apply(ctl *acq.Controller) error {
	for i, ch := range []Channel{cfg.CH1, cfg.CH2} {
		var (
			id      = rp.Channel(i)
			st, err = Gain(ch.Gain)
		)
		if err != nil {
			return fmt.Errorf("config: invalid %v configuration: %w", id, err)
		}
		err = ctl.SetGain(id, st)
		if err != nil {
			return fmt.Errorf("config: could not set %v gain: %w", id, err)
		}
		err = ctl.EnableChannel(id, ch.Enabled)
		if err != nil {
			return fmt.Errorf("config: could not enable %v: %w", id, err)
		}
	}

	err := ctl.ConfigureTrigger(acq.Trigger{
		Source:       acq.Source(cfg.Trigger.Source),
		Level:        cfg.Trigger.Level,
		PositiveEdge: cfg.Trigger.PositiveEdge,
	})
	if err != nil {
		return fmt.Errorf("config: could not configure trigger: %w", err)
	}

	tb := cfg.Timebase
	if tb.Duration > 0 {
		_, err = ctl.ConfigureTimebaseForDuration(tb.Duration, tb.Position)
		if err != nil {
			return fmt.Errorf("config: could not configure timebase: %w", err)
		}
		return nil
	}

	dec, ok := rp.DecimationFrom(tb.Decimation)
	if !ok {
		return fmt.Errorf("config: invalid decimation %d", tb.Decimation)
	}
	units, err := acq.ParseUnits(tb.Units)
	if err != nil {
		return fmt.Errorf("config: invalid timebase: %w", err)
	}
	_, err = ctl.ConfigureTimebase(tb.Samples, dec, tb.Delay, units)
	if err != nil {
		return fmt.Errorf("config: could not configure timebase: %w", err)
	}
	return nil
}
