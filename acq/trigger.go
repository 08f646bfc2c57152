// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"

	"github.com/go-lpc/redpitaya/rp"
)

// Source names the signal a trigger is derived from.
type Source string

const (
	SrcCH1      Source = "ch1"
	SrcCH2      Source = "ch2"
	SrcExt      Source = "ext"
	SrcInt      Source = "internal" // signal generator
	SrcDisabled Source = "disabled"
	SrcNow      Source = "now"
)

// Trigger describes a trigger condition.
type Trigger struct {
	Source       Source  `json:"source" koanf:"source" yaml:"source"`
	Level        float64 `json:"level" koanf:"level" yaml:"level"`
	PositiveEdge bool    `json:"positive_edge" koanf:"positive_edge" yaml:"positive_edge"`
}

// TriggerSettings is the current trigger configuration.
// Level and PositiveEdge are nil for the disabled and now sources.
type TriggerSettings struct {
	Source       Source   `json:"source"`
	Level        *float64 `json:"level"`
	PositiveEdge *bool    `json:"positive_edge"`
}

type edge struct {
	src Source
	pos bool
}

var (
	trigSources = map[edge]rp.TriggerSource{
		{SrcCH1, true}:  rp.TrigSrcChAPE,
		{SrcCH1, false}: rp.TrigSrcChANE,
		{SrcCH2, true}:  rp.TrigSrcChBPE,
		{SrcCH2, false}: rp.TrigSrcChBNE,
		{SrcExt, true}:  rp.TrigSrcExtPE,
		{SrcExt, false}: rp.TrigSrcExtNE,
		{SrcInt, true}:  rp.TrigSrcAWGPE,
		{SrcInt, false}: rp.TrigSrcAWGNE,
	}
	trigEdges = invert(trigSources)

	trigChans = map[Source]rp.TriggerChannel{
		SrcCH1: rp.TrigCH1,
		SrcCH2: rp.TrigCH2,
		SrcExt: rp.TrigEXT,
		SrcInt: rp.TrigCH1,
	}

	// short names accepted on input.
	srcAliases = map[Source]Source{
		"int": SrcInt,
	}
)

func invert(m map[edge]rp.TriggerSource) map[rp.TriggerSource]edge {
	inv := make(map[rp.TriggerSource]edge, len(m))
	for k, v := range m {
		if _, dup := inv[v]; dup {
			panic(fmt.Errorf("acq: trigger source %v mapped twice", v))
		}
		inv[v] = k
	}
	return inv
}

// ConfigureTrigger stores the trigger condition used by the next
// acquisitions and programs its level.
// The trigger source itself is only programmed when arming.
func (ctl *Controller) ConfigureTrigger(trg Trigger) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.busy() {
		return ErrBusy
	}

	if src, ok := srcAliases[trg.Source]; ok {
		trg.Source = src
	}

	switch trg.Source {
	case SrcDisabled:
		ctl.trig.src = rp.TrigSrcDisabled
		return nil
	case SrcNow:
		ctl.trig.src = rp.TrigSrcNow
		return nil
	}

	src, ok := trigSources[edge{trg.Source, trg.PositiveEdge}]
	if !ok {
		return fmt.Errorf("%w source %q", ErrUnknownTrigger, trg.Source)
	}
	tch := trigChans[trg.Source]

	ctl.trig.src = src
	ctl.trig.ch = tch
	ctl.trig.level = trg.Level

	return ctl.drv.SetTriggerLevel(tch, trg.Level)
}

// TriggerSettings returns the configured trigger source and edge, and the
// trigger level as read back from the board.
func (ctl *Controller) TriggerSettings() (TriggerSettings, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.triggerSettings()
}

func (ctl *Controller) triggerSettings() (TriggerSettings, error) {
	switch ctl.trig.src {
	case rp.TrigSrcDisabled:
		return TriggerSettings{Source: SrcDisabled}, nil
	case rp.TrigSrcNow:
		return TriggerSettings{Source: SrcNow}, nil
	}

	e, ok := trigEdges[ctl.trig.src]
	if !ok {
		return TriggerSettings{}, fmt.Errorf("%w source %v", ErrUnknownTrigger, ctl.trig.src)
	}

	level, err := ctl.drv.TriggerLevel(trigChans[e.src])
	if err != nil {
		return TriggerSettings{}, err
	}

	return TriggerSettings{
		Source:       e.src,
		Level:        &level,
		PositiveEdge: &e.pos,
	}, nil
}
