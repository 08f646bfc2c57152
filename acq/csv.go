// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"time"

	"go-hep.org/x/hep/csvutil"

	"github.com/go-lpc/redpitaya/rp"
)

// SaveCSV writes the samples of the enabled channels to fname, one row
// per sample with the time as first column.
// Samples are written in ADC counts and sample offsets when raw is true,
// in volts and seconds otherwise.
// The timestamp and metadata of the result are written as leading
// comment lines.
func (r *Result) SaveCSV(fname string, raw bool) error {
	var (
		cols []func(i int) interface{}
		hdr  = []interface{}{"time"}
	)

	if raw {
		t, err := r.TimeRaw()
		if err != nil {
			return err
		}
		cols = append(cols, func(i int) interface{} { return t[i] })
	} else {
		t, err := r.Time()
		if err != nil {
			return err
		}
		cols = append(cols, func(i int) interface{} { return t[i] })
	}

	for _, ch := range rp.Channels {
		if !r.Channels[ch] {
			continue
		}
		hdr = append(hdr, fmt.Sprintf("ch%d", ch+1))
		if raw {
			vs, err := r.Raw(ch)
			if err != nil {
				return err
			}
			cols = append(cols, func(i int) interface{} { return vs[i] })
			continue
		}
		vs, err := r.Volts(ch)
		if err != nil {
			return err
		}
		cols = append(cols, func(i int) interface{} { return vs[i] })
	}

	tbl, err := csvutil.Create(fname)
	if err != nil {
		return fmt.Errorf("acq: could not create CSV file %q: %w", fname, err)
	}
	defer tbl.Close()
	tbl.Writer.Comma = ','

	for _, kv := range r.comments() {
		err = tbl.WriteRow(kv)
		if err != nil {
			return fmt.Errorf("acq: could not write CSV metadata: %w", err)
		}
	}

	err = tbl.WriteRow(hdr...)
	if err != nil {
		return fmt.Errorf("acq: could not write CSV header: %w", err)
	}

	row := make([]interface{}, len(cols))
	for i := 0; i < r.Samples(); i++ {
		for j, col := range cols {
			row[j] = col(i)
		}
		err = tbl.WriteRow(row...)
		if err != nil {
			return fmt.Errorf("acq: could not write CSV row %d: %w", i, err)
		}
	}

	err = tbl.Close()
	if err != nil {
		return fmt.Errorf("acq: could not close CSV file %q: %w", fname, err)
	}
	return nil
}

func (r *Result) comments() []string {
	var (
		meta = r.Metadata
		tbs  = meta.Timebase
		trg  = meta.Trigger
		out  = []string{
			fmt.Sprintf("# timestamp=%s", r.Timestamp.Format(time.RFC3339Nano)),
			fmt.Sprintf("# board_id=%d", meta.Device.ID),
			fmt.Sprintf("# board_dna=0x%x", meta.Device.DNA),
			fmt.Sprintf("# version=%s", meta.Device.Version),
			fmt.Sprintf("# decimation=%d", tbs.Decimation),
			fmt.Sprintf("# sampling_rate=%g", tbs.SamplingRate),
			fmt.Sprintf("# trace_duration=%g", tbs.TraceDuration),
			fmt.Sprintf("# trigger_delay=%g", tbs.TriggerDelay),
			fmt.Sprintf("# trigger_delay_samples=%g", tbs.TriggerDelaySamples),
			fmt.Sprintf("# trigger_source=%s", trg.Source),
		}
	)
	if trg.Level != nil {
		out = append(out, fmt.Sprintf("# trigger_level=%g", *trg.Level))
	}
	if trg.PositiveEdge != nil {
		out = append(out, fmt.Sprintf("# trigger_positive_edge=%v", *trg.PositiveEdge))
	}
	return out
}
