// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runlog records acquisitions into a database.
package runlog // import "github.com/go-lpc/redpitaya/runlog"

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/go-lpc/redpitaya/acq"
	"github.com/go-lpc/redpitaya/rp"
)

var drvName = "mysql"

// Entry describes a recorded acquisition.
type Entry struct {
	Run        uint32
	Timestamp  time.Time
	Samples    int
	Decimation int
	Trigger    string
	Channels   string // comma separated list of enabled channels
	State      string
	Output     string
}

// NewEntry creates an entry for the result of an acquisition.
func NewEntry(run uint32, res *acq.Result, output string) Entry {
	var chans []string
	for _, ch := range rp.Channels {
		if res.Channels[ch] {
			chans = append(chans, fmt.Sprintf("ch%d", ch+1))
		}
	}
	return Entry{
		Run:        run,
		Timestamp:  res.Timestamp,
		Samples:    res.Samples(),
		Decimation: res.Metadata.Timebase.Decimation,
		Trigger:    string(res.Metadata.Trigger.Source),
		Channels:   strings.Join(chans, ","),
		State:      res.State().String(),
		Output:     output,
	}
}

// DB is a log of acquisitions.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the database described by the provided
// MySQL data source name.
func Open(dsn string) (*DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("runlog: could not parse DSN: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open(drvName, cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("runlog: could not open %q db: %w", cfg.DBName, err)
	}

	err = ping(db, cfg.DBName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: cfg.DBName}, nil
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("runlog: could not ping %q db: %w", dbname, err)
	}

	return nil
}

// Name returns the name of the database.
func (db *DB) Name() string {
	return db.name
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Record appends an entry to the log.
func (db *DB) Record(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		`
INSERT INTO acquisitions
	(run, timestamp, samples, decimation, trigger_src, channels, state, output)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		e.Run, e.Timestamp.UTC(), e.Samples, e.Decimation,
		e.Trigger, e.Channels, e.State, e.Output,
	)
	if err != nil {
		return fmt.Errorf("runlog: could not record acquisition: %w", err)
	}

	return nil
}

// Last returns the most recent entry of the log.
func (db *DB) Last(ctx context.Context) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var e Entry
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT run, timestamp, samples, decimation, trigger_src, channels, state, output
FROM acquisitions ORDER BY timestamp DESC LIMIT 1
`,
	)
	if err != nil {
		return e, fmt.Errorf("runlog: could not query last acquisition: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		err = rows.Scan(
			&e.Run, &e.Timestamp, &e.Samples, &e.Decimation,
			&e.Trigger, &e.Channels, &e.State, &e.Output,
		)
		if err != nil {
			return e, fmt.Errorf("runlog: could not scan last acquisition: %w", err)
		}
		n++
	}

	if err := rows.Err(); err != nil {
		return e, fmt.Errorf("runlog: could not scan db for last acquisition: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return e, fmt.Errorf("runlog: context error while retrieving last acquisition: %w", err)
	}

	if n == 0 {
		return e, fmt.Errorf("runlog: no acquisition recorded: %w", sql.ErrNoRows)
	}

	return e, nil
}
