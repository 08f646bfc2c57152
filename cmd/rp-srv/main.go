// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rp-srv starts a TDAQ server driving a Red Pitaya board.
//
// Traces are published on the /traces output.
// Run failures are reported by mail when the MAIL_USERNAME, MAIL_PASSWORD,
// MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables are set.
package main // import "github.com/go-lpc/redpitaya/cmd/rp-srv"

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/sbinet/pmon"
	mail "gopkg.in/gomail.v2"

	"github.com/go-lpc/redpitaya/config"
	"github.com/go-lpc/redpitaya/internal/fakerp"
	"github.com/go-lpc/redpitaya/rp"
	"github.com/go-lpc/redpitaya/rpsrv"
)

func main() {
	var (
		sim    = envBool("RP_SIM")
		doMon  = envBool("RP_PMON")
		freq   = envDuration("RP_PMON_FREQ", 1*time.Second)
		pmonFn = os.Getenv("RP_PMON_FILE")
	)

	log.SetPrefix("rp-srv: ")
	log.SetFlags(0)

	cmd := flags.New()

	if doMon {
		stop, err := monitor(pmonFn, freq)
		if err != nil {
			log.Fatalf("could not start monitoring: %+v", err)
		}
		defer stop()
	}

	dev := rpsrv.New(
		func(cfg config.Config) (rp.Driver, error) {
			if sim {
				return fakerp.New(), nil
			}
			brd, err := rp.Open(cfg.BoardOptions()...)
			if err != nil {
				return nil, err
			}
			return brd, nil
		},
		rpsrv.WithLogger(log.New(os.Stdout, "acq: ", 0)),
		rpsrv.WithAlert(func(err error) {
			alertMail(cmd.Name, err)
		}),
	)

	srv := tdaq.New(cmd, os.Stdout)
	dev.Register(srv)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func monitor(fname string, freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not monitor process: %w", err)
	}

	if fname == "" {
		fname = "rp-srv-pmon.log"
	}
	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func alertMail(name string, err error) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 || alertMailTgts[0] == "" {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	host, _ := os.Hostname()

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[rp-srv] run failure on %s", host))
	msg.SetBody("text/plain", fmt.Sprintf("process: %q\nhost: %q\nerror: %+v",
		name, host, err,
	))

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err = dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func envBool(k string) bool {
	v, err := strconv.ParseBool(os.Getenv(k))
	if err != nil {
		return false
	}
	return v
}

func envDuration(k string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(k))
	if err != nil {
		return def
	}
	return v
}
