// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// gpiowatcher prints every assertion of the board's interrupt lines.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/hardware/gpio"
	"github.com/u-root/accel-bmc/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "Board description, built-in defaults when empty")
	lines      = flag.String("lines", "", "Comma separated lines to watch, all interrupt lines when empty")

	log = logger.LogContainer.GetSimpleLogger()
)

func interruptLines(c *config.Config) []string {
	var l []string
	for _, ch := range c.Chips {
		for _, n := range []string{ch.ThermTripLine, ch.PerstLine} {
			if n != "" {
				l = append(l, n)
			}
		}
	}
	return l
}

func main() {
	flag.Parse()

	conf := config.DefaultConfig
	if *configPath != "" {
		var err error
		if conf, err = config.Load(afero.NewOsFs(), *configPath); err != nil {
			log.Fatalf("%v", err)
		}
	}
	watch := interruptLines(conf)
	if *lines != "" {
		watch = strings.Split(*lines, ",")
	}

	g, err := gpio.Open(conf.GpioChip, conf.Lines, conf.ActiveLow)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for _, l := range watch {
		l := l
		eg.Go(func() error {
			log.Infof("Monitoring GPIO line %-30s", l)
			return g.Watch(ctx, l, func() {
				log.Infof("%-30s asserted at %v", l, time.Since(start))
			})
		})
	}
	if err := eg.Wait(); err != nil {
		log.Fatalf("%v", err)
	}
}
