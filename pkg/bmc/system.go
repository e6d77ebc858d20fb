// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bmc brings the board up and runs the supervisory loop.
package bmc

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/bist"
	"github.com/u-root/accel-bmc/pkg/chip"
	"github.com/u-root/accel-bmc/pkg/cm2bm"
	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/fwupdate"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
	"github.com/u-root/accel-bmc/pkg/restart"
	"github.com/u-root/accel-bmc/pkg/supervisor"
	"golang.org/x/sync/errgroup"
)

const banner = `
██████╗ ███╗   ███╗███████╗██╗    ██╗
██╔══██╗████╗ ████║██╔════╝██║    ██║
██████╔╝██╔████╔██║█████╗  ██║ █╗ ██║
██╔══██╗██║╚██╔╝██║██╔══╝  ██║███╗██║
██████╔╝██║ ╚═╝ ██║██║     ╚███╔███╔╝
╚═════╝ ╚═╝     ╚═╝╚═╝      ╚══╝╚══╝
 `

var log = logger.LogContainer.GetSimpleLogger()

// ErrRestarting is returned by Startup after a cold restart was requested
// and the restarter returned, which only happens when reboots are disabled.
var ErrRestarting = errors.New("cold restart requested")

// Board is the hardware of one carrier board as seen by the supervisor.
// Optional parts are nil when the board lacks them.
type Board struct {
	Config *config.Config
	Chips  *chip.Registry
	Source *event.Source

	Supervisor *supervisor.Supervisor
	// Nil when firmware update support is disabled.
	Updater  fwupdate.Updater
	SelfTest *bist.Suite

	Cooling  supervisor.Cooling
	FaultLed supervisor.Output
	// Flash mux of every chip, by chip index.
	FlashMux []supervisor.Output
	// Bus handoff line of the primary chip.
	Handoff fwupdate.Pin

	// Watch calls fn on every assertion of a GPIO line until ctx is done.
	Watch func(ctx context.Context, line string, fn func()) error

	Mailbox cm2bm.Mailbox
	Info    cm2bm.InfoPublisher
	Current CurrentSensor
	Tach    Tachometer
	Health  HealthReporter

	Restarter restart.Restarter
	Clock     clock.Clock

	closers []func()
}

// onClose registers f to run when the board is closed.
func (b *Board) onClose(f func()) {
	b.closers = append(b.closers, f)
}

// Close releases the drivers opened for the board, most recent first.
func (b *Board) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// StaticInfo is the record published to the chips for this build.
func StaticInfo(v config.Version) cm2bm.StaticInfo {
	return cm2bm.StaticInfo{
		Version:           1,
		BootloaderVersion: v.Bootloader,
		AppVersion:        v.App,
	}
}

// Startup brings the board up and returns the supervisory loop, ready to
// run. Interrupt monitors are started in g and post to the board's event
// source until ctx is done; a monitor failing before that requests a cold
// restart. A non-nil error means the board must not be supervised; when it
// wraps ErrRestarting a cold restart has already been requested.
func Startup(ctx context.Context, g *errgroup.Group, b *Board) (*Loop, error) {
	conf := b.Config
	fmt.Print("\n" + banner)
	fmt.Printf("Welcome to bmfw version %s\n\n", conf.Version.Version)
	metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "system",
		Name:      "version",
	}, "version", "git_hash").WithLabelValues(conf.Version.Version, conf.Version.GitHash).Inc()

	dispatcher, err := event.NewDispatcher(HandlerTable(b.Chips, b.Supervisor))
	if err != nil {
		return nil, fmt.Errorf("event table: %w", err)
	}

	for _, c := range b.Chips.All() {
		log.Debugf("Bus cancel flag of %v handed to the SMBus driver", c)
	}

	var selfTest error
	if conf.SelfTest && b.SelfTest != nil {
		log.Infof("Running %d built-in self-tests", b.SelfTest.Len())
		if selfTest = b.SelfTest.Run(); selfTest != nil {
			log.Errorf("Built-in self-test failed: %v", selfTest)
		} else {
			log.Debugf("Built-in self-test succeeded")
		}
	}

	if b.Cooling != nil {
		if err := b.Cooling.SetSpeed(supervisor.MaxCooling); err != nil {
			log.Errorf("Setting initial fan speed: %v", err)
		}
	}

	if b.Watch != nil {
		for _, s := range Signals(b.Chips) {
			s := s
			bit := event.Bit(s.Bit)
			g.Go(func() error {
				err := b.Watch(ctx, s.Line, func() { b.Source.Post(bit) })
				if err != nil && ctx.Err() == nil {
					// Without the interrupt the chip is unsupervised
					log.Errorf("Lost monitor of %s: %v", s.Line, err)
					b.restart(restart.ReasonMonitorLost)
				}
				return nil
			})
		}
	}

	ctl := &fwupdate.Controller{Updater: b.Updater, Handoff: b.Handoff, Clock: b.Clock}
	outcome, err := ctl.Run(ctx, selfTest)
	if outcome == fwupdate.Restart {
		reason := restart.ReasonUpdate
		if errors.Is(err, fwupdate.ErrRollback) {
			reason = restart.ReasonRollback
		}
		b.restart(reason)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRestarting, err)
		}
		return nil, ErrRestarting
	}
	if err != nil {
		return nil, fmt.Errorf("firmware update: %w", err)
	}

	// Hand the flash back to the chips
	for i, m := range b.FlashMux {
		if m == nil {
			continue
		}
		if err := m.Set(true); err != nil {
			log.Errorf("Returning flash of %v: %v", b.Chips.Get(i), err)
		}
	}

	if conf.AssemblyTest && b.FaultLed != nil {
		if err := b.FaultLed.Set(false); err != nil {
			log.Errorf("Clearing fault LED: %v", err)
		}
	}

	if conf.JtagLoadBootrom {
		if err := b.Supervisor.ApplyWorkaround(); err != nil {
			return nil, fmt.Errorf("bootrom workaround: %w", err)
		}
	}

	fmt.Printf("BMFW VERSION %s\n", conf.Version.Version)

	if conf.AssemblyTest && b.FaultLed != nil {
		if err := b.FaultLed.Set(true); err != nil {
			log.Errorf("Setting fault LED: %v", err)
		}
	}

	info := StaticInfo(conf.Version)
	if b.Info != nil {
		for _, c := range b.Chips.All() {
			if err := b.Info.PublishStaticInfo(c, info); err != nil {
				log.Warnf("Publishing static info to %v: %v", c, err)
			}
		}
	}

	return &Loop{
		Chips:      b.Chips,
		Source:     b.Source,
		Dispatcher: dispatcher,
		Period:     conf.LoopPeriod,
		Current:    b.Current,
		Tach:       b.Tach,
		Health:     b.Health,
		Messages:   cm2bm.NewProcessor(b.Mailbox, coolingOrNil(b.Cooling), b.Supervisor),
		Restarter:  b.Restarter,
	}, nil
}

func (b *Board) restart(reason string) {
	if b.Restarter == nil {
		log.Errorf("Restart (%s) requested but no restarter configured", reason)
		return
	}
	b.Restarter.ColdRestart(reason)
}

// coolingOrNil keeps a nil Cooling nil when converted to cm2bm.Cooling.
func coolingOrNil(c supervisor.Cooling) cm2bm.Cooling {
	if c == nil {
		return nil
	}
	return c
}
