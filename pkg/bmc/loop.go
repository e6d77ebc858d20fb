// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bmc

import (
	"context"
	"strconv"
	"time"

	"github.com/u-root/accel-bmc/pkg/chip"
	"github.com/u-root/accel-bmc/pkg/cm2bm"
	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/metric"
	"github.com/u-root/accel-bmc/pkg/restart"
)

var (
	loopErrors = metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "loop",
		Name:      "errors_total",
		Help:      "Recoverable errors in the supervisory loop, by source",
	}, "source")
	loopIterations = metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "loop",
		Name:      "iterations_total",
		Help:      "Supervisory loop iterations",
	})
	loopDuration = metric.Histogram(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "loop",
		Name:      "work_seconds",
		Help:      "Time spent per iteration outside the event wait",
	}, []float64{.0005, .001, .0025, .005, .01, .025, .05, .1})
)

// CurrentSensor samples the board input current, amps in 16.16 fixed point.
type CurrentSensor interface {
	SampleCurrent() (int32, error)
}

type Tachometer interface {
	SampleRPM() (uint16, error)
}

type MessageProcessor interface {
	Process(c *chip.Chip) cm2bm.Action
}

// HealthReporter is told when a chip changes between healthy and tripped.
type HealthReporter interface {
	SetChipHealth(name string, healthy bool)
}

// Loop is the supervisory loop: it waits for hardware events, dispatches
// them, refreshes the telemetry broadcast to the chips and serves their
// messages. Everything runs on the goroutine calling Run.
type Loop struct {
	Chips      *chip.Registry
	Source     *event.Source
	Dispatcher *event.Dispatcher
	// Upper bound of the event wait.
	Period time.Duration
	// Optional
	Current CurrentSensor
	Tach    Tachometer
	Health  HealthReporter

	Messages  MessageProcessor
	Restarter restart.Restarter

	healthy map[int]bool
}

// Run loops until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	log.Infof("Supervisory loop started, period %v", l.Period)
	for ctx.Err() == nil {
		l.Step(ctx)
	}
	log.Infof("Supervisory loop stopped")
	return ctx.Err()
}

// Step runs one iteration.
func (l *Loop) Step(ctx context.Context) {
	events := l.Source.Wait(ctx, l.Dispatcher.Mask(), l.Period)
	start := time.Now()
	defer func() {
		loopIterations.WithLabelValues().Inc()
		loopDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	}()

	l.Dispatcher.Dispatch(events)

	if l.Current != nil {
		if v, err := l.Current.SampleCurrent(); err != nil {
			log.Debugf("Sampling input current: %v", err)
			loopErrors.WithLabelValues("current").Inc()
		} else {
			l.Chips.SetInputCurrent(v)
		}
	}

	if l.Tach != nil {
		if rpm, err := l.Tach.SampleRPM(); err != nil {
			log.Debugf("Sampling fan speed: %v", err)
			loopErrors.WithLabelValues("fan").Inc()
		} else {
			l.Chips.SetFanRPM(rpm)
		}
	}

	for _, c := range l.Chips.All() {
		if l.Messages.Process(c) == cm2bm.ActionRestart {
			l.restart(restart.ReasonChipRequest)
		}
	}

	l.reportHealth()
}

func (l *Loop) restart(reason string) {
	if l.Restarter == nil {
		log.Errorf("Restart (%s) requested but no restarter configured", reason)
		return
	}
	l.Restarter.ColdRestart(reason)
}

func (l *Loop) reportHealth() {
	if l.Health == nil {
		return
	}
	if l.healthy == nil {
		l.healthy = map[int]bool{}
	}
	for _, c := range l.Chips.All() {
		ok := !c.State.Tripped
		if prev, seen := l.healthy[c.Index]; seen && prev == ok {
			continue
		}
		l.healthy[c.Index] = ok
		name := c.Config.Name
		if name == "" {
			name = strconv.Itoa(c.Index)
		}
		l.Health.SetChipHealth(name, ok)
	}
}
