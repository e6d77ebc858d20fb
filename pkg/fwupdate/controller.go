// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fwupdate runs the once-per-boot firmware confirm/rollback protocol
// and the check for a pending update on the primary chip's external flash.
package fwupdate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	outcomes = metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "fwupdate",
		Name:      "runs_total",
		Help:      "Update controller runs, by result",
	}, "result")
)

// ErrRollback is returned when the running image is unconfirmed and failed
// its self-test. The bootloader reverts to the previous image on restart.
var ErrRollback = errors.New("firmware update was unsuccessful and will be rolled back")

// HandoffHold is how long the bus handoff line stays active so the chip side
// flash logic lets go of the bus.
const HandoffHold = time.Millisecond

type Result int

const (
	NotNeeded Result = iota
	Applied
)

func (r Result) String() string {
	switch r {
	case NotNeeded:
		return "not needed"
	case Applied:
		return "applied"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Updater is the flash update subsystem.
type Updater interface {
	IsConfirmed() bool
	Confirm() error
	// CheckAndApply installs a pending update, if any. With autoRestart
	// unset it never restarts the BMC itself.
	CheckAndApply(ctx context.Context, autoRestart bool) (Result, error)
	// Finalize ends the update session.
	Finalize() error
}

// Pin is a digital output.
type Pin interface {
	Set(active bool) error
}

// Outcome tells the caller whether start-up may continue or the BMC has to be
// restarted. No code runs meaningfully after a restart, so Restart is
// returned rather than performed.
type Outcome int

const (
	Proceed Outcome = iota
	Restart
)

func (o Outcome) String() string {
	if o == Restart {
		return "restart"
	}
	return "proceed"
}

type Controller struct {
	// Nil when firmware update support is disabled; only the bus handoff
	// runs then.
	Updater Updater
	// Bus handoff line of the primary chip, may be nil.
	Handoff Pin
	Clock   clock.Clock
}

// Run executes the protocol. selfTest is the result of the built-in
// self-test of this boot.
//
// A non-nil error is fatal for start-up. When the outcome is Restart the
// caller must cold restart the BMC, whatever the error.
func (c *Controller) Run(ctx context.Context, selfTest error) (Outcome, error) {
	o, err := c.run(ctx, selfTest)
	result := o.String()
	if err != nil {
		result = "error"
	}
	outcomes.WithLabelValues(result).Inc()
	return o, err
}

func (c *Controller) run(ctx context.Context, selfTest error) (Outcome, error) {
	if c.Updater != nil && !c.Updater.IsConfirmed() {
		if selfTest != nil {
			log.Errorf("Firmware update was unsuccessful and will be rolled back after reboot: %v", selfTest)
			return Restart, fmt.Errorf("%w: self-test: %v", ErrRollback, selfTest)
		}
		if err := c.Updater.Confirm(); err != nil {
			log.Errorf("Confirming firmware failed: %v", err)
			return Proceed, fmt.Errorf("confirm: %w", err)
		}
		log.Infof("Running firmware confirmed")
	}

	c.handoff()

	outcome := Proceed
	if c.Updater == nil {
		return outcome, nil
	}

	res, err := c.Updater.CheckAndApply(ctx, false)
	switch {
	case err != nil:
		// No update found, I/O errors and corrupt images all end up here.
		// The board still has to come up on the current image.
		log.Errorf("Checking for firmware update failed: %v", err)
	case res == Applied:
		log.Infof("Reboot needed in order to apply firmware update")
		outcome = Restart
	default:
		log.Debugf("No firmware update required")
	}

	if err := c.Updater.Finalize(); err != nil {
		return outcome, fmt.Errorf("finalize: %w", err)
	}
	return outcome, nil
}

// handoff pulses the bus handoff line so the chip side debug/flash logic
// releases the external flash bus.
func (c *Controller) handoff() {
	if c.Handoff == nil {
		return
	}
	if err := c.Handoff.Set(true); err != nil {
		log.Errorf("Driving bus handoff line: %v", err)
		return
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.New()
	}
	clk.Sleep(HandoffHold)
	if err := c.Handoff.Set(false); err != nil {
		log.Errorf("Releasing bus handoff line: %v", err)
	}
}
