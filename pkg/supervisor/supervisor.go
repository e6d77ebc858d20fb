// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package supervisor implements the per-chip reaction to thermal trips and
// external reset (PERST) requests, and owns the debug-interface bootrom
// workaround that has to be applied to every chip at start of day.
package supervisor

import (
	"fmt"
	"strconv"

	"github.com/u-root/accel-bmc/pkg/chip"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	thermalTrips = metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "chip",
		Name:      "thermal_trips_total",
		Help:      "Thermal trips handled, by chip",
	}, "chip")
	externalResets = metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "chip",
		Name:      "external_resets_total",
		Help:      "PERST requests handled, by chip and outcome",
	}, "chip", "outcome")
)

// MaxCooling is the cooling speed, in percent, used on a thermal trip.
const MaxCooling = 100

// Output is a digital output line; active means asserted regardless of the
// electrical polarity.
type Output interface {
	Set(active bool) error
}

// Cooling sets the board cooling speed in percent.
type Cooling interface {
	SetSpeed(percent uint8) error
}

// Bootrom runs the debug-interface sequences working around the chip's boot
// ROM defect.
type Bootrom interface {
	// Init prepares the debug interface for the chip.
	Init(c *chip.Chip) error
	// ResetSequence loads the workaround. When force is set the chip is
	// taken through reset first even if it looks healthy.
	ResetSequence(c *chip.Chip, force bool) error
	ResetASIC(c *chip.Chip) error
	SoftResetARC(c *chip.Chip) error
	Teardown(c *chip.Chip) error
}

type Options struct {
	// Shared board fault indicator, may be nil.
	FaultLed Output
	// May be nil when the board has no controllable cooling.
	Cooling Cooling
	// Reset line of every chip, by chip index. Entries may be nil.
	Resets []Output
	// Nil when the bootrom workaround is not used on this board.
	Bootrom Bootrom
}

type Supervisor struct {
	chips *chip.Registry
	o     Options
}

func New(r *chip.Registry, o Options) (*Supervisor, error) {
	if len(o.Resets) != 0 && len(o.Resets) != r.Len() {
		return nil, fmt.Errorf("got %d reset lines for %d chips", len(o.Resets), r.Len())
	}
	return &Supervisor{chips: r, o: o}, nil
}

func (s *Supervisor) resetLine(i int) Output {
	if i < len(s.o.Resets) {
		return s.o.Resets[i]
	}
	return nil
}

// ThermalTrip handles an over-temperature fault of chip i: it raises the
// board fault indicator, drives cooling to the maximum, holds the chip in
// reset and cancels any bus transfer in flight. The chip stays in reset until
// a PERST arriving after the bootrom workaround was applied, or a BMC
// restart, revives it.
func (s *Supervisor) ThermalTrip(i int) {
	c := s.chips.Get(i)
	log.Warnf("Thermal trip detected on %v", c)
	thermalTrips.WithLabelValues(strconv.Itoa(i)).Inc()
	c.State.Tripped = true

	if s.o.FaultLed != nil {
		if err := s.o.FaultLed.Set(true); err != nil {
			log.Errorf("Raising board fault LED: %v", err)
		}
	}
	if s.o.Cooling != nil {
		if err := s.o.Cooling.SetSpeed(MaxCooling); err != nil {
			log.Errorf("Setting cooling to %d%%: %v", MaxCooling, err)
		}
	}
	if r := s.resetLine(i); r != nil {
		if err := r.Set(true); err != nil {
			log.Errorf("Asserting reset of %v: %v", c, err)
		}
	}
	c.CancelBusTransfer()
}

// ExternalReset handles a PERST request for chip i. Once the bootrom
// workaround has been applied it is replayed right away; before that the
// request is only remembered and serviced when the workaround is first
// applied.
func (s *Supervisor) ExternalReset(i int) {
	c := s.chips.Get(i)
	log.Warnf("PERST detected on %v", c)

	if c.State.WorkaroundApplied {
		if c.State.Tripped {
			s.release(c)
		}
		if err := s.replayWorkaround(c); err != nil {
			log.Errorf("Replaying bootrom workaround on %v: %v", c, err)
		}
		c.State.NeedsReset = false
		externalResets.WithLabelValues(strconv.Itoa(i), "replayed").Inc()
	} else {
		c.State.NeedsReset = true
		externalResets.WithLabelValues(strconv.Itoa(i), "deferred").Inc()
	}

	c.CancelBusTransfer()
}

// release takes a tripped chip out of the reset held since the trip.
func (s *Supervisor) release(c *chip.Chip) {
	if r := s.resetLine(c.Index); r != nil {
		if err := r.Set(false); err != nil {
			log.Errorf("Releasing reset of %v: %v", c, err)
			return
		}
	}
	log.Infof("Reviving %v after thermal trip", c)
	c.State.Tripped = false
}

// replayWorkaround resets the chip over the debug interface, soft resets its
// management core and tears the debug session down. Every step runs even if
// an earlier one failed; the first error is returned.
func (s *Supervisor) replayWorkaround(c *chip.Chip) error {
	if s.o.Bootrom == nil {
		return fmt.Errorf("no debug interface")
	}
	var first error
	steps := []struct {
		name string
		f    func(*chip.Chip) error
	}{
		{"reset ASIC", s.o.Bootrom.ResetASIC},
		{"soft reset ARC", s.o.Bootrom.SoftResetARC},
		{"teardown", s.o.Bootrom.Teardown},
	}
	for _, st := range steps {
		if err := st.f(c); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", st.name, err)
		}
	}
	return first
}

// ResetSequence applies the bootrom workaround to chip i and services a
// PERST that arrived before it was applied.
func (s *Supervisor) ResetSequence(i int, force bool) error {
	c := s.chips.Get(i)
	if s.o.Bootrom == nil {
		return fmt.Errorf("%v: bootrom workaround not available", c)
	}
	if err := s.o.Bootrom.ResetSequence(c, force); err != nil {
		return fmt.Errorf("%v: bootrom reset sequence: %w", c, err)
	}
	c.State.WorkaroundApplied = true
	if c.State.NeedsReset {
		log.Infof("Servicing deferred PERST on %v", c)
		if err := s.replayWorkaround(c); err != nil {
			return fmt.Errorf("%v: deferred reset: %w", c, err)
		}
		c.State.NeedsReset = false
	}
	return nil
}

// ApplyWorkaround runs the one-time start of day workaround on every chip.
// It is a no-op on boards without a debug interface.
func (s *Supervisor) ApplyWorkaround() error {
	if s.o.Bootrom == nil {
		return nil
	}
	for _, c := range s.chips.All() {
		if err := s.o.Bootrom.Init(c); err != nil {
			return fmt.Errorf("%v: bootrom init: %w", c, err)
		}
		if err := s.ResetSequence(c.Index, false); err != nil {
			return err
		}
	}
	log.Debugf("Bootrom workaround successfully applied")
	return nil
}
