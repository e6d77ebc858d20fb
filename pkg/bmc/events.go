// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bmc

import (
	"github.com/u-root/accel-bmc/pkg/chip"
	"github.com/u-root/accel-bmc/pkg/event"
)

// ChipHandlers reacts to per-chip hardware signals.
type ChipHandlers interface {
	ThermalTrip(i int)
	ExternalReset(i int)
}

// HandlerTable lists thermal trips of all chips first, then their PERST
// requests, so a trip is handled before a reset in the same pass.
func HandlerTable(chips *chip.Registry, h ChipHandlers) []event.Entry {
	var t []event.Entry
	for _, c := range chips.All() {
		t = append(t, event.Entry{
			Name:    "therm_trip",
			Handler: h.ThermalTrip,
			Bit:     c.Config.ThermTripBit,
			Chip:    c.Index,
		})
	}
	for _, c := range chips.All() {
		t = append(t, event.Entry{
			Name:    "perst",
			Handler: h.ExternalReset,
			Bit:     c.Config.PerstBit,
			Chip:    c.Index,
		})
	}
	return t
}

// Signal binds an interrupt line to the event bit it raises.
type Signal struct {
	Line string
	Bit  uint
}

// Signals returns the interrupt lines of every chip.
func Signals(chips *chip.Registry) []Signal {
	var s []Signal
	for _, c := range chips.All() {
		if c.Config.ThermTripLine != "" {
			s = append(s, Signal{c.Config.ThermTripLine, c.Config.ThermTripBit})
		}
		if c.Config.PerstLine != "" {
			s = append(s, Signal{c.Config.PerstLine, c.Config.PerstBit})
		}
	}
	return s
}
