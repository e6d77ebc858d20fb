// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chip holds the registry of accelerator chips supervised by the BMC.
// The registry is built once at startup and handed to every component; there
// is no package level chip table.
package chip

import (
	"fmt"

	"github.com/u-root/accel-bmc/config"
	"go.uber.org/atomic"
)

// State is the mutable runtime state of one chip. All fields except BusCancel
// are owned by the supervisory goroutine.
type State struct {
	NeedsReset        bool
	WorkaroundApplied bool
	// Set by a thermal trip, cleared when a PERST revives the chip.
	Tripped bool

	FanRPM uint16
	// Input current in amps, 16.16 fixed point.
	InputCurrent int32

	// BusCancel asks the chip's bus driver to abort the transaction in
	// flight. The supervisor only ever sets it, the bus driver is the only
	// one clearing it once the abort has been honored.
	BusCancel atomic.Bool
}

type Chip struct {
	Index  int
	Config config.Chip
	State  State
}

func (c *Chip) String() string {
	if c.Config.Name != "" {
		return fmt.Sprintf("chip %d (%s)", c.Index, c.Config.Name)
	}
	return fmt.Sprintf("chip %d", c.Index)
}

// CancelBusTransfer requests the abort of any bus transaction in flight for
// the chip.
func (c *Chip) CancelBusTransfer() {
	c.State.BusCancel.Store(true)
}

// Registry is a fixed-size collection of chips, indexed by chip index.
type Registry struct {
	chips   []*Chip
	primary int
}

// NewRegistry creates one chip per configured chip, in configuration order.
func NewRegistry(cs []config.Chip, primary int) (*Registry, error) {
	if len(cs) == 0 {
		return nil, fmt.Errorf("no chips configured")
	}
	if primary < 0 || primary >= len(cs) {
		return nil, fmt.Errorf("primary chip %d out of range [0, %d)", primary, len(cs))
	}
	r := &Registry{chips: make([]*Chip, len(cs)), primary: primary}
	for i, c := range cs {
		r.chips[i] = &Chip{Index: i, Config: c}
	}
	return r, nil
}

func (r *Registry) Len() int {
	return len(r.chips)
}

// Get returns the chip at index i. An out of range index is a programming
// error and panics.
func (r *Registry) Get(i int) *Chip {
	if i < 0 || i >= len(r.chips) {
		panic(fmt.Sprintf("invalid chip index: %d", i))
	}
	return r.chips[i]
}

// Primary returns the chip whose external flash carries firmware updates.
func (r *Registry) Primary() *Chip {
	return r.chips[r.primary]
}

// All returns the chips in index order. The slice must not be modified.
func (r *Registry) All() []*Chip {
	return r.chips
}

// SetFanRPM broadcasts a fan tachometer reading to every chip.
func (r *Registry) SetFanRPM(rpm uint16) {
	for _, c := range r.chips {
		c.State.FanRPM = rpm
	}
}

// SetInputCurrent broadcasts a board input current reading to every chip.
func (r *Registry) SetInputCurrent(current int32) {
	for _, c := range r.chips {
		c.State.InputCurrent = current
	}
}
