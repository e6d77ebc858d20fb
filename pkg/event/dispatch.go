// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"fmt"
	"strconv"

	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	dispatched = metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "event",
		Name:      "dispatched_total",
		Help:      "Events handed to their handler, by handler and chip",
	}, "handler", "chip")
)

// Handler reacts to one event for the chip with the bound index.
type Handler func(chip int)

// Entry binds an event bit to a handler and its argument.
type Entry struct {
	Name    string
	Handler Handler
	Bit     uint
	Chip    int
}

// Dispatcher maps event bits to handlers using a table fixed at creation.
type Dispatcher struct {
	table []Entry
	known Mask
}

// NewDispatcher validates the table: every bit must fit the mask and be
// bound at most once.
func NewDispatcher(table []Entry) (*Dispatcher, error) {
	d := &Dispatcher{table: append([]Entry(nil), table...)}
	for _, e := range d.table {
		if e.Handler == nil {
			return nil, fmt.Errorf("event %s: nil handler", e.Name)
		}
		if e.Bit >= 32 {
			return nil, fmt.Errorf("event %s: invalid event bit %d", e.Name, e.Bit)
		}
		if d.known&Bit(e.Bit) != 0 {
			return nil, fmt.Errorf("event %s: bit %d bound twice", e.Name, e.Bit)
		}
		d.known |= Bit(e.Bit)
	}
	return d, nil
}

// Mask returns every bit that has a table entry.
func (d *Dispatcher) Mask() Mask {
	return d.known
}

// Dispatch runs, in table order, the handler of every entry whose bit is set
// in events. A bit without a table entry means the signal sources and the
// table disagree, which is a programming error: Dispatch panics before any
// handler runs.
func (d *Dispatcher) Dispatch(events Mask) {
	if events == 0 {
		return
	}
	if unknown := events &^ d.known; unknown != 0 {
		panic(fmt.Sprintf("invalid event mask: %v (unknown bits %v)", events, unknown))
	}
	for _, e := range d.table {
		if events == 0 {
			return
		}
		bit := Bit(e.Bit)
		if events&bit == 0 {
			continue
		}
		log.Debugf("Dispatching %s for chip %d", e.Name, e.Chip)
		e.Handler(e.Chip)
		dispatched.WithLabelValues(e.Name, strconv.Itoa(e.Chip)).Inc()
		events &^= bit
	}
	if events != 0 {
		panic(fmt.Sprintf("events non-zero after dispatch: %v", events))
	}
}
