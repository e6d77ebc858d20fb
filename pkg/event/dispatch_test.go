// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"fmt"
	"reflect"
	"testing"
)

type call struct {
	name string
	chip int
}

func recordingTable(calls *[]call) []Entry {
	h := func(name string) Handler {
		return func(chip int) { *calls = append(*calls, call{name, chip}) }
	}
	return []Entry{
		{Name: "therm_trip", Handler: h("therm_trip"), Bit: 0, Chip: 0},
		{Name: "therm_trip", Handler: h("therm_trip"), Bit: 1, Chip: 1},
		{Name: "perst", Handler: h("perst"), Bit: 2, Chip: 0},
		{Name: "perst", Handler: h("perst"), Bit: 3, Chip: 1},
	}
}

func TestDispatchRecognizedBits(t *testing.T) {
	// Every subset of the four recognized bits.
	for m := Mask(0); m < 16; m++ {
		t.Run(m.String(), func(t *testing.T) {
			var calls []call
			table := recordingTable(&calls)
			d, err := NewDispatcher(table)
			if err != nil {
				t.Fatalf("NewDispatcher: %v", err)
			}
			d.Dispatch(m)
			var want []call
			for _, e := range table {
				if m&Bit(e.Bit) != 0 {
					want = append(want, call{e.Name, e.Chip})
				}
			}
			if !reflect.DeepEqual(calls, want) {
				t.Errorf("Dispatch(%v) calls = %v, want %v", m, calls, want)
			}
		})
	}
}

func TestDispatchTableOrder(t *testing.T) {
	var calls []call
	table := recordingTable(&calls)
	// Reverse the table, dispatch must follow table order not bit order.
	for i, j := 0, len(table)-1; i < j; i, j = i+1, j-1 {
		table[i], table[j] = table[j], table[i]
	}
	d, err := NewDispatcher(table)
	if err != nil {
		t.Fatal(err)
	}
	d.Dispatch(Bit(0) | Bit(3))
	want := []call{{"perst", 1}, {"therm_trip", 0}}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestDispatchUnknownBitPanics(t *testing.T) {
	var calls []call
	d, err := NewDispatcher(recordingTable(&calls))
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []Mask{Bit(4), Bit(31), Bit(0) | Bit(7)} {
		t.Run(m.String(), func(t *testing.T) {
			calls = nil
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Dispatch(%v) did not panic", m)
				}
				if len(calls) != 0 {
					t.Errorf("handlers ran before the panic: %v", calls)
				}
			}()
			d.Dispatch(m)
		})
	}
}

func TestDispatchZeroIsNoop(t *testing.T) {
	var calls []call
	d, _ := NewDispatcher(recordingTable(&calls))
	d.Dispatch(0)
	if len(calls) != 0 {
		t.Errorf("Dispatch(0) ran handlers: %v", calls)
	}
}

func TestNewDispatcherRejectsBadTables(t *testing.T) {
	noop := func(int) {}
	for i, table := range [][]Entry{
		{{Name: "a", Handler: noop, Bit: 32}},
		{{Name: "a", Handler: noop, Bit: 1}, {Name: "b", Handler: noop, Bit: 1}},
		{{Name: "a", Bit: 1}},
	} {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			if _, err := NewDispatcher(table); err == nil {
				t.Errorf("NewDispatcher(%+v) succeeded", table)
			}
		})
	}
}

func TestDispatcherMask(t *testing.T) {
	var calls []call
	d, _ := NewDispatcher(recordingTable(&calls))
	if d.Mask() != 0xf {
		t.Errorf("Mask = %v, want 0x0000000f", d.Mask())
	}
}
