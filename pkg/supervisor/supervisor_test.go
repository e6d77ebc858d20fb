// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/chip"
)

type fakeOutput struct {
	values []bool
}

func (o *fakeOutput) Set(active bool) error {
	o.values = append(o.values, active)
	return nil
}

type fakeCooling struct {
	speeds []uint8
}

func (f *fakeCooling) SetSpeed(p uint8) error {
	f.speeds = append(f.speeds, p)
	return nil
}

type fakeBootrom struct {
	calls []string
	fail  map[string]error
}

func (b *fakeBootrom) record(op string, c *chip.Chip) error {
	b.calls = append(b.calls, fmt.Sprintf("%s %d", op, c.Index))
	return b.fail[op]
}

func (b *fakeBootrom) Init(c *chip.Chip) error { return b.record("init", c) }
func (b *fakeBootrom) ResetSequence(c *chip.Chip, force bool) error {
	return b.record(fmt.Sprintf("sequence(force=%v)", force), c)
}
func (b *fakeBootrom) ResetASIC(c *chip.Chip) error    { return b.record("reset_asic", c) }
func (b *fakeBootrom) SoftResetARC(c *chip.Chip) error { return b.record("soft_reset_arc", c) }
func (b *fakeBootrom) Teardown(c *chip.Chip) error     { return b.record("teardown", c) }

type harness struct {
	chips   *chip.Registry
	led     *fakeOutput
	cooling *fakeCooling
	resets  []*fakeOutput
	bootrom *fakeBootrom
	s       *Supervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	r, err := chip.NewRegistry(config.DefaultConfig.Chips, 0)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		chips:   r,
		led:     &fakeOutput{},
		cooling: &fakeCooling{},
		bootrom: &fakeBootrom{fail: map[string]error{}},
	}
	var resets []Output
	for i := 0; i < r.Len(); i++ {
		o := &fakeOutput{}
		h.resets = append(h.resets, o)
		resets = append(resets, o)
	}
	h.s, err = New(r, Options{FaultLed: h.led, Cooling: h.cooling, Resets: resets, Bootrom: h.bootrom})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestThermalTrip(t *testing.T) {
	h := newHarness(t)
	h.s.ThermalTrip(1)

	if !reflect.DeepEqual(h.led.values, []bool{true}) {
		t.Errorf("fault LED = %v, want [true]", h.led.values)
	}
	if !reflect.DeepEqual(h.cooling.speeds, []uint8{MaxCooling}) {
		t.Errorf("cooling = %v, want [%d]", h.cooling.speeds, MaxCooling)
	}
	if !reflect.DeepEqual(h.resets[1].values, []bool{true}) {
		t.Errorf("chip 1 reset = %v, want [true]", h.resets[1].values)
	}
	if len(h.resets[0].values) != 0 {
		t.Errorf("chip 0 reset touched: %v", h.resets[0].values)
	}
	if !h.chips.Get(1).State.BusCancel.Load() {
		t.Errorf("chip 1 bus transfer not cancelled")
	}
	if h.chips.Get(0).State.BusCancel.Load() {
		t.Errorf("chip 0 bus transfer cancelled")
	}
	if len(h.bootrom.calls) != 0 {
		t.Errorf("thermal trip touched the debug interface: %v", h.bootrom.calls)
	}
}

func TestThermalTripIdempotent(t *testing.T) {
	h := newHarness(t)
	c := h.chips.Get(0)
	for i := 0; i < 5; i++ {
		h.s.ThermalTrip(0)
		if !c.State.BusCancel.Load() {
			t.Fatalf("trip %d left the bus cancel flag unset", i)
		}
		// The bus driver acknowledges the abort in between trips.
		c.State.BusCancel.Store(false)
	}
	h.s.ThermalTrip(0)
	if !c.State.BusCancel.Load() {
		t.Errorf("bus cancel flag unset after repeated trips")
	}
	for _, v := range h.resets[0].values {
		if !v {
			t.Errorf("reset was released by a thermal trip")
		}
	}
}

func TestThermalTripWithoutOptionalOutputs(t *testing.T) {
	r, _ := chip.NewRegistry(config.DefaultConfig.Chips, 0)
	s, err := New(r, Options{})
	if err != nil {
		t.Fatal(err)
	}
	s.ThermalTrip(0)
	if !r.Get(0).State.BusCancel.Load() {
		t.Errorf("bus transfer not cancelled")
	}
}

func TestExternalResetBeforeWorkaround(t *testing.T) {
	h := newHarness(t)
	c := h.chips.Get(0)
	h.s.ExternalReset(0)
	if !c.State.NeedsReset {
		t.Errorf("NeedsReset = false, want true")
	}
	if len(h.bootrom.calls) != 0 {
		t.Errorf("debug interface touched: %v", h.bootrom.calls)
	}
	if !c.State.BusCancel.Load() {
		t.Errorf("bus transfer not cancelled")
	}
}

func TestExternalResetAfterWorkaround(t *testing.T) {
	h := newHarness(t)
	c := h.chips.Get(1)
	c.State.WorkaroundApplied = true
	c.State.NeedsReset = true
	h.s.ExternalReset(1)
	want := []string{"reset_asic 1", "soft_reset_arc 1", "teardown 1"}
	if !reflect.DeepEqual(h.bootrom.calls, want) {
		t.Errorf("bootrom calls = %v, want %v", h.bootrom.calls, want)
	}
	if c.State.NeedsReset {
		t.Errorf("NeedsReset = true, want false")
	}
	if !c.State.BusCancel.Load() {
		t.Errorf("bus transfer not cancelled")
	}
}

func TestExternalResetRevivesTrippedChip(t *testing.T) {
	h := newHarness(t)
	c := h.chips.Get(1)
	c.State.WorkaroundApplied = true
	h.s.ThermalTrip(1)
	if !c.State.Tripped {
		t.Fatal("Tripped = false after thermal trip")
	}
	h.s.ExternalReset(1)
	if c.State.Tripped {
		t.Errorf("Tripped = true after PERST")
	}
	if !reflect.DeepEqual(h.resets[1].values, []bool{true, false}) {
		t.Errorf("chip 1 reset = %v, want [true false]", h.resets[1].values)
	}
}

func TestExternalResetKeepsTripBeforeWorkaround(t *testing.T) {
	h := newHarness(t)
	h.s.ThermalTrip(0)
	h.s.ExternalReset(0)
	c := h.chips.Get(0)
	if !c.State.Tripped || !c.State.NeedsReset {
		t.Errorf("Tripped=%v NeedsReset=%v, want both true", c.State.Tripped, c.State.NeedsReset)
	}
	if !reflect.DeepEqual(h.resets[0].values, []bool{true}) {
		t.Errorf("chip 0 reset = %v, want [true]", h.resets[0].values)
	}
}

func TestExternalResetReplayRunsAllStepsOnError(t *testing.T) {
	h := newHarness(t)
	h.bootrom.fail["reset_asic"] = errors.New("jtag timeout")
	c := h.chips.Get(0)
	c.State.WorkaroundApplied = true
	h.s.ExternalReset(0)
	if len(h.bootrom.calls) != 3 {
		t.Errorf("bootrom calls = %v, want all three steps", h.bootrom.calls)
	}
	if c.State.NeedsReset {
		t.Errorf("NeedsReset = true, want false")
	}
}

func TestApplyWorkaroundServicesDeferredReset(t *testing.T) {
	h := newHarness(t)
	h.s.ExternalReset(1)
	if err := h.s.ApplyWorkaround(); err != nil {
		t.Fatalf("ApplyWorkaround: %v", err)
	}
	want := []string{
		"init 0", "sequence(force=false) 0",
		"init 1", "sequence(force=false) 1",
		"reset_asic 1", "soft_reset_arc 1", "teardown 1",
	}
	if !reflect.DeepEqual(h.bootrom.calls, want) {
		t.Errorf("bootrom calls = %v, want %v", h.bootrom.calls, want)
	}
	for _, c := range h.chips.All() {
		if !c.State.WorkaroundApplied {
			t.Errorf("%v: WorkaroundApplied = false", c)
		}
		if c.State.NeedsReset {
			t.Errorf("%v: NeedsReset = true", c)
		}
	}
}

func TestApplyWorkaroundFailure(t *testing.T) {
	h := newHarness(t)
	h.bootrom.fail["init"] = errors.New("no tap")
	if err := h.s.ApplyWorkaround(); err == nil {
		t.Fatal("ApplyWorkaround succeeded")
	}
	if h.chips.Get(0).State.WorkaroundApplied {
		t.Errorf("WorkaroundApplied set after a failed init")
	}
}

func TestApplyWorkaroundWithoutBootrom(t *testing.T) {
	r, _ := chip.NewRegistry(config.DefaultConfig.Chips, 0)
	s, _ := New(r, Options{})
	if err := s.ApplyWorkaround(); err != nil {
		t.Errorf("ApplyWorkaround: %v", err)
	}
	if err := s.ResetSequence(0, true); err == nil {
		t.Errorf("ResetSequence without a debug interface succeeded")
	}
}

func TestForcedResetSequence(t *testing.T) {
	h := newHarness(t)
	if err := h.s.ResetSequence(0, true); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(h.bootrom.calls, []string{"sequence(force=true) 0"}) {
		t.Errorf("bootrom calls = %v", h.bootrom.calls)
	}
}

func TestNewRejectsResetCountMismatch(t *testing.T) {
	r, _ := chip.NewRegistry(config.DefaultConfig.Chips, 0)
	if _, err := New(r, Options{Resets: []Output{&fakeOutput{}}}); err == nil {
		t.Errorf("New with one reset line for two chips succeeded")
	}
}
