// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bmc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/bist"
	"github.com/u-root/accel-bmc/pkg/chip"
	"github.com/u-root/accel-bmc/pkg/cm2bm"
	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/fwupdate"
	"github.com/u-root/accel-bmc/pkg/restart"
	"github.com/u-root/accel-bmc/pkg/supervisor"
)

// journal records board activity in order.
type journal struct {
	entries []string
}

func (j *journal) add(format string, args ...interface{}) error {
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	return nil
}

func (j *journal) has(e string) bool {
	for _, x := range j.entries {
		if x == e {
			return true
		}
	}
	return false
}

func (j *journal) index(e string) int {
	for i, x := range j.entries {
		if x == e {
			return i
		}
	}
	return -1
}

type output struct {
	j    *journal
	name string
}

func (o *output) Set(active bool) error { return o.j.add("%s=%v", o.name, active) }

type cooling struct {
	j      *journal
	speeds []uint8
}

func (c *cooling) SetSpeed(p uint8) error {
	c.speeds = append(c.speeds, p)
	return c.j.add("cooling %d", p)
}

type bootrom struct {
	j    *journal
	fail error
}

func (b *bootrom) Init(c *chip.Chip) error { return b.j.add("jtag init %d", c.Index) }
func (b *bootrom) ResetSequence(c *chip.Chip, force bool) error {
	b.j.add("jtag sequence %d force=%v", c.Index, force)
	return b.fail
}
func (b *bootrom) ResetASIC(c *chip.Chip) error    { return b.j.add("jtag reset_asic %d", c.Index) }
func (b *bootrom) SoftResetARC(c *chip.Chip) error { return b.j.add("jtag soft_reset_arc %d", c.Index) }
func (b *bootrom) Teardown(c *chip.Chip) error     { return b.j.add("jtag teardown %d", c.Index) }

type updater struct {
	j          *journal
	confirmed  bool
	confirmErr error
	result     fwupdate.Result
}

func (u *updater) IsConfirmed() bool { return u.confirmed }
func (u *updater) Confirm() error {
	u.j.add("confirm")
	if u.confirmErr != nil {
		return u.confirmErr
	}
	u.confirmed = true
	return nil
}
func (u *updater) CheckAndApply(context.Context, bool) (fwupdate.Result, error) {
	u.j.add("check")
	return u.result, nil
}
func (u *updater) Finalize() error { return u.j.add("finalize") }

type mailbox struct {
	j      *journal
	queue  map[int][]cm2bm.Message
	writes []string
}

func (m *mailbox) Receive(c *chip.Chip) (cm2bm.Message, cm2bm.Status) {
	q := m.queue[c.Index]
	if len(q) == 0 {
		return cm2bm.Message{}, cm2bm.StatusEmpty
	}
	m.queue[c.Index] = q[1:]
	return q[0], cm2bm.StatusOK
}

func (m *mailbox) WriteWord(c *chip.Chip, reg uint8, val uint16) error {
	return m.j.add("word %d 0x%02x=0x%04x", c.Index, reg, val)
}

func (m *mailbox) PublishStaticInfo(c *chip.Chip, info cm2bm.StaticInfo) error {
	return m.j.add("static info %d v%d app 0x%x", c.Index, info.Version, info.AppVersion)
}

type sensors struct {
	current int32
	rpm     uint16
	err     error
}

func (s *sensors) SampleCurrent() (int32, error) { return s.current, s.err }
func (s *sensors) SampleRPM() (uint16, error)    { return s.rpm, s.err }

type health struct {
	changes []string
}

func (h *health) SetChipHealth(name string, ok bool) {
	h.changes = append(h.changes, fmt.Sprintf("%s=%v", name, ok))
}

type testBoard struct {
	*Board
	j        *journal
	cooling  *cooling
	bootrom  *bootrom
	updater  *updater
	mailbox  *mailbox
	sensors  *sensors
	health   *health
	restarts *restart.Recorder
	selfTest error
}

func newTestBoard(t *testing.T) *testBoard {
	t.Helper()
	conf := config.DefaultConfig.Clone()
	conf.LoopPeriod = time.Millisecond
	conf.Version.App = 0x01020300
	chips, err := chip.NewRegistry(conf.Chips, conf.PrimaryChip)
	if err != nil {
		t.Fatal(err)
	}
	j := &journal{}
	tb := &testBoard{
		j:        j,
		cooling:  &cooling{j: j},
		bootrom:  &bootrom{j: j},
		updater:  &updater{j: j, confirmed: true},
		mailbox:  &mailbox{j: j, queue: map[int][]cm2bm.Message{}},
		sensors:  &sensors{current: 0x18000, rpm: 4200},
		health:   &health{},
		restarts: &restart.Recorder{},
	}
	selfTest := &bist.Suite{}
	selfTest.Add("fake", func() error {
		j.add("self-test")
		return tb.selfTest
	})
	var resets, muxes []supervisor.Output
	for i := range conf.Chips {
		resets = append(resets, &output{j, fmt.Sprintf("reset%d", i)})
		muxes = append(muxes, &output{j, fmt.Sprintf("mux%d", i)})
	}
	led := &output{j, "led"}
	sup, err := supervisor.New(chips, supervisor.Options{
		FaultLed: led,
		Cooling:  tb.cooling,
		Resets:   resets,
		Bootrom:  tb.bootrom,
	})
	if err != nil {
		t.Fatal(err)
	}
	tb.Board = &Board{
		Config:     conf,
		Chips:      chips,
		Source:     event.NewSource(),
		Supervisor: sup,
		Updater:    tb.updater,
		SelfTest:   selfTest,
		Cooling:    tb.cooling,
		FaultLed:   led,
		FlashMux:   muxes,
		Handoff:    &output{j, "handoff"},
		Mailbox:    tb.mailbox,
		Info:       tb.mailbox,
		Current:    tb.sensors,
		Tach:       tb.sensors,
		Health:     tb.health,
		Restarter:  tb.restarts,
		Clock:      clock.NewFake(),
	}
	return tb
}
