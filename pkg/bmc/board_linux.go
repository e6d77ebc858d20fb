// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bmc

import (
	"fmt"

	"github.com/jmhodges/clock"
	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/bist"
	"github.com/u-root/accel-bmc/pkg/chip"
	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/fwupdate"
	"github.com/u-root/accel-bmc/pkg/hardware/fan"
	"github.com/u-root/accel-bmc/pkg/hardware/gpio"
	"github.com/u-root/accel-bmc/pkg/hardware/jtag"
	"github.com/u-root/accel-bmc/pkg/hardware/sensor"
	"github.com/u-root/accel-bmc/pkg/hardware/smbus"
	"github.com/u-root/accel-bmc/pkg/restart"
	"github.com/u-root/accel-bmc/pkg/supervisor"
)

// OpenBoard opens the hardware described by conf.
func OpenBoard(fs afero.Fs, conf *config.Config) (_ *Board, err error) {
	chips, err := chip.NewRegistry(conf.Chips, conf.PrimaryChip)
	if err != nil {
		return nil, err
	}

	log.Infof("Starting GPIO drivers")
	g, err := gpio.Open(conf.GpioChip, conf.Lines, conf.ActiveLow)
	if err != nil {
		return nil, fmt.Errorf("gpio: %w", err)
	}
	output := func(line string) (*gpio.Line, error) {
		if line == "" {
			return nil, nil
		}
		return g.Output(line, false)
	}

	b := &Board{
		Config:    conf,
		Chips:     chips,
		Source:    event.NewSource(),
		SelfTest:  selfTests(fs, conf),
		Watch:     g.Watch,
		Restarter: &restart.Reboot{Disabled: !conf.Reboot},
		Clock:     clock.New(),
	}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	var opts supervisor.Options
	if l, err := output(conf.FaultLedLine); err != nil {
		return nil, err
	} else if l != nil {
		b.FaultLed = l
		opts.FaultLed = l
	}
	for _, c := range chips.All() {
		rst, err := output(c.Config.ResetLine)
		if err != nil {
			return nil, err
		}
		mux, err := output(c.Config.FlashMuxLine)
		if err != nil {
			return nil, err
		}
		var ro, mo supervisor.Output
		if rst != nil {
			ro = rst
		}
		if mux != nil {
			mo = mux
		}
		opts.Resets = append(opts.Resets, ro)
		b.FlashMux = append(b.FlashMux, mo)
	}
	if l, err := output(chips.Primary().Config.BusHandoffLine); err != nil {
		return nil, err
	} else if l != nil {
		b.Handoff = l
	}

	log.Infof("Starting fan system")
	f := fan.New(fs, conf.Fan.Tach, conf.Fan.Pwm)
	if f.HasPwm() {
		b.Cooling = f
		opts.Cooling = f
	}
	if f.HasTach() {
		b.Tach = f
	}
	if conf.CurrentSensor != "" {
		b.Current = sensor.NewCurrent(fs, conf.CurrentSensor)
	}

	bus := smbus.New()
	b.Mailbox = bus
	b.Info = bus

	if conf.JtagLoadBootrom {
		j, err := jtag.Open()
		if err != nil {
			return nil, fmt.Errorf("jtag: %w", err)
		}
		b.onClose(j.Close)
		opts.Bootrom = j
	}

	if conf.FirmwareUpdate.Enabled {
		s, err := fwupdate.Open(fs, conf.FirmwareUpdate)
		if err != nil {
			return nil, fmt.Errorf("firmware update: %w", err)
		}
		s.Restarter = b.Restarter
		b.Updater = s
	}

	b.Supervisor, err = supervisor.New(chips, opts)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func selfTests(fs afero.Fs, conf *config.Config) *bist.Suite {
	s := &bist.Suite{}
	s.Add("gpio", bist.Exists(fs, conf.GpioChip))
	seen := map[int]bool{}
	for _, c := range conf.Chips {
		if seen[c.Bus] {
			continue
		}
		seen[c.Bus] = true
		dev := fmt.Sprintf("/dev/i2c-%d", c.Bus)
		s.Add("smbus "+dev, bist.Exists(fs, dev))
	}
	if conf.Fan.Tach != "" {
		s.Add("fan", bist.Hwmon(fs, conf.Fan.Tach, 0, 65535))
	}
	if conf.CurrentSensor != "" {
		// A board drawing more than 100 A at boot has a sensor problem.
		s.Add("current sensor", bist.Hwmon(fs, conf.CurrentSensor, -1000, 100000))
	}
	return s
}
