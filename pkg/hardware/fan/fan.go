// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fan controls the board fan through its hwmon attributes.
package fan

import (
	"fmt"
	"math"

	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/pkg/hardware/hwmon"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	speed = metric.Gauge(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "fan",
		Name:      "speed_percent",
		Help:      "Requested fan speed",
	})
	rpm = metric.Gauge(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "fan",
		Name:      "rpm",
		Help:      "Last sampled fan speed",
	})
)

// pwmMax is the hwmon duty cycle for 100 %.
const pwmMax = 255

type Fan struct {
	fs   afero.Fs
	tach string
	pwm  string
}

// New returns the fan with tachometer and PWM attributes at the given paths.
// Either may be empty when the board lacks it.
func New(fs afero.Fs, tach, pwm string) *Fan {
	return &Fan{fs: fs, tach: tach, pwm: pwm}
}

func (f *Fan) HasTach() bool { return f.tach != "" }

func (f *Fan) HasPwm() bool { return f.pwm != "" }

// SampleRPM reads the tachometer, saturating at the range of the bus
// broadcast.
func (f *Fan) SampleRPM() (uint16, error) {
	if f.tach == "" {
		return 0, fmt.Errorf("no tachometer")
	}
	v, err := hwmon.Read(f.fs, f.tach)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		v = 0
	}
	if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	rpm.WithLabelValues().Set(float64(v))
	return uint16(v), nil
}

// SetSpeed sets the fan duty cycle in percent; values above 100 are
// clamped.
func (f *Fan) SetSpeed(percent uint8) error {
	if f.pwm == "" {
		return nil
	}
	if percent > 100 {
		percent = 100
	}
	v := int(percent) * pwmMax / 100
	if err := hwmon.Write(f.fs, f.pwm, v); err != nil {
		return fmt.Errorf("set fan to %d%%: %w", percent, err)
	}
	log.Debugf("Fan set to %d%% (pwm %d)", percent, v)
	speed.WithLabelValues().Set(float64(percent))
	return nil
}

// Speed reads back the duty cycle in percent.
func (f *Fan) Speed() (int, error) {
	if f.pwm == "" {
		return 0, fmt.Errorf("no pwm")
	}
	v, err := hwmon.Read(f.fs, f.pwm)
	if err != nil {
		return 0, err
	}
	return (v*100 + pwmMax/2) / pwmMax, nil
}
