// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sensor samples the board input current monitor.
package sensor

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/pkg/hardware/hwmon"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var current = metric.Gauge(metric.MetricOpts{
	Namespace: "bmfw",
	Subsystem: "board",
	Name:      "input_current_amps",
	Help:      "Last sampled board input current",
})

// Current is an hwmon current channel (curr*_input, milliamps).
type Current struct {
	fs   afero.Fs
	path string
}

func NewCurrent(fs afero.Fs, path string) *Current {
	return &Current{fs: fs, path: path}
}

// SampleCurrent returns the input current in amps as 16.16 fixed point.
func (c *Current) SampleCurrent() (int32, error) {
	ma, err := hwmon.Read(c.fs, c.path)
	if err != nil {
		return 0, fmt.Errorf("read current: %w", err)
	}
	current.WithLabelValues().Set(float64(ma) / 1000)
	return MilliampsToFixed(int64(ma)), nil
}

// MilliampsToFixed converts milliamps to amps in 16.16 fixed point,
// truncating toward zero.
func MilliampsToFixed(ma int64) int32 {
	whole := ma / 1000
	micro := (ma % 1000) * 1000
	return int32(whole<<16 + micro*65536/1000000)
}
