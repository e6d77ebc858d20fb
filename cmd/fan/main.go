// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/hardware/fan"
)

var (
	tach  = flag.String("tach", config.DefaultConfig.Fan.Tach, "hwmon tachometer input")
	pwm   = flag.String("pwm", config.DefaultConfig.Fan.Pwm, "hwmon PWM output")
	speed = flag.Int("speed", -1, "Cooling in percent, -1 to not set fan speed")
)

func main() {
	flag.Parse()

	f := fan.New(afero.NewOsFs(), *tach, *pwm)
	if rpm, err := f.SampleRPM(); err != nil {
		log.Printf("Reading fan speed: %v", err)
	} else {
		fmt.Printf("Fan: %v RPM\n", rpm)
	}
	if p, err := f.Speed(); err == nil {
		fmt.Printf("Fan: %d%%\n", p)
	}

	if *speed > -1 {
		if *speed > 100 {
			log.Fatalf("Speed %d out of range 0-100", *speed)
		}
		fmt.Printf("Setting fan to %d%%\n", *speed)
		if err := f.SetSpeed(uint8(*speed)); err != nil {
			log.Fatalf("Setting fan speed: %v", err)
		}
	}
}
