// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// i2cwatcher polls the mailbox of one chip and prints what it sends. The
// messages are acknowledged, so do not run it next to bmfw.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/chip"
	"github.com/u-root/accel-bmc/pkg/cm2bm"
	"github.com/u-root/accel-bmc/pkg/hardware/smbus"
	"github.com/u-root/accel-bmc/pkg/logger"
)

var (
	bus      = flag.Int("bus", 1, "Which I2C bus to watch")
	addr     = flag.Int("addr", 0x0a, "Chip address on the bus")
	interval = flag.Duration("interval", 20*time.Millisecond, "Polling interval")
	count    = flag.Int("count", 0, "Stop after this many messages, 0 to run forever")

	log = logger.LogContainer.GetSimpleLogger()
)

func main() {
	flag.Parse()

	r, err := chip.NewRegistry([]config.Chip{{Name: "watched", Bus: *bus, Address: *addr}}, 0)
	if err != nil {
		log.Fatalf("%v", err)
	}
	c := r.Primary()
	b := smbus.New()

	log.Infof("Watching mailbox of %v on bus %d address 0x%02x", c, *bus, *addr)
	for n := 0; *count == 0 || n < *count; {
		m, st := b.Receive(c)
		switch st {
		case cm2bm.StatusOK:
			fmt.Printf("%v\n", m)
			n++
		case cm2bm.StatusError:
			log.Warnf("Mailbox read failed")
		}
		time.Sleep(*interval)
	}
}
