// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package smbus talks to the chips' management firmware over SMBus: the
// message mailbox, register writes and the static info record.
package smbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/i2c"
	"github.com/u-root/accel-bmc/pkg/chip"
	"github.com/u-root/accel-bmc/pkg/cm2bm"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	transfers = metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "smbus",
		Name:      "transfers_total",
		Help:      "SMBus transfers to chips, by chip and result",
	}, "chip", "result")
)

// Command codes of the management firmware.
const (
	CmdMessage    = 0x10
	CmdMessageAck = 0x11
	CmdStaticInfo = 0x20
)

// ErrCancelled is returned when a transfer was aborted because the chip's
// bus cancel flag was raised.
var ErrCancelled = errors.New("bus transfer cancelled")

// transport performs one SMBus transaction.
type transport interface {
	do(bus, addr int, rw i2c.RW, cmd uint8, size i2c.SMBusSize, data *i2c.SMBusData) error
}

type linuxTransport struct{}

func (linuxTransport) do(busIndex, addr int, rw i2c.RW, cmd uint8, size i2c.SMBusSize, data *i2c.SMBusData) (err error) {
	var bus i2c.Bus

	err = bus.Open(busIndex)
	if err != nil {
		return
	}
	defer bus.Close()

	err = bus.ForceSlaveAddress(addr)
	if err != nil {
		return
	}

	err = bus.Do(rw, cmd, size, data)
	return
}

// Bus implements cm2bm.Mailbox and cm2bm.InfoPublisher.
type Bus struct {
	t        transport
	attempts int
	min, max time.Duration
	sleep    func(time.Duration)
}

var (
	_ cm2bm.Mailbox       = (*Bus)(nil)
	_ cm2bm.InfoPublisher = (*Bus)(nil)
)

// New returns the SMBus mailbox on the Linux i2c-dev interface.
func New() *Bus {
	return newBus(linuxTransport{})
}

func newBus(t transport) *Bus {
	return &Bus{
		t:        t,
		attempts: 3,
		min:      time.Millisecond,
		max:      8 * time.Millisecond,
		sleep:    time.Sleep,
	}
}

// transfer runs one transaction with retries. A raised bus cancel flag
// aborts the transfer and is cleared here, as the abort has been honored.
func (b *Bus) transfer(c *chip.Chip, rw i2c.RW, cmd uint8, size i2c.SMBusSize, data *i2c.SMBusData) error {
	bo := &backoff.Backoff{
		Min:    b.min,
		Max:    b.max,
		Factor: 2,
		Jitter: false,
	}
	label := strconv.Itoa(c.Index)
	var err error
	for i := 0; i < b.attempts; i++ {
		if c.State.BusCancel.CAS(true, false) {
			transfers.WithLabelValues(label, "cancelled").Inc()
			return ErrCancelled
		}
		if i > 0 {
			b.sleep(bo.Duration())
		}
		if err = b.t.do(c.Config.Bus, c.Config.Address, rw, cmd, size, data); err == nil {
			transfers.WithLabelValues(label, "ok").Inc()
			return nil
		}
	}
	transfers.WithLabelValues(label, "error").Inc()
	return fmt.Errorf("%v: smbus cmd 0x%02x: %w", c, cmd, err)
}

// Receive reads the chip's message register. The message is acknowledged
// once read so the chip can post the next one.
func (b *Bus) Receive(c *chip.Chip) (cm2bm.Message, cm2bm.Status) {
	var d i2c.SMBusData
	if err := b.transfer(c, i2c.Read, CmdMessage, i2c.BlockData, &d); err != nil {
		if !errors.Is(err, ErrCancelled) {
			log.Debugf("Reading mailbox: %v", err)
		}
		return cm2bm.Message{}, cm2bm.StatusError
	}
	if n := int(d[0]); n < 6 {
		log.Debugf("%v: short mailbox read (%d bytes)", c, n)
		return cm2bm.Message{}, cm2bm.StatusError
	}
	m := cm2bm.Message{
		ID:   d[1],
		Seq:  d[2],
		Data: binary.LittleEndian.Uint32(d[3:7]),
	}
	if m.ID == 0 {
		return cm2bm.Message{}, cm2bm.StatusEmpty
	}
	if err := b.WriteWord(c, CmdMessageAck, uint16(m.Seq)<<8|uint16(m.ID)); err != nil {
		log.Warnf("Acknowledging %v: %v", m, err)
	}
	return m, cm2bm.StatusOK
}

func (b *Bus) WriteWord(c *chip.Chip, reg uint8, val uint16) error {
	var d i2c.SMBusData
	binary.LittleEndian.PutUint16(d[:2], val)
	return b.transfer(c, i2c.Write, reg, i2c.WordData, &d)
}

// PublishStaticInfo writes the static info record as a 12 byte block.
func (b *Bus) PublishStaticInfo(c *chip.Chip, info cm2bm.StaticInfo) error {
	var d i2c.SMBusData
	d[0] = 12
	binary.LittleEndian.PutUint32(d[1:5], info.Version)
	binary.LittleEndian.PutUint32(d[5:9], info.BootloaderVersion)
	binary.LittleEndian.PutUint32(d[9:13], info.AppVersion)
	return b.transfer(c, i2c.Write, CmdStaticInfo, i2c.BlockData, &d)
}
