// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jtag drives the BMC's memory mapped JTAG masters to apply the
// chips' bootrom workaround through their debug TAP.
//
// Every chip hangs off its own master. The chip TAP exposes an AXI window
// (address, write data and read data instructions) and a dedicated ASIC
// reset instruction; everything else is done through AXI accesses.
package jtag

import (
	"fmt"
	"sync"

	"github.com/u-root/accel-bmc/pkg/chip"
	"github.com/u-root/accel-bmc/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

// JTAG master registers, relative to the master base.
const (
	regData = 0x00
	regInst = 0x04
	regCtrl = 0x08
	regIsr  = 0x0c
	regSw   = 0x10

	ctrlEngEn    uint32 = 1 << 31
	ctrlEngOutEn uint32 = 1 << 30
	ctrlDirRead  uint32 = 1 << 2
	ctrlInstEn   uint32 = 1 << 1
	ctrlDataEn   uint32 = 1 << 0

	isrDataComplete uint32 = 1 << 16
	isrInstComplete uint32 = 1 << 17

	swTrst uint32 = 1 << 3
)

// Chip TAP instructions.
const (
	irResetASIC = 0x02
	irAxiAddr   = 0x08
	irAxiWrite  = 0x09
	irAxiRead   = 0x0a
)

// Chip side registers reached over AXI.
const (
	ArcResetReg      = 0x80030000
	arcSoftReset     = 0x1
	BootScratchReg   = 0x80030400
	WorkaroundMarker = 0x0b007f1c
)

// pollLimit bounds busy waits on the completion flags.
const pollLimit = 1000

type Master struct {
	mem   memProvider
	close sync.Once
}

// Open maps the JTAG masters through /dev/mem.
func Open() (*Master, error) {
	m, err := openHostMemory()
	if err != nil {
		return nil, err
	}
	return &Master{mem: m}, nil
}

func OpenWithMemory(mem memProvider) *Master {
	return &Master{mem: mem}
}

// Close releases the memory mapping; later calls do nothing.
func (m *Master) Close() {
	m.close.Do(m.mem.Close)
}

func base(c *chip.Chip) uintptr {
	return uintptr(c.Config.JtagBase)
}

func (m *Master) wait(c *chip.Chip, flag uint32) error {
	b := base(c)
	for i := 0; i < pollLimit; i++ {
		if m.mem.MustRead32(b+regIsr)&flag != 0 {
			// Write one to clear
			m.mem.MustWrite32(b+regIsr, flag)
			return nil
		}
	}
	return fmt.Errorf("%v: jtag master timed out waiting for %08x", c, flag)
}

func (m *Master) shiftIR(c *chip.Chip, inst uint32) error {
	b := base(c)
	m.mem.MustWrite32(b+regInst, inst)
	m.mem.MustWrite32(b+regCtrl, ctrlEngEn|ctrlEngOutEn|ctrlInstEn)
	return m.wait(c, isrInstComplete)
}

func (m *Master) shiftDR(c *chip.Chip, v uint32) error {
	b := base(c)
	m.mem.MustWrite32(b+regData, v)
	m.mem.MustWrite32(b+regCtrl, ctrlEngEn|ctrlEngOutEn|ctrlDataEn)
	return m.wait(c, isrDataComplete)
}

func (m *Master) readDR(c *chip.Chip) (uint32, error) {
	b := base(c)
	m.mem.MustWrite32(b+regCtrl, ctrlEngEn|ctrlEngOutEn|ctrlDataEn|ctrlDirRead)
	if err := m.wait(c, isrDataComplete); err != nil {
		return 0, err
	}
	return m.mem.MustRead32(b + regData), nil
}

func (m *Master) axiWrite(c *chip.Chip, addr, v uint32) error {
	for _, s := range []func() error{
		func() error { return m.shiftIR(c, irAxiAddr) },
		func() error { return m.shiftDR(c, addr) },
		func() error { return m.shiftIR(c, irAxiWrite) },
		func() error { return m.shiftDR(c, v) },
	} {
		if err := s(); err != nil {
			return fmt.Errorf("axi write %08x: %w", addr, err)
		}
	}
	return nil
}

func (m *Master) axiRead(c *chip.Chip, addr uint32) (uint32, error) {
	for _, s := range []func() error{
		func() error { return m.shiftIR(c, irAxiAddr) },
		func() error { return m.shiftDR(c, addr) },
		func() error { return m.shiftIR(c, irAxiRead) },
	} {
		if err := s(); err != nil {
			return 0, fmt.Errorf("axi read %08x: %w", addr, err)
		}
	}
	return m.readDR(c)
}

// Init enables the chip's JTAG master and resets its TAP.
func (m *Master) Init(c *chip.Chip) error {
	b := base(c)
	m.mem.MustWrite32(b+regCtrl, ctrlEngEn|ctrlEngOutEn)
	m.mem.MustWrite32(b+regSw, swTrst)
	m.mem.MustWrite32(b+regSw, 0)
	return nil
}

// ResetSequence resets the chip and marks the workaround as loaded before
// letting its management core run. Without force a chip already carrying the
// marker is left alone.
func (m *Master) ResetSequence(c *chip.Chip, force bool) error {
	if !force {
		v, err := m.axiRead(c, BootScratchReg)
		if err != nil {
			return err
		}
		if v == WorkaroundMarker {
			log.Infof("Bootrom workaround already present on %v", c)
			return nil
		}
	}
	if err := m.ResetASIC(c); err != nil {
		return err
	}
	if err := m.axiWrite(c, BootScratchReg, WorkaroundMarker); err != nil {
		return err
	}
	return m.SoftResetARC(c)
}

func (m *Master) ResetASIC(c *chip.Chip) error {
	if err := m.shiftIR(c, irResetASIC); err != nil {
		return fmt.Errorf("reset asic: %w", err)
	}
	return nil
}

// SoftResetARC pulses the soft reset of the chip's management core.
func (m *Master) SoftResetARC(c *chip.Chip) error {
	if err := m.axiWrite(c, ArcResetReg, arcSoftReset); err != nil {
		return err
	}
	return m.axiWrite(c, ArcResetReg, 0)
}

// Teardown disables the chip's JTAG master, releasing the TAP.
func (m *Master) Teardown(c *chip.Chip) error {
	m.mem.MustWrite32(base(c)+regCtrl, 0)
	return nil
}
