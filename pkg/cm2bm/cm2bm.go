// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cm2bm processes messages sent by a chip's management firmware to
// the BMC ("chip management to board management").
package cm2bm

import (
	"fmt"
	"strconv"

	"github.com/u-root/accel-bmc/pkg/chip"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	received = metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "cm2bm",
		Name:      "messages_total",
		Help:      "Messages received from chips, by chip and handler",
	}, "chip", "handler")
	failures = metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "cm2bm",
		Name:      "failures_total",
		Help:      "Failed mailbox reads and message handlers, by chip",
	}, "chip")
)

const (
	// PingRegister receives PingReply in answer to a ping message.
	PingRegister = 0x21
	PingReply    = 0xA5A5
)

type Message struct {
	ID   uint8
	Seq  uint8
	Data uint32
}

func (m Message) String() string {
	return fmt.Sprintf("msg 0x%x seq %d data 0x%x", m.ID, m.Seq, m.Data)
}

type Status int

const (
	StatusOK Status = iota
	StatusEmpty
	StatusError
)

// StaticInfo is published to every chip once per boot.
type StaticInfo struct {
	Version           uint32
	BootloaderVersion uint32
	AppVersion        uint32
}

// Mailbox is the bus transport to a chip's management firmware.
type Mailbox interface {
	// Receive fetches at most one message without blocking.
	Receive(c *chip.Chip) (Message, Status)
	WriteWord(c *chip.Chip, reg uint8, val uint16) error
}

// InfoPublisher hands the static info record to a chip.
type InfoPublisher interface {
	PublishStaticInfo(c *chip.Chip, info StaticInfo) error
}

type Cooling interface {
	SetSpeed(percent uint8) error
}

// Resetter runs the bootrom reset sequence on a chip.
type Resetter interface {
	ResetSequence(i int, force bool) error
}

// Action is what the caller has to do after a message was handled.
type Action int

const (
	ActionNone Action = iota
	// ActionRestart asks for a cold restart of the BMC.
	ActionRestart
)

func (a Action) String() string {
	if a == ActionRestart {
		return "restart"
	}
	return "none"
}

type handler struct {
	name string
	id   uint8
	// Matches any data when nil.
	data *uint32
	run  func(p *Processor, c *chip.Chip, m Message) (Action, error)
}

func data(v uint32) *uint32 { return &v }

var handlers = []handler{
	{"reset", 0x1, data(0x0), (*Processor).reset},
	{"restart", 0x1, data(0x3), (*Processor).restart},
	{"ping", 0x2, nil, (*Processor).ping},
	{"cooling", 0x3, nil, (*Processor).setCooling},
}

func lookup(m Message) *handler {
	for i := range handlers {
		h := &handlers[i]
		if h.id == m.ID && (h.data == nil || *h.data == m.Data) {
			return h
		}
	}
	return nil
}

type Processor struct {
	mb      Mailbox
	cooling Cooling
	resets  Resetter
}

// NewProcessor returns a processor; cooling may be nil on boards without
// controllable cooling.
func NewProcessor(mb Mailbox, cooling Cooling, resets Resetter) *Processor {
	return &Processor{mb: mb, cooling: cooling, resets: resets}
}

// Process fetches and handles at most one pending message of chip c.
// Unknown messages are ignored and handler failures are logged.
func (p *Processor) Process(c *chip.Chip) Action {
	m, st := p.mb.Receive(c)
	switch st {
	case StatusEmpty:
		return ActionNone
	case StatusError:
		failures.WithLabelValues(strconv.Itoa(c.Index)).Inc()
		return ActionNone
	}

	h := lookup(m)
	if h == nil {
		log.Debugf("Ignoring %v from %v", m, c)
		received.WithLabelValues(strconv.Itoa(c.Index), "unknown").Inc()
		return ActionNone
	}
	received.WithLabelValues(strconv.Itoa(c.Index), h.name).Inc()
	a, err := h.run(p, c, m)
	if err != nil {
		log.Errorf("Handling %v from %v: %v", m, c, err)
		failures.WithLabelValues(strconv.Itoa(c.Index)).Inc()
	}
	return a
}

func (p *Processor) reset(c *chip.Chip, _ Message) (Action, error) {
	log.Infof("%v requested a reset", c)
	if p.resets == nil {
		return ActionNone, fmt.Errorf("no reset support")
	}
	return ActionNone, p.resets.ResetSequence(c.Index, true)
}

func (p *Processor) restart(c *chip.Chip, _ Message) (Action, error) {
	log.Warnf("%v requested a BMC restart", c)
	return ActionRestart, nil
}

func (p *Processor) ping(c *chip.Chip, _ Message) (Action, error) {
	return ActionNone, p.mb.WriteWord(c, PingRegister, PingReply)
}

func (p *Processor) setCooling(c *chip.Chip, m Message) (Action, error) {
	if p.cooling == nil {
		return ActionNone, nil
	}
	speed := uint8(m.Data & 0xFF)
	log.Debugf("%v set cooling to %d%%", c, speed)
	return ActionNone, p.cooling.SetSpeed(speed)
}
