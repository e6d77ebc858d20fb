// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gpio drives board GPIO lines through the Linux GPIO character
// device. Lines are addressed by their board name and handled in terms of
// asserted/deasserted, with the electrical polarity kept here.
package gpio

import (
	"context"
	"fmt"
	"sync"

	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	lineState = metric.Gauge(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "gpio",
		Name:      "line",
		Help:      "Last seen level of monitored and driven GPIO lines, 1 when asserted",
	}, "line")
)

const (
	GPIO_EVENT_UNKNOWN      = 0
	GPIO_EVENT_RISING_EDGE  = 1
	GPIO_EVENT_FALLING_EDGE = 2
)

type gpioLineImpl interface {
	setValues(out []bool) error
}

type gpioEventImpl interface {
	// read blocks for the next edge; nil, nil when the line was closed.
	read() (*int, error)
	getValue() (bool, error)
	// close unblocks read, may be called more than once.
	close() error
}

type gpioImpl interface {
	requestLineHandle(lines []uint32, out []bool) (gpioLineImpl, error)
	getLineEvent(line uint32) (gpioEventImpl, error)
}

type System struct {
	impl      gpioImpl
	ports     map[string]uint32
	activeLow map[string]bool
}

// NewSystem resolves line names through ports; lines listed in activeLow are
// asserted at low level.
func NewSystem(impl gpioImpl, ports map[string]uint32, activeLow []string) *System {
	s := &System{impl: impl, ports: ports, activeLow: map[string]bool{}}
	for _, l := range activeLow {
		s.activeLow[l] = true
	}
	return s
}

func (s *System) port(line string) (uint32, error) {
	p, ok := s.ports[line]
	if !ok {
		return 0, fmt.Errorf("could not resolve GPIO %s", line)
	}
	return p, nil
}

// Line is an output line held by the BMC.
type Line struct {
	name      string
	activeLow bool
	m         sync.Mutex
	h         gpioLineImpl
}

// Output requests line as an output, initially driven to asserted.
func (s *System) Output(line string, asserted bool) (*Line, error) {
	p, err := s.port(line)
	if err != nil {
		return nil, err
	}
	l := &Line{name: line, activeLow: s.activeLow[line]}
	h, err := s.impl.requestLineHandle([]uint32{p}, []bool{asserted != l.activeLow})
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", line, err)
	}
	l.h = h
	log.Infof("Driving GPIO line %-30s = %v", line, asserted)
	setState(line, asserted)
	return l, nil
}

func (l *Line) Name() string {
	return l.name
}

// Set drives the line to asserted or deasserted.
func (l *Line) Set(asserted bool) error {
	l.m.Lock()
	defer l.m.Unlock()
	if err := l.h.setValues([]bool{asserted != l.activeLow}); err != nil {
		return fmt.Errorf("set %s: %w", l.name, err)
	}
	setState(l.name, asserted)
	return nil
}

func setState(line string, asserted bool) {
	v := 0.0
	if asserted {
		v = 1
	}
	lineState.WithLabelValues(line).Set(v)
}

// Watch calls fn on every assertion of line, including once at start when
// the line is already asserted. It returns when ctx is done or the line
// event stream ends.
func (s *System) Watch(ctx context.Context, line string, fn func()) error {
	p, err := s.port(line)
	if err != nil {
		return err
	}
	e, err := s.impl.getLineEvent(p)
	if err != nil {
		return fmt.Errorf("watch %s: %w", line, err)
	}
	defer e.close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.close()
		case <-done:
		}
	}()

	v, err := e.getValue()
	if err != nil {
		return fmt.Errorf("read %s: %w", line, err)
	}
	asserted := v != s.activeLow[line]
	log.Infof("Monitoring GPIO line %-30s [initially asserted %v]", line, asserted)
	setState(line, asserted)
	if asserted {
		fn()
	}

	// An edge queued before the initial read is already reflected in it.
	first := true
	for {
		ev, err := e.read()
		if ev == nil && err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("read event %s: %w", line, err)
		}
		if ev == nil {
			break
		}
		var high bool
		switch *ev {
		case GPIO_EVENT_RISING_EDGE:
			high = true
		case GPIO_EVENT_FALLING_EDGE:
		default:
			log.Errorf("Received unknown event on GPIO line %s: %v", line, *ev)
			continue
		}
		now := high != s.activeLow[line]
		if first && now == asserted {
			first = false
			log.Debugf("Dropping edge on GPIO line %s seen by the initial read", line)
			continue
		}
		first = false
		setState(line, now)
		if now {
			fn()
		}
	}
	log.Infof("Monitoring stopped for GPIO line %s", line)
	return nil
}
