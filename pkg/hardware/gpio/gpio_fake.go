// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpio

import (
	"sync"
)

// FakeGpio is an in-memory GPIO controller for tests. Levels are electrical,
// not asserted/deasserted.
type FakeGpio struct {
	lock  sync.Mutex
	v     map[uint32]bool
	ports map[uint32]chan bool
	// Closed once a watcher has read the initial level of the port.
	watched map[uint32]chan struct{}
}

type fakeGpioLine struct {
	g     *FakeGpio
	lines []uint32
}

type fakeGpioEvent struct {
	g      *FakeGpio
	line   uint32
	closed chan struct{}
	once   sync.Once
}

// FakeGpioImpl returns a controller whose lines start at the given levels.
func FakeGpioImpl(startupState map[uint32]bool) *FakeGpio {
	g := &FakeGpio{
		v:       map[uint32]bool{},
		ports:   map[uint32]chan bool{},
		watched: map[uint32]chan struct{}{},
	}
	for p, v := range startupState {
		g.v[p] = v
	}
	return g
}

func (g *FakeGpio) port(p uint32) chan bool {
	c, ok := g.ports[p]
	if !ok {
		c = make(chan bool)
		g.ports[p] = c
	}
	return c
}

func (g *FakeGpio) watchedChan(p uint32) chan struct{} {
	c, ok := g.watched[p]
	if !ok {
		c = make(chan struct{})
		g.watched[p] = c
	}
	return c
}

// Set changes the level of an input line and blocks until a watcher has
// seen the edge.
func (g *FakeGpio) Set(port uint32, v bool) {
	g.Level(port, v)
	g.Edge(port, v)
}

// Level changes the level of an input line without delivering an edge.
func (g *FakeGpio) Level(port uint32, v bool) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.v[port] = v
}

// Edge delivers an edge towards v and blocks until a watcher has read it.
func (g *FakeGpio) Edge(port uint32, v bool) {
	g.lock.Lock()
	c := g.port(port)
	g.lock.Unlock()
	c <- v
}

// WaitWatch blocks until a watcher has read the initial level of port.
func (g *FakeGpio) WaitWatch(port uint32) {
	g.lock.Lock()
	c := g.watchedChan(port)
	g.lock.Unlock()
	<-c
}

// Current returns the level last driven or set on port.
func (g *FakeGpio) Current(port uint32) bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.v[port]
}

func (g *FakeGpio) requestLineHandle(lines []uint32, out []bool) (gpioLineImpl, error) {
	l := &fakeGpioLine{g, lines}
	return l, l.setValues(out)
}

func (g *FakeGpio) getLineEvent(line uint32) (gpioEventImpl, error) {
	return &fakeGpioEvent{g: g, line: line, closed: make(chan struct{})}, nil
}

func (l *fakeGpioLine) setValues(vals []bool) error {
	l.g.lock.Lock()
	defer l.g.lock.Unlock()
	for i, v := range vals {
		l.g.v[l.lines[i]] = v
	}
	return nil
}

func (e *fakeGpioEvent) getValue() (bool, error) {
	e.g.lock.Lock()
	defer e.g.lock.Unlock()
	c := e.g.watchedChan(e.line)
	select {
	case <-c:
	default:
		close(c)
	}
	return e.g.v[e.line], nil
}

func (e *fakeGpioEvent) read() (*int, error) {
	e.g.lock.Lock()
	c := e.g.port(e.line)
	e.g.lock.Unlock()
	select {
	case nv := <-c:
		v := GPIO_EVENT_FALLING_EDGE
		if nv {
			v = GPIO_EVENT_RISING_EDGE
		}
		return &v, nil
	case <-e.closed:
		return nil, nil
	}
}

func (e *fakeGpioEvent) close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}
