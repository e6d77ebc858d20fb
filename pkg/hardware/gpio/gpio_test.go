// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpio

import (
	"context"
	"testing"
	"time"
)

var testPorts = map[string]uint32{
	"FAULT_LED":   1,
	"RESET_N":     2,
	"THERMTRIP_N": 3,
}

func newTest(start map[uint32]bool) (*FakeGpio, *System) {
	f := FakeGpioImpl(start)
	return f, NewSystem(f, testPorts, []string{"RESET_N", "THERMTRIP_N"})
}

func TestOutputPolarity(t *testing.T) {
	f, s := newTest(nil)
	led, err := s.Output("FAULT_LED", false)
	if err != nil {
		t.Fatal(err)
	}
	rst, err := s.Output("RESET_N", false)
	if err != nil {
		t.Fatal(err)
	}
	if f.Current(1) || !f.Current(2) {
		t.Fatalf("initial levels led=%v reset=%v, want false true", f.Current(1), f.Current(2))
	}
	if err := led.Set(true); err != nil {
		t.Fatal(err)
	}
	if err := rst.Set(true); err != nil {
		t.Fatal(err)
	}
	if !f.Current(1) || f.Current(2) {
		t.Errorf("asserted levels led=%v reset=%v, want true false", f.Current(1), f.Current(2))
	}
}

func TestOutputUnknownLine(t *testing.T) {
	_, s := newTest(nil)
	if _, err := s.Output("NOPE", false); err == nil {
		t.Fatal("Output of unknown line succeeded")
	}
}

func TestWatch(t *testing.T) {
	f, s := newTest(map[uint32]bool{3: true})
	ctx, cancel := context.WithCancel(context.Background())
	hits := make(chan struct{}, 10)
	errc := make(chan error, 1)
	go func() {
		errc <- s.Watch(ctx, "THERMTRIP_N", func() { hits <- struct{}{} })
	}()

	f.WaitWatch(3)
	f.Set(3, false) // asserted
	f.Set(3, true)  // released
	f.Set(3, false) // asserted
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	if len(hits) != 2 {
		t.Errorf("got %d assertions, want 2", len(hits))
	}
}

func TestWatchInitiallyAsserted(t *testing.T) {
	_, s := newTest(map[uint32]bool{3: false})
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := s.Watch(ctx, "THERMTRIP_N", func() { n++ }); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d calls, want 1", n)
	}
}

func TestWatchEdgeBeforeInitialRead(t *testing.T) {
	f, s := newTest(map[uint32]bool{3: true})
	// The line asserts after the event stream opened but before the
	// watcher sampled it: the level is seen, the edge is still queued.
	f.Level(3, false)
	ctx, cancel := context.WithCancel(context.Background())
	hits := make(chan struct{}, 10)
	errc := make(chan error, 1)
	go func() {
		errc <- s.Watch(ctx, "THERMTRIP_N", func() { hits <- struct{}{} })
	}()

	f.Edge(3, false)
	f.Set(3, true)  // released
	f.Set(3, false) // asserted
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	if len(hits) != 2 {
		t.Errorf("got %d assertions, want 2", len(hits))
	}
}
