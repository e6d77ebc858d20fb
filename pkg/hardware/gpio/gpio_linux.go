// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

type gpiohandle_request struct {
	lineoffsets    [64]uint32
	flags          uint32
	default_values [64]uint8
	consumer_label [32]byte
	lines          uint32
	fd             uint32
}

type gpiohandle_data struct {
	values [64]uint8
}

type gpioevent_request struct {
	lineoffset     uint32
	handleflags    uint32
	eventflags     uint32
	consumer_label [32]byte
	fd             uint32
}

type gpioevent_data struct {
	Timestamp uint64
	Id        uint32
	// Linux wants this structure to be aligned with 16 bytes
	_ uint32
}

const (
	GPIO_GET_LINEHANDLE_IOCTL        = 0xc16cb403
	GPIO_GET_LINEEVENT_IOCTL         = 0xc030b404
	GPIOHANDLE_SET_LINE_VALUES_IOCTL = 0xc040b409
	GPIOHANDLE_GET_LINE_VALUES_IOCTL = 0xc040b408

	GPIOHANDLE_REQUEST_INPUT  = (1 << 0)
	GPIOHANDLE_REQUEST_OUTPUT = (1 << 1)

	GPIOEVENT_REQUEST_RISING_EDGE  = (1 << 0)
	GPIOEVENT_REQUEST_FALLING_EDGE = (1 << 1)
	GPIOEVENT_REQUEST_BOTH_EDGES   = GPIOEVENT_REQUEST_RISING_EDGE | GPIOEVENT_REQUEST_FALLING_EDGE

	GPIOEVENT_EVENT_RISING_EDGE  = 1
	GPIOEVENT_EVENT_FALLING_EDGE = 2

	consumer = "bmfw"
)

type gpioLnx struct {
	f *os.File
}

type gpioLnxLine struct {
	f *os.File
}

// Open opens the GPIO character device at path.
func Open(path string, ports map[string]uint32, activeLow []string) (*System, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	return NewSystem(&gpioLnx{f}, ports, activeLow), nil
}

func ioctl(f *os.File, req uintptr, arg unsafe.Pointer) unix.Errno {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, uintptr(arg))
	return errno
}

func (g *gpioLnx) requestLineHandle(lines []uint32, out []bool) (gpioLineImpl, error) {
	rinfo := gpiohandle_request{}
	for i, l := range lines {
		rinfo.lineoffsets[i] = l
	}
	rinfo.lines = uint32(len(lines))
	for i, l := range out {
		if l {
			rinfo.default_values[i] = 1
		}
	}
	rinfo.flags = GPIOHANDLE_REQUEST_INPUT
	copy(rinfo.consumer_label[:], consumer)
	if len(out) > 0 {
		rinfo.flags = GPIOHANDLE_REQUEST_OUTPUT
	}
	if errno := ioctl(g.f, GPIO_GET_LINEHANDLE_IOCTL, unsafe.Pointer(&rinfo)); errno != 0 {
		return nil, fmt.Errorf("GPIO_GET_LINEHANDLE_IOCTL: %w", errno)
	}
	return &gpioLnxLine{os.NewFile(uintptr(rinfo.fd), "gpio")}, nil
}

func getLineValues(f *os.File) ([]bool, error) {
	hinfo := gpiohandle_data{}
	if errno := ioctl(f, GPIOHANDLE_GET_LINE_VALUES_IOCTL, unsafe.Pointer(&hinfo)); errno != 0 {
		return nil, fmt.Errorf("GPIOHANDLE_GET_LINE_VALUES_IOCTL: %w", errno)
	}
	b := make([]bool, len(hinfo.values))
	for i, v := range hinfo.values {
		b[i] = v != 0
	}
	return b, nil
}

func (l *gpioLnxLine) setValues(out []bool) error {
	hinfo := gpiohandle_data{}
	for i, v := range out {
		if v {
			hinfo.values[i] = 1
		}
	}
	if errno := ioctl(l.f, GPIOHANDLE_SET_LINE_VALUES_IOCTL, unsafe.Pointer(&hinfo)); errno != 0 {
		return fmt.Errorf("GPIOHANDLE_SET_LINE_VALUES_IOCTL: %w", errno)
	}
	return nil
}

type gpioLnxEvent struct {
	f    *os.File
	once sync.Once
}

func (g *gpioLnx) getLineEvent(line uint32) (gpioEventImpl, error) {
	req := gpioevent_request{}
	req.lineoffset = line
	req.handleflags = GPIOHANDLE_REQUEST_INPUT
	req.eventflags = GPIOEVENT_REQUEST_BOTH_EDGES
	copy(req.consumer_label[:], consumer)
	if errno := ioctl(g.f, GPIO_GET_LINEEVENT_IOCTL, unsafe.Pointer(&req)); errno != 0 {
		return nil, fmt.Errorf("GPIO_GET_LINEEVENT_IOCTL: %w", errno)
	}
	// Non-blocking so the runtime poller owns the fd and close unblocks read.
	if err := unix.SetNonblock(int(req.fd), true); err != nil {
		unix.Close(int(req.fd))
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}
	return &gpioLnxEvent{f: os.NewFile(uintptr(req.fd), "gpio-line-event")}, nil
}

func (l *gpioLnxEvent) getValue() (bool, error) {
	b, err := getLineValues(l.f)
	if err != nil {
		return false, err
	}
	return b[0], nil
}

func (l *gpioLnxEvent) read() (*int, error) {
	e := gpioevent_data{}
	err := binary.Read(l.f, nativeEndian(), &e)
	if err == io.EOF || errors.Is(err, os.ErrClosed) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("readEvent: %w", err)
	}

	v := GPIO_EVENT_UNKNOWN
	switch e.Id {
	case GPIOEVENT_EVENT_FALLING_EDGE:
		v = GPIO_EVENT_FALLING_EDGE
	case GPIOEVENT_EVENT_RISING_EDGE:
		v = GPIO_EVENT_RISING_EDGE
	default:
		return &v, fmt.Errorf("unknown event: %v", e)
	}
	return &v, nil
}

func (l *gpioLnxEvent) close() error {
	var err error
	l.once.Do(func() { err = l.f.Close() })
	return err
}
