// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jtag

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

type memProvider interface {
	MustRead32(uintptr) uint32
	MustWrite32(uintptr, uint32)
	Close()
}

type hostMem struct {
	mf *os.File
	ps uintptr
}

func openHostMemory() (*hostMem, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0600)
	if err != nil {
		return nil, err
	}
	return &hostMem{f, uintptr(unix.Getpagesize())}, nil
}

// TODO(bluecmd): Mapping and unmapping like this is not going to fly if
// we need to do any non-trivial data pushing. Leave it for now, but
// will need to re-think later.
func (m *hostMem) mapPage(address uintptr, prot int) ([]byte, uintptr) {
	page := address & ^(m.ps - 1)
	mem, err := unix.Mmap(int(m.mf.Fd()), int64(page), int(m.ps), prot, unix.MAP_SHARED)
	if err != nil {
		panic(err)
	}
	return mem, address - page
}

func (m *hostMem) MustRead32(address uintptr) uint32 {
	mem, offset := m.mapPage(address, unix.PROT_READ)
	v := *(*uint32)(unsafe.Pointer(&mem[offset]))
	if err := unix.Munmap(mem); err != nil {
		panic(err)
	}
	return v
}

func (m *hostMem) MustWrite32(address uintptr, data uint32) {
	mem, offset := m.mapPage(address, unix.PROT_WRITE)
	*(*uint32)(unsafe.Pointer(&mem[offset])) = data
	if err := unix.Munmap(mem); err != nil {
		panic(err)
	}
}

func (m *hostMem) Close() {
	m.mf.Close()
}
