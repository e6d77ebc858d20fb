// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build arm || arm64 || amd64 || 386 || riscv64

package gpio

import (
	"encoding/binary"
)

func nativeEndian() binary.ByteOrder {
	return binary.LittleEndian
}
