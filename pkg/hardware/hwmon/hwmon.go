// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hwmon reads and writes integer hwmon sysfs attributes.
package hwmon

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Read reads an integer attribute.
func Read(fs afero.Fs, fname string) (int, error) {
	b, err := afero.ReadFile(fs, fname)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", fname, err)
	}
	return v, nil
}

// Write replaces the value of an existing attribute.
func Write(fs afero.Fs, fname string, v int) error {
	f, err := fs.OpenFile(fname, os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(strconv.Itoa(v))); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
