// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bist is the built-in self-test run once per boot. Its result
// decides whether a freshly updated firmware image gets confirmed.
package bist

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/pkg/hardware/hwmon"
	"github.com/u-root/accel-bmc/pkg/logger"
	"go.uber.org/multierr"
)

var log = logger.LogContainer.GetSimpleLogger()

// Check is a single self-test; nil means pass.
type Check func() error

type namedCheck struct {
	name string
	f    Check
}

type Suite struct {
	checks []namedCheck
}

func (s *Suite) Add(name string, f Check) {
	s.checks = append(s.checks, namedCheck{name, f})
}

func (s *Suite) Len() int {
	return len(s.checks)
}

// Run executes every check, even after failures, and returns all failures
// combined.
func (s *Suite) Run() error {
	var err error
	for _, c := range s.checks {
		if cerr := c.f(); cerr != nil {
			log.Errorf("Self-test %s failed: %v", c.name, cerr)
			err = multierr.Append(err, fmt.Errorf("%s: %w", c.name, cerr))
			continue
		}
		log.Debugf("Self-test %s passed", c.name)
	}
	return err
}

// Exists checks that path is present, e.g. a device node.
func Exists(fs afero.Fs, path string) Check {
	return func() error {
		ok, err := afero.Exists(fs, path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s missing", path)
		}
		return nil
	}
}

// Hwmon checks that an hwmon attribute reads as an integer within
// [min, max].
func Hwmon(fs afero.Fs, path string, min, max int) Check {
	return func() error {
		v, err := hwmon.Read(fs, path)
		if err != nil {
			return err
		}
		if v < min || v > max {
			return fmt.Errorf("%s = %d, outside [%d, %d]", path, v, min, max)
		}
		return nil
	}
}
