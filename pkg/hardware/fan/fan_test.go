// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fan

import (
	"testing"

	"github.com/spf13/afero"
)

const (
	tach = "/sys/class/hwmon/hwmon0/fan1_input"
	pwm  = "/sys/class/hwmon/hwmon0/pwm1"
)

func newFan(t *testing.T, rpm string) (afero.Fs, *Fan) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, tach, []byte(rpm), 0644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, pwm, []byte("0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return fs, New(fs, tach, pwm)
}

func TestSampleRPM(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want uint16
	}{
		{"4200\n", 4200},
		{"0", 0},
		{"123456\n", 65535},
	} {
		_, f := newFan(t, tc.raw)
		got, err := f.SampleRPM()
		if err != nil {
			t.Fatalf("SampleRPM(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("SampleRPM(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestSampleRPMGarbage(t *testing.T) {
	_, f := newFan(t, "n/a")
	if _, err := f.SampleRPM(); err == nil {
		t.Fatal("SampleRPM of garbage succeeded")
	}
}

func TestSetSpeed(t *testing.T) {
	for _, tc := range []struct {
		percent uint8
		raw     string
	}{
		{100, "255"},
		{0, "0"},
		{50, "127"},
		{200, "255"},
	} {
		fs, f := newFan(t, "0")
		if err := f.SetSpeed(tc.percent); err != nil {
			t.Fatalf("SetSpeed(%d): %v", tc.percent, err)
		}
		b, _ := afero.ReadFile(fs, pwm)
		if string(b) != tc.raw {
			t.Errorf("SetSpeed(%d) wrote %q, want %q", tc.percent, b, tc.raw)
		}
	}
}

func TestSpeedReadBack(t *testing.T) {
	_, f := newFan(t, "0")
	if err := f.SetSpeed(100); err != nil {
		t.Fatal(err)
	}
	if p, err := f.Speed(); err != nil || p != 100 {
		t.Errorf("Speed = %d, %v; want 100", p, err)
	}
}

func TestAbsentDevices(t *testing.T) {
	f := New(afero.NewMemMapFs(), "", "")
	if f.HasTach() || f.HasPwm() {
		t.Error("absent devices reported present")
	}
	if _, err := f.SampleRPM(); err == nil {
		t.Error("SampleRPM without tachometer succeeded")
	}
	if err := f.SetSpeed(100); err != nil {
		t.Errorf("SetSpeed without pwm: %v", err)
	}
}
