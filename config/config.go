// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Set with -ldflags "-X github.com/u-root/accel-bmc/config.gitVersion=..."
var (
	gitVersion = "0.0.0-dev"
	gitHash    = "unknown"
)

// ErrInvalid is wrapped by every error returned from Validate.
var ErrInvalid = errors.New("invalid configuration")

// MaxEventBits is the width of the event mask.
const MaxEventBits = 32

type Version struct {
	Version string `yaml:"version"`
	GitHash string `yaml:"git_hash"`
	// Encoded as 0xMMmmpp00 when handed to the chips.
	App uint32 `yaml:"app"`
	// No mechanism for reading the bootloader version exists, so this stays 0
	// unless the board configuration says otherwise.
	Bootloader uint32 `yaml:"bootloader"`
}

type Chip struct {
	Name string `yaml:"name"`
	// SMBus the chip's management controller sits on.
	Bus     int `yaml:"bus"`
	Address int `yaml:"address"`
	// GPIO line names, resolved through the board line map.
	ResetLine      string `yaml:"reset_line"`
	FlashMuxLine   string `yaml:"flash_mux_line"`
	BusHandoffLine string `yaml:"bus_handoff_line"`
	ThermTripLine  string `yaml:"therm_trip_line"`
	PerstLine      string `yaml:"perst_line"`
	// Event mask bit raised by each interrupt line.
	ThermTripBit uint `yaml:"therm_trip_bit"`
	PerstBit     uint `yaml:"perst_bit"`
	// Physical base of the JTAG master wired to this chip.
	JtagBase uint64 `yaml:"jtag_base"`
}

type Fan struct {
	// hwmon attribute paths; an empty path means the board has no such device
	Tach string `yaml:"tach"`
	Pwm  string `yaml:"pwm"`
}

type FirmwareUpdate struct {
	Enabled bool `yaml:"enabled"`
	// Directory holding the boot state and the staged image slot.
	StateDir string `yaml:"state_dir"`
	// Candidate image as exposed by the primary chip's external flash, with
	// a detached signature next to it (".gpg").
	Source    string `yaml:"source"`
	PublicKey string `yaml:"public_key"`
	// Tag written into the staged slot, mostly useful when several images
	// share the flash.
	Tag string `yaml:"tag"`
}

type Config struct {
	Version Version `yaml:"version"`

	GpioChip string `yaml:"gpio_chip"`
	// GPIO line name to chip line offset.
	Lines map[string]uint32 `yaml:"lines"`
	// Lines asserted at low level.
	ActiveLow []string `yaml:"active_low"`

	// Upper bound of the event wait; the loop re-polls sensors and mailboxes
	// at least this often.
	LoopPeriod time.Duration `yaml:"loop_period"`

	Chips        []Chip `yaml:"chips"`
	PrimaryChip  int    `yaml:"primary_chip"`
	FaultLedLine string `yaml:"fault_led_line"`

	Fan           Fan    `yaml:"fan"`
	CurrentSensor string `yaml:"current_sensor"`

	FirmwareUpdate  FirmwareUpdate `yaml:"firmware_update"`
	SelfTest        bool           `yaml:"self_test"`
	JtagLoadBootrom bool           `yaml:"jtag_load_bootrom"`
	AssemblyTest    bool           `yaml:"assembly_test"`
	// When false, restart requests are logged but the BMC keeps running.
	Reboot bool `yaml:"reboot"`

	MetricsAddress string `yaml:"metrics_address"`
	GrpcAddress    string `yaml:"grpc_address"`
}

var DefaultConfig = &Config{
	Version: Version{
		Version: gitVersion,
		GitHash: gitHash,
	},

	GpioChip: "/dev/gpiochip0",
	Lines: map[string]uint32{
		"ASIC0_RESET_N":     0,
		"ASIC0_SPI_MUX":     1,
		"ASIC0_SPI_RESET_N": 2,
		"ASIC0_THERMTRIP_N": 3,
		"ASIC0_PERST_N":     4,
		"ASIC1_RESET_N":     8,
		"ASIC1_SPI_MUX":     9,
		"ASIC1_SPI_RESET_N": 10,
		"ASIC1_THERMTRIP_N": 11,
		"ASIC1_PERST_N":     12,
		"BOARD_FAULT_LED":   16,
	},
	ActiveLow: []string{
		"ASIC0_RESET_N", "ASIC0_SPI_RESET_N", "ASIC0_THERMTRIP_N", "ASIC0_PERST_N",
		"ASIC1_RESET_N", "ASIC1_SPI_RESET_N", "ASIC1_THERMTRIP_N", "ASIC1_PERST_N",
	},

	LoopPeriod: 20 * time.Millisecond,

	// Bit assignment mirrors the dispatch table order: thermal trips first,
	// then PERST, one bit per chip.
	Chips: []Chip{
		{
			Name:           "asic0",
			Bus:            1,
			Address:        0x0a,
			ResetLine:      "ASIC0_RESET_N",
			FlashMuxLine:   "ASIC0_SPI_MUX",
			BusHandoffLine: "ASIC0_SPI_RESET_N",
			ThermTripLine:  "ASIC0_THERMTRIP_N",
			PerstLine:      "ASIC0_PERST_N",
			ThermTripBit:   0,
			PerstBit:       2,
			JtagBase:       0x1e6e4000,
		},
		{
			Name:           "asic1",
			Bus:            2,
			Address:        0x0a,
			ResetLine:      "ASIC1_RESET_N",
			FlashMuxLine:   "ASIC1_SPI_MUX",
			BusHandoffLine: "ASIC1_SPI_RESET_N",
			ThermTripLine:  "ASIC1_THERMTRIP_N",
			PerstLine:      "ASIC1_PERST_N",
			ThermTripBit:   1,
			PerstBit:       3,
			JtagBase:       0x1e6e4100,
		},
	},
	PrimaryChip:  0,
	FaultLedLine: "BOARD_FAULT_LED",

	Fan: Fan{
		Tach: "/sys/class/hwmon/hwmon0/fan1_input",
		Pwm:  "/sys/class/hwmon/hwmon0/pwm1",
	},
	CurrentSensor: "/sys/class/hwmon/hwmon1/curr1_input",

	FirmwareUpdate: FirmwareUpdate{
		Enabled:   true,
		StateDir:  "/config/fwupdate",
		Source:    "/dev/mtd1",
		PublicKey: "/etc/bmfw.pub",
		Tag:       "bmfw",
	},
	SelfTest:        true,
	JtagLoadBootrom: true,
	Reboot:          true,

	MetricsAddress: "[::]:9370",
	GrpcAddress:    "[::]:9371",
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	n := *c
	n.Chips = append([]Chip(nil), c.Chips...)
	n.ActiveLow = append([]string(nil), c.ActiveLow...)
	n.Lines = make(map[string]uint32, len(c.Lines))
	for k, v := range c.Lines {
		n.Lines[k] = v
	}
	return &n
}

// Load reads a YAML board description from path on top of DefaultConfig.
func Load(fs afero.Fs, path string) (*Config, error) {
	c := DefaultConfig.Clone()
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the invariants the supervisor relies on: every chip has
// two distinct event bits inside the mask and every named line resolves.
func (c *Config) Validate() error {
	if len(c.Chips) == 0 {
		return invalid("no chips configured")
	}
	if c.PrimaryChip < 0 || c.PrimaryChip >= len(c.Chips) {
		return invalid("primary chip %d out of range", c.PrimaryChip)
	}
	if c.LoopPeriod <= 0 {
		return invalid("loop period must be positive, got %v", c.LoopPeriod)
	}
	bits := map[uint]string{}
	claim := func(bit uint, who string) error {
		if bit >= MaxEventBits {
			return invalid("%s: event bit %d out of range", who, bit)
		}
		if prev, ok := bits[bit]; ok {
			return invalid("%s: event bit %d already used by %s", who, bit, prev)
		}
		bits[bit] = who
		return nil
	}
	line := func(name, who string) error {
		if name == "" {
			return nil
		}
		if _, ok := c.Lines[name]; !ok {
			return invalid("%s: unknown GPIO line %q", who, name)
		}
		return nil
	}
	for i, ch := range c.Chips {
		who := fmt.Sprintf("chip %d (%s)", i, ch.Name)
		if err := claim(ch.ThermTripBit, who+" thermal trip"); err != nil {
			return err
		}
		if err := claim(ch.PerstBit, who+" PERST"); err != nil {
			return err
		}
		for _, n := range []string{ch.ResetLine, ch.FlashMuxLine, ch.BusHandoffLine, ch.ThermTripLine, ch.PerstLine} {
			if err := line(n, who); err != nil {
				return err
			}
		}
	}
	if err := line(c.FaultLedLine, "fault LED"); err != nil {
		return err
	}
	for _, n := range c.ActiveLow {
		if err := line(n, "active low list"); err != nil {
			return err
		}
	}
	if c.FirmwareUpdate.Enabled && c.FirmwareUpdate.StateDir == "" {
		return invalid("firmware update enabled without a state directory")
	}
	return nil
}
