// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package restart provides the cold restart used as the universal recovery
// action of the supervisor.
package restart

import (
	"sync"

	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
	"golang.org/x/sys/unix"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	requested = metric.Counter(metric.MetricOpts{
		Namespace: "bmfw",
		Subsystem: "restart",
		Name:      "requested_total",
		Help:      "Cold restarts requested, by reason",
	}, "reason")
)

const (
	ReasonRollback     = "rollback"
	ReasonUpdate       = "update"
	ReasonChipRequest  = "chip_request"
	ReasonOperatorCall = "operator"
	ReasonMonitorLost  = "monitor_lost"
)

// Restarter restarts the whole BMC. Implementations backed by hardware never
// return from ColdRestart.
type Restarter interface {
	ColdRestart(reason string)
}

// Reboot restarts the BMC through the kernel.
type Reboot struct {
	// When Disabled is set, restarts are only logged, and ColdRestart
	// returns.
	Disabled bool
}

func (r *Reboot) ColdRestart(reason string) {
	requested.WithLabelValues(reason).Inc()
	if r.Disabled {
		log.Warnf("Cold restart requested (%s) but reboot is disabled", reason)
		return
	}
	log.Warnf("Cold restart (%s)", reason)
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		log.Fatalf("reboot failed: %v", err)
	}
	// The kernel does not return from a successful reboot call
	select {}
}

// Recorder remembers restart requests instead of acting on them.
type Recorder struct {
	m       sync.Mutex
	reasons []string
}

func (r *Recorder) ColdRestart(reason string) {
	requested.WithLabelValues(reason).Inc()
	r.m.Lock()
	defer r.m.Unlock()
	log.Infof("Recorded cold restart request (%s)", reason)
	r.reasons = append(r.reasons, reason)
}

// Reasons returns the reasons of every request recorded so far.
func (r *Recorder) Reasons() []string {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]string(nil), r.reasons...)
}
