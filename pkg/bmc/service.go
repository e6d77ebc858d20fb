// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bmc

import (
	"context"

	"github.com/u-root/accel-bmc/pkg/metric"
	"golang.org/x/sync/errgroup"
)

var serviceFailures = metric.Counter(metric.MetricOpts{
	Namespace: "bmfw",
	Subsystem: "service",
	Name:      "failures_total",
	Help:      "Auxiliary services that stopped with an error, by service",
}, "service")

// GoService runs an auxiliary service such as the metrics endpoint in g
// until ctx is done. Its failure is logged and counted but never returned
// into g, so it cannot end supervision.
func GoService(ctx context.Context, g *errgroup.Group, name string, serve func(context.Context) error) {
	g.Go(func() error {
		if err := serve(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("Service %s stopped: %v", name, err)
			serviceFailures.WithLabelValues(name).Inc()
		}
		return nil
	})
}
