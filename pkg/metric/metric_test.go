// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metric

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOptsToString(t *testing.T) {
	for _, tc := range []struct {
		opts MetricOpts
		want string
	}{
		{MetricOpts{"bmfw", "event", "dispatched", ""}, "bmfw_event_dispatched"},
		{MetricOpts{"bmfw", "", "up", ""}, "bmfw_up"},
		{MetricOpts{"", "loop", "errors", ""}, "loop_errors"},
		{MetricOpts{"", "", "plain", ""}, "plain"},
		{MetricOpts{"a", "b", "", ""}, ""},
	} {
		if got := optsToString(tc.opts); got != tc.want {
			t.Errorf("optsToString(%+v) = %q, want %q", tc.opts, got, tc.want)
		}
	}
}

func TestCounterIsShared(t *testing.T) {
	opts := MetricOpts{Namespace: "bmfw", Subsystem: "test", Name: "shared_total"}
	a := Counter(opts, "chip")
	b := Counter(opts, "chip")
	a.WithLabelValues("0").Inc()
	b.WithLabelValues("0").Inc()
	if v := testutil.ToFloat64(a.WithLabelValues("0")); v != 2 {
		t.Errorf("counter = %v, want 2", v)
	}
}

func TestStartMetrics(t *testing.T) {
	Gauge(MetricOpts{Namespace: "bmfw", Subsystem: "test", Name: "exported"}).WithLabelValues().Set(7)
	mux := http.NewServeMux()
	StartMetrics(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "bmfw_test_exported 7") {
		t.Errorf("metrics output lacks bmfw_test_exported:\n%s", rec.Body.String())
	}
}
