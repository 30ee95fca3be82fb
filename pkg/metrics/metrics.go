// Copyright 2023 The TrainDB-ML Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics records tdbml operation outcomes in a Prometheus registry.
//
// tdbml is a short lived batch tool, so metrics are not scraped. They are
// written once at exit in text exposition format for the node exporter
// textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

var (
	// Registry holds every tdbml metric. It is separate from the default
	// registry so exported files carry only tdbml series.
	Registry = prometheus.NewRegistry()

	operationTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdbml_operation_total",
			Help: "Total number of tdbml operations by outcome",
		},
		[]string{"operation", "status"},
	)

	operationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tdbml_operation_duration_seconds",
			Help:    "Duration of tdbml operations",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
		},
		[]string{"operation"},
	)

	lastSuccess = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tdbml_operation_last_success_timestamp_seconds",
			Help: "Unix time of the last successful operation",
		},
		[]string{"operation"},
	)
)

// Track starts timing operation. The returned function records the outcome
// and must be called exactly once, typically deferred with the named error.
//
//	done := metrics.Track("storage_init")
//	defer func() { done(err) }()
func Track(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if err != nil {
			operationTotal.WithLabelValues(operation, statusError).Inc()
			return
		}
		operationTotal.WithLabelValues(operation, statusSuccess).Inc()
		lastSuccess.WithLabelValues(operation).SetToCurrentTime()
	}
}

// WriteFile writes the registry to path in text exposition format.
// The file is replaced atomically.
func WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
