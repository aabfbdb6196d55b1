// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes, the values of the "outcome" label of the runs counter.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Collectors holds the prometheus metrics of benchmark runs. A nil *Collectors is valid and records nothing.
type Collectors struct {
	// Runs counts the calls to Benchmark by outcome.
	Runs *prometheus.CounterVec

	// EpochDuration observes the wall time of each training epoch, including the validation and test evaluations.
	EpochDuration prometheus.Histogram

	// LastLoss is the training loss of the latest epoch, per pretext task ("none" for supervised only).
	LastLoss *prometheus.GaugeVec
}

// NewCollectors creates the benchmark collectors and registers them in registerer.
func NewCollectors(registerer prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphssl_benchmark_runs_total",
				Help: "Total number of benchmark runs, by outcome",
			},
			[]string{"outcome"},
		),
		EpochDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "graphssl_benchmark_epoch_duration_seconds",
				Help:    "Duration of a training epoch, including evaluation",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		LastLoss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "graphssl_benchmark_last_loss",
				Help: "Training loss of the latest epoch",
			},
			[]string{"pretext_task"},
		),
	}
	for _, collector := range []prometheus.Collector{c.Runs, c.EpochDuration, c.LastLoss} {
		if err := registerer.Register(collector); err != nil {
			return nil, errors.Wrap(err, "failed to register benchmark collectors")
		}
	}
	return c, nil
}

func (c *Collectors) countRun(outcome string) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(outcome).Inc()
}

func (c *Collectors) observeEpoch(pretextTask string, elapsed time.Duration, loss float64) {
	if c == nil {
		return
	}
	if pretextTask == "" {
		pretextTask = "none"
	}
	c.EpochDuration.Observe(elapsed.Seconds())
	c.LastLoss.WithLabelValues(pretextTask).Set(loss)
}
