// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package benchmark trains and evaluates a GCN node classifier regularized by a self-supervised pretext task,
// for one sampled hyperparameter configuration at a time.
//
// The entry point is ModelBenchmarker.Benchmark, which takes a data Element (a graph with its train,
// validation and test masks) and returns a Result with the training losses and the metrics of the epoch
// with the best validation score. Wrapper and NodeBenchmark are the factory used by batch runners (see
// RunAll) to create one ModelBenchmarker per run.
package benchmark

import (
	"github.com/gomlx/graphssl/pkg/classmetrics"
	"github.com/gomlx/graphssl/pkg/graphdata"
)

// Element is one sample of the data generator.
type Element struct {
	// SampleID identifies the sample in logs and results.
	SampleID string

	// Graph with node features, edges and labels.
	Graph *graphdata.Graph

	// Masks are the train, validation and test node masks, indexed by TrainMask, ValMask and TestMask.
	Masks [3][]bool

	// Skipped is set by the generator for degenerate samples: they are not benchmarked.
	Skipped bool

	// GeneratorConfig used to generate the sample, passed through to the Result.
	GeneratorConfig map[string]any
}

// Result of a benchmark run.
type Result struct {
	SampleID        string
	GeneratorConfig map[string]any

	// RunID uniquely identifies the run.
	RunID string

	// Skipped is true if the element was skipped or the training failed. In that case Losses is nil and the
	// metrics are empty.
	Skipped bool

	// Err is the training failure that caused the run to be skipped, if any.
	Err error

	// Losses has the training loss of each epoch.
	Losses []float64

	// ValMetrics and TestMetrics are the metrics of the epoch with the best validation tuning metric.
	ValMetrics, TestMetrics classmetrics.Metrics
}
