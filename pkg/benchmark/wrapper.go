// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"github.com/gomlx/gomlx/backends"

	"github.com/gomlx/graphssl/pkg/hparams"
)

// Wrapper creates the benchmarker of a run. Batch runners only see this interface.
type Wrapper interface {
	// GetBenchmarker returns a new benchmarker, with its own model state.
	GetBenchmarker() (*ModelBenchmarker, error)

	// GetBenchmarkerClass identifies the kind of benchmarker created.
	GetBenchmarkerClass() string
}

// NodeBenchmark is the Wrapper of node classification benchmarks, for one resolved configuration.
type NodeBenchmark struct {
	Backend       backends.Backend
	Configuration hparams.Configuration

	// Collectors, optional, are shared by all benchmarkers created.
	Collectors *Collectors
}

// Assert NodeBenchmark is a Wrapper.
var _ Wrapper = (*NodeBenchmark)(nil)

// GetBenchmarker implements Wrapper.
func (w *NodeBenchmark) GetBenchmarker() (*ModelBenchmarker, error) {
	m, err := NewModelBenchmarker(w.Backend, w.Configuration.Benchmark, w.Configuration.Model, w.Configuration.Pretext)
	if err != nil {
		return nil, err
	}
	m.SetCollectors(w.Collectors)
	return m, nil
}

// GetBenchmarkerClass implements Wrapper.
func (w *NodeBenchmark) GetBenchmarkerClass() string {
	return "ModelBenchmarker"
}
