// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphdata

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// FeaturesTensor returns the features as a float32 tensor shaped [NumNodes, NumFeatures].
func (g *Graph) FeaturesTensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(slices.Clone(g.Features), g.NumNodes, g.NumFeatures)
}

// EdgeTensors returns the edge list as int32 tensors (sources, targets) shaped [NumEdges] and
// the edge weights as a float32 tensor shaped [NumEdges]: all 1s if the graph has no weights.
func (g *Graph) EdgeTensors() (sources, targets, weights *tensors.Tensor) {
	numEdges := g.NumEdges()
	sources = tensors.FromFlatDataAndDimensions(slices.Clone(g.Sources), numEdges)
	targets = tensors.FromFlatDataAndDimensions(slices.Clone(g.Targets), numEdges)
	weights = tensors.FromFlatDataAndDimensions(g.weightsOrOnes(), numEdges)
	return
}

// LabelsTensor returns the labels as an int32 tensor shaped [NumNodes].
func (g *Graph) LabelsTensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(slices.Clone(g.Labels), g.NumNodes)
}

// MaskTensor converts a boolean node mask to a float32 tensor shaped [len(mask)] of 0s and 1s.
func MaskTensor(mask []bool) *tensors.Tensor {
	values := make([]float32, len(mask))
	for ii, selected := range mask {
		if selected {
			values[ii] = 1
		}
	}
	return tensors.FromFlatDataAndDimensions(values, len(mask))
}

func (g *Graph) weightsOrOnes() []float32 {
	if g.Weights != nil {
		return slices.Clone(g.Weights)
	}
	ones := make([]float32, g.NumEdges())
	for ii := range ones {
		ones[ii] = 1
	}
	return ones
}
