// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphdata

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// SBMConfig configures GenerateSBM, a small stochastic block model generator with class-correlated
// Gaussian node features.
type SBMConfig struct {
	NumNodes, NumClasses, NumFeatures int

	// IntraProbability and InterProbability of an (undirected) edge between two nodes of the same
	// or of different classes.
	IntraProbability, InterProbability float64

	// FeatureCenterStd is the standard deviation of the class feature centers, and FeatureNoiseStd
	// the standard deviation of the node features around their class center.
	FeatureCenterStd, FeatureNoiseStd float64
}

// DefaultSBMConfig returns a configuration with a clear but noisy cluster structure.
func DefaultSBMConfig(numNodes, numClasses, numFeatures int) SBMConfig {
	return SBMConfig{
		NumNodes:         numNodes,
		NumClasses:       numClasses,
		NumFeatures:      numFeatures,
		IntraProbability: 0.3,
		InterProbability: 0.02,
		FeatureCenterStd: 1.0,
		FeatureNoiseStd:  1.0,
	}
}

// GenerateSBM generates a random undirected graph (both edge directions are included) following
// the stochastic block model in config.
func GenerateSBM(config SBMConfig, rng *rand.Rand) (*Graph, error) {
	if config.NumNodes <= 0 || config.NumClasses <= 0 || config.NumFeatures <= 0 {
		return nil, errors.Errorf("invalid SBM configuration %+v", config)
	}
	g := &Graph{
		NumNodes:    config.NumNodes,
		NumFeatures: config.NumFeatures,
		NumClasses:  config.NumClasses,
		Features:    make([]float32, config.NumNodes*config.NumFeatures),
		Labels:      make([]int32, config.NumNodes),
	}
	centers := make([]float64, config.NumClasses*config.NumFeatures)
	for ii := range centers {
		centers[ii] = rng.NormFloat64() * config.FeatureCenterStd
	}
	for n := range config.NumNodes {
		// Round-robin assignment, so all classes are represented.
		label := n % config.NumClasses
		g.Labels[n] = int32(label)
		row := g.Row(n)
		for d := range row {
			row[d] = float32(centers[label*config.NumFeatures+d] + rng.NormFloat64()*config.FeatureNoiseStd)
		}
	}
	for i := range config.NumNodes {
		for j := i + 1; j < config.NumNodes; j++ {
			prob := config.InterProbability
			if g.Labels[i] == g.Labels[j] {
				prob = config.IntraProbability
			}
			if rng.Float64() < prob {
				g.Sources = append(g.Sources, int32(i), int32(j))
				g.Targets = append(g.Targets, int32(j), int32(i))
			}
		}
	}
	return g, nil
}

// SplitMasks randomly splits numNodes nodes in disjoint train, validation and test masks with the given
// number of nodes each. The remaining nodes (if any) are in none of the masks.
func SplitMasks(numNodes, numTrain, numVal, numTest int, rng *rand.Rand) (train, val, test []bool, err error) {
	if numTrain+numVal+numTest > numNodes || numTrain <= 0 || numVal <= 0 || numTest <= 0 {
		return nil, nil, nil, errors.Errorf("cannot split %d nodes in train/val/test of sizes %d/%d/%d",
			numNodes, numTrain, numVal, numTest)
	}
	perm := rng.Perm(numNodes)
	train, val, test = make([]bool, numNodes), make([]bool, numNodes), make([]bool, numNodes)
	for _, node := range perm[:numTrain] {
		train[node] = true
	}
	for _, node := range perm[numTrain : numTrain+numVal] {
		val[node] = true
	}
	for _, node := range perm[numTrain+numVal : numTrain+numVal+numTest] {
		test[node] = true
	}
	return
}
