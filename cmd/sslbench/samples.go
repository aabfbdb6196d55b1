// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/graphssl/pkg/benchmark"
	"github.com/gomlx/graphssl/pkg/graphdata"
)

// generateElements generates -samples stochastic block model graphs, split 50%/25%/25% in train,
// validation and test nodes. Graphs without edges are marked as skipped.
func generateElements(rng *rand.Rand) []benchmark.Element {
	numNodes := *flagNodes
	numTrain, numVal := numNodes/2, numNodes/4
	numTest := numNodes - numTrain - numVal
	elements := make([]benchmark.Element, *flagSamples)
	for ii := range elements {
		config := graphdata.DefaultSBMConfig(numNodes, *flagClasses, *flagFeatures)
		data := must.M1(graphdata.GenerateSBM(config, rng))
		train, val, test := must.M3(graphdata.SplitMasks(numNodes, numTrain, numVal, numTest, rng))
		elements[ii] = benchmark.Element{
			SampleID: fmt.Sprintf("sbm-%03d", ii),
			Graph:    data,
			Masks:    [3][]bool{train, val, test},
			Skipped:  data.NumEdges() == 0,
			GeneratorConfig: map[string]any{
				"num_nodes":    numNodes,
				"num_classes":  *flagClasses,
				"num_features": *flagFeatures,
			},
		}
		klog.V(1).Infof("sample %s: %d nodes, %d edges", elements[ii].SampleID, numNodes, data.NumEdges())
	}
	return elements
}
