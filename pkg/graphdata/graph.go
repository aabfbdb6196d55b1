// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphdata holds the host-side representation of an attributed graph used by the benchmark:
// node features, a directed edge list with optional weights and node labels.
//
// It also implements the host-side (non-differentiable) transformations used to build graph views:
// feature masking, row normalization, standardization, local degree profiles, PCA and diffusion.
package graphdata

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"slices"

	"github.com/pkg/errors"
	"github.com/viterin/vek/vek32"
	"gonum.org/v1/gonum/mat"
)

// Graph is an attributed graph snapshot.
//
// It's immutable by convention: pretext tasks that need to modify it work on a Clone.
// Undirected graphs are represented with both directions of each edge.
type Graph struct {
	// NumNodes in the graph.
	NumNodes int

	// NumFeatures per node, the D in the features matrix.
	NumFeatures int

	// Features is the node features matrix, shaped [NumNodes, NumFeatures] in row-major order.
	Features []float32

	// Sources and Targets form the directed edge list: edge e goes from Sources[e] to Targets[e].
	Sources, Targets []int32

	// Weights of the edges, optional. If nil, all edges have weight 1.
	Weights []float32

	// Labels of each node for the downstream classification task, in the range [0, NumClasses).
	// Optional for graphs only used by pretext tasks.
	Labels []int32

	// NumClasses of the downstream classification task.
	NumClasses int
}

// NumEdges in the graph.
func (g *Graph) NumEdges() int {
	return len(g.Sources)
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	return &Graph{
		NumNodes:    g.NumNodes,
		NumFeatures: g.NumFeatures,
		Features:    slices.Clone(g.Features),
		Sources:     slices.Clone(g.Sources),
		Targets:     slices.Clone(g.Targets),
		Weights:     slices.Clone(g.Weights),
		Labels:      slices.Clone(g.Labels),
		NumClasses:  g.NumClasses,
	}
}

// Validate checks the graph is consistent, it returns an error describing the first issue found.
func (g *Graph) Validate() error {
	if g.NumNodes <= 0 {
		return errors.Errorf("graph has no nodes (NumNodes=%d)", g.NumNodes)
	}
	if g.NumFeatures <= 0 {
		return errors.Errorf("graph has no features (NumFeatures=%d)", g.NumFeatures)
	}
	if len(g.Features) != g.NumNodes*g.NumFeatures {
		return errors.Errorf("graph features has %d values, expected NumNodes(%d)*NumFeatures(%d)=%d",
			len(g.Features), g.NumNodes, g.NumFeatures, g.NumNodes*g.NumFeatures)
	}
	if len(g.Sources) != len(g.Targets) {
		return errors.Errorf("graph has %d edge sources but %d edge targets", len(g.Sources), len(g.Targets))
	}
	if g.Weights != nil && len(g.Weights) != len(g.Sources) {
		return errors.Errorf("graph has %d edge weights for %d edges", len(g.Weights), len(g.Sources))
	}
	for e := range g.Sources {
		if g.Sources[e] < 0 || int(g.Sources[e]) >= g.NumNodes || g.Targets[e] < 0 || int(g.Targets[e]) >= g.NumNodes {
			return errors.Errorf("edge #%d (%d->%d) out of range for %d nodes", e, g.Sources[e], g.Targets[e], g.NumNodes)
		}
	}
	for ii, v := range g.Features {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return errors.Errorf("feature #%d of node %d is not finite (%g)", ii%g.NumFeatures, ii/g.NumFeatures, v)
		}
	}
	if g.Labels != nil {
		if len(g.Labels) != g.NumNodes {
			return errors.Errorf("graph has %d labels for %d nodes", len(g.Labels), g.NumNodes)
		}
		for node, label := range g.Labels {
			if label < 0 || int(label) >= g.NumClasses {
				return errors.Errorf("label %d of node %d out of range for %d classes", label, node, g.NumClasses)
			}
		}
	}
	return nil
}

// Row returns the features of the node. It shares the underlying storage with the graph.
func (g *Graph) Row(node int) []float32 {
	return g.Features[node*g.NumFeatures : (node+1)*g.NumFeatures]
}

// EdgeWeight returns the weight of edge e.
func (g *Graph) EdgeWeight(e int) float32 {
	if g.Weights == nil {
		return 1
	}
	return g.Weights[e]
}

// InDegrees returns the number of incoming edges of each node (the count of edges targeting it).
func (g *Graph) InDegrees() []float32 {
	degrees := make([]float32, g.NumNodes)
	for _, target := range g.Targets {
		degrees[target]++
	}
	return degrees
}

// Neighbors returns the list of source nodes of the edges incoming to each node.
func (g *Graph) Neighbors() [][]int32 {
	neighbors := make([][]int32, g.NumNodes)
	for e, target := range g.Targets {
		neighbors[target] = append(neighbors[target], g.Sources[e])
	}
	return neighbors
}

// DenseAdjacency returns the [NumNodes, NumNodes] adjacency matrix A, with A[source, target]
// set to the edge weight (repeated edges accumulate).
//
// If selfLoops is true, the diagonal is set to 1.
func (g *Graph) DenseAdjacency(selfLoops bool) *mat.Dense {
	adjacency := mat.NewDense(g.NumNodes, g.NumNodes, nil)
	for e := range g.Sources {
		src, tgt := int(g.Sources[e]), int(g.Targets[e])
		adjacency.Set(src, tgt, adjacency.At(src, tgt)+float64(g.EdgeWeight(e)))
	}
	if selfLoops {
		for ii := range g.NumNodes {
			adjacency.Set(ii, ii, 1)
		}
	}
	return adjacency
}

// Fingerprint returns a hash of the graph structure (nodes, edges and weights), used to identify
// graphs whose derived structures (like diffusion matrices) can be reused.
func (g *Graph) Fingerprint() uint64 {
	hasher := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(g.NumNodes))
	hasher.Write(buf[:])
	for e := range g.Sources {
		binary.LittleEndian.PutUint32(buf[:4], uint32(g.Sources[e]))
		binary.LittleEndian.PutUint32(buf[4:], uint32(g.Targets[e]))
		hasher.Write(buf[:])
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(g.EdgeWeight(e)))
		hasher.Write(buf[:4])
	}
	return hasher.Sum64()
}

// FeatureColumnWeights returns for each feature column d the sum over nodes of |x[n,d]| * nodeWeights[n].
func (g *Graph) FeatureColumnWeights(nodeWeights []float32) []float32 {
	abs := make([]float32, g.NumNodes)
	weights := make([]float32, g.NumFeatures)
	for d := range g.NumFeatures {
		for n := range g.NumNodes {
			abs[n] = float32(math.Abs(float64(g.Features[n*g.NumFeatures+d])))
		}
		weights[d] = vek32.Dot(abs, nodeWeights)
	}
	return weights
}
