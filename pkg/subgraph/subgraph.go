// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package subgraph builds per-node induced subgraphs and batches them into one graph, so an encoder can
// embed all of them in a single call.
//
// Each node i gets the subgraph induced by its top-k neighbors by some proximity score (usually a graph
// diffusion, see graphdata.Diffusion) plus i itself. The batch keeps the offset of each subgraph and the
// position of its central node, so per-node values can be picked back from the batched embeddings.
package subgraph

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/graphssl/pkg/graphdata"
)

// TopK returns for each node i the k nodes with the highest score s[i, j] (j != i), in decreasing order of
// score with ties broken by the lowest index, followed by i itself. So each row has k+1 entries.
//
// k is clamped to NumNodes-1.
func TopK(s *mat.Dense, k int) [][]int32 {
	neighbors := graphdata.TopKNeighbors(s, k)
	for i := range neighbors {
		neighbors[i] = append(neighbors[i], int32(i))
	}
	return neighbors
}

// NodeMapping maps the node indices of a graph ("global") to the node indices of one of its
// subgraphs ("local") and back.
type NodeMapping struct {
	toGlobal []int32
	toLocal  map[int32]int32
}

// Local returns the local index of the global node, and whether it is part of the subgraph.
func (m *NodeMapping) Local(global int32) (local int32, found bool) {
	local, found = m.toLocal[global]
	return
}

// Global returns the global index of the local node.
func (m *NodeMapping) Global(local int32) int32 {
	return m.toGlobal[local]
}

// Len returns the number of nodes in the subgraph.
func (m *NodeMapping) Len() int {
	return len(m.toGlobal)
}

// SubGraph is the subgraph of a graph induced by a subset of its nodes.
type SubGraph struct {
	// Graph holds the features, labels and edges of the subgraph, indexed by local node index.
	*graphdata.Graph

	// Mapping between the global node indices and the subgraph's local ones.
	Mapping NodeMapping
}

// New creates the subgraph of g induced by nodes: it includes the given nodes (repeated indices are
// ignored) in the given order, and every edge of g between two of them.
func New(g *graphdata.Graph, nodes []int32) (*SubGraph, error) {
	sub := &SubGraph{
		Graph: &graphdata.Graph{
			NumFeatures: g.NumFeatures,
			NumClasses:  g.NumClasses,
		},
		Mapping: NodeMapping{toLocal: make(map[int32]int32, len(nodes))},
	}
	for _, node := range nodes {
		if node < 0 || int(node) >= g.NumNodes {
			return nil, errors.Errorf("node %d out of range for a graph with %d nodes", node, g.NumNodes)
		}
		if _, found := sub.Mapping.toLocal[node]; found {
			continue
		}
		sub.Mapping.toLocal[node] = int32(len(sub.Mapping.toGlobal))
		sub.Mapping.toGlobal = append(sub.Mapping.toGlobal, node)
		sub.Features = append(sub.Features, g.Row(int(node))...)
		if g.Labels != nil {
			sub.Labels = append(sub.Labels, g.Labels[node])
		}
	}
	sub.NumNodes = len(sub.Mapping.toGlobal)
	for e := range g.NumEdges() {
		source, sourceFound := sub.Mapping.toLocal[g.Sources[e]]
		target, targetFound := sub.Mapping.toLocal[g.Targets[e]]
		if !sourceFound || !targetFound {
			continue
		}
		sub.Sources = append(sub.Sources, source)
		sub.Targets = append(sub.Targets, target)
		if g.Weights != nil {
			sub.Weights = append(sub.Weights, g.Weights[e])
		}
	}
	return sub, nil
}

// Set is a collection of subgraphs, one per node of a graph, batched into a single disconnected graph.
type Set struct {
	// SubGraphs, where SubGraphs[i] is the subgraph centered on node i.
	SubGraphs []*SubGraph

	// Batch is the disjoint union of all the subgraphs: the nodes of subgraph i occupy the
	// indices [Offsets[i], Offsets[i]+SubGraphs[i].NumNodes).
	Batch *graphdata.Graph

	// BatchIndex holds, for each node of Batch, the index of the subgraph it belongs to.
	BatchIndex []int32

	// Offsets of each subgraph in Batch.
	Offsets []int

	// CentralIndices[i] is the position of node i in Batch, within its own subgraph.
	CentralIndices []int32
}

// NewSet builds the subgraphs of g induced by each row of neighborhoods (as returned by TopK) and batches
// them. Row i must include node i itself.
func NewSet(g *graphdata.Graph, neighborhoods [][]int32) (*Set, error) {
	if len(neighborhoods) != g.NumNodes {
		return nil, errors.Errorf("got %d neighborhoods for a graph with %d nodes", len(neighborhoods), g.NumNodes)
	}
	set := &Set{
		SubGraphs:      make([]*SubGraph, g.NumNodes),
		Batch:          &graphdata.Graph{NumFeatures: g.NumFeatures, NumClasses: g.NumClasses},
		Offsets:        make([]int, g.NumNodes),
		CentralIndices: make([]int32, g.NumNodes),
	}
	for i, nodes := range neighborhoods {
		sub, err := New(g, nodes)
		if err != nil {
			return nil, errors.WithMessagef(err, "building subgraph for node %d", i)
		}
		local, found := sub.Mapping.Local(int32(i))
		if !found {
			return nil, errors.Errorf("node %d is not part of its own subgraph %v", i, nodes)
		}
		offset := set.Batch.NumNodes
		set.SubGraphs[i] = sub
		set.Offsets[i] = offset
		set.CentralIndices[i] = int32(offset) + local
		set.Batch.NumNodes += sub.NumNodes
		set.Batch.Features = append(set.Batch.Features, sub.Features...)
		set.Batch.Labels = append(set.Batch.Labels, sub.Labels...)
		for e := range sub.NumEdges() {
			set.Batch.Sources = append(set.Batch.Sources, sub.Sources[e]+int32(offset))
			set.Batch.Targets = append(set.Batch.Targets, sub.Targets[e]+int32(offset))
			if g.Weights != nil {
				set.Batch.Weights = append(set.Batch.Weights, sub.Weights[e])
			}
		}
		for range sub.NumNodes {
			set.BatchIndex = append(set.BatchIndex, int32(i))
		}
	}
	if g.Labels == nil {
		set.Batch.Labels = nil
	}
	return set, nil
}

// Len returns the number of subgraphs.
func (s *Set) Len() int {
	return len(s.SubGraphs)
}

// Sizes returns the number of nodes of each subgraph.
func (s *Set) Sizes() []float32 {
	sizes := make([]float32, len(s.SubGraphs))
	for i, sub := range s.SubGraphs {
		sizes[i] = float32(sub.NumNodes)
	}
	return sizes
}

// BatchIndexTensor returns BatchIndex as an int32 tensor shaped [Batch.NumNodes].
func (s *Set) BatchIndexTensor() *tensors.Tensor {
	return tensors.FromValue(s.BatchIndex)
}

// CentralIndicesTensor returns CentralIndices as an int32 tensor shaped [Len()].
func (s *Set) CentralIndicesTensor() *tensors.Tensor {
	return tensors.FromValue(s.CentralIndices)
}
