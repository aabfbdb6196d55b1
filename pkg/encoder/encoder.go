// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package encoder defines the graph encoder contract used by pretext tasks and the benchmarker, and
// implements it with a GCN (graph convolutional network).
//
// An encoder maps node features and an edge list to node embeddings. Its variables live in the scope of
// the context it is given, so the same Encoder value can be applied to different graphs (original,
// augmented views, batched subgraphs) sharing the same weights, or to a different scope (a teacher copy).
package encoder

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/gomlx/graphssl/pkg/graphdata"
)

const (
	// Scope where the (student) encoder variables are stored.
	Scope = "/encoder"

	// TeacherScope is the prefix under which a frozen copy of the encoder variables is kept by
	// self-distillation tasks: the teacher encoder variables live in TeacherScope+Scope.
	TeacherScope = "/teacher"
)

// Inputs of an encoder, for a graph with N nodes and E edges.
type Inputs struct {
	// Features shaped [N, D].
	Features *Node

	// Sources and Targets shaped [E], int32: edge e goes from Sources[e] to Targets[e].
	Sources, Targets *Node

	// Weights shaped [E], optional. If nil all edges have weight 1.
	// Setting a weight to 0 effectively drops the edge, keeping shapes static.
	Weights *Node
}

// NumNodes returns N, the number of nodes of the inputs.
func (in Inputs) NumNodes() int {
	return in.Features.Shape().Dim(0)
}

// Graph returns the computation graph of the inputs.
func (in Inputs) Graph() *Graph {
	return in.Features.Graph()
}

// WithFeatures returns a copy of the inputs with the features replaced.
func (in Inputs) WithFeatures(features *Node) Inputs {
	in.Features = features
	return in
}

// EdgeWeights returns the edge weights, or 1s if they are not set.
func (in Inputs) EdgeWeights() *Node {
	if in.Weights != nil {
		return in.Weights
	}
	return OnesLike(ConvertDType(in.Sources, in.Features.DType()))
}

// ConstInputs returns the graph data as constants in the computation graph g.
func ConstInputs(g *Graph, data *graphdata.Graph) Inputs {
	sources, targets, weights := data.EdgeTensors()
	return Inputs{
		Features: ConstTensor(g, data.FeaturesTensor()),
		Sources:  ConstTensor(g, sources),
		Targets:  ConstTensor(g, targets),
		Weights:  ConstTensor(g, weights),
	}
}

// Encoder maps a graph to node embeddings.
type Encoder interface {
	// Encode returns the node embeddings shaped [N, OutChannels()]. Variables are created/reused
	// in the scope of ctx.
	Encode(ctx *context.Context, in Inputs) *Node

	// OutChannels is the dimension of the embeddings.
	OutChannels() int
}

// StudentContext returns ctx pointing to the (student) encoder scope.
func StudentContext(ctx *context.Context) *context.Context {
	return ctx.InAbsPath(Scope)
}

// TeacherContext returns ctx pointing to the teacher encoder scope.
func TeacherContext(ctx *context.Context) *context.Context {
	return ctx.InAbsPath(TeacherScope + Scope)
}
