// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package encoder

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"

	"github.com/gomlx/graphssl/pkg/hparams"
)

var (
	// ParamNumLayers is the model hyperparameter with the number of graph convolutions. Default is 2.
	ParamNumLayers = "num_layers"

	// ParamHiddenChannels is the model hyperparameter with the dimension of the hidden layers. Default is 16.
	ParamHiddenChannels = "hidden_channels"

	// ParamOutChannels is the model hyperparameter with the dimension of the output embeddings.
	// Default is the number of hidden channels.
	ParamOutChannels = "out_channels"

	// ParamDropout is the model hyperparameter with the dropout rate applied to the inputs of every
	// convolution during training. Default is 0.
	ParamDropout = "dropout"

	// ParamActivation is the model hyperparameter with the activation between convolutions. Default is "relu".
	ParamActivation = "activation"
)

// GCN is a graph convolutional network encoder (Kipf & Welling): each layer computes
//
//	h'ᵢ = bias + Σⱼ wⱼᵢ/√(dⱼ·dᵢ) · W·hⱼ
//
// over the incoming edges of node i plus a self-loop, where d is the weighted in-degree plus 1.
type GCN struct {
	NumLayers, HiddenChannels, OutputChannels int
	Dropout                                   float64
	Activation                                activations.Type
}

// NewGCN creates a GCN configured from the model hyperparameters (see Param* variables).
// It panics on invalid values.
func NewGCN(params hparams.Params) *GCN {
	hidden := hparams.GetOr(params, ParamHiddenChannels, 16)
	gcn := &GCN{
		NumLayers:      hparams.GetOr(params, ParamNumLayers, 2),
		HiddenChannels: hidden,
		OutputChannels: hparams.GetOr(params, ParamOutChannels, hidden),
		Dropout:        hparams.GetOr(params, ParamDropout, 0.0),
		Activation:     activations.FromName(hparams.GetOr(params, ParamActivation, "relu")),
	}
	if gcn.NumLayers < 1 || gcn.HiddenChannels < 1 || gcn.OutputChannels < 1 {
		Panicf("invalid GCN configuration %+v", *gcn)
	}
	if gcn.Dropout < 0 || gcn.Dropout >= 1 {
		Panicf("invalid GCN dropout rate %g, it must be in [0, 1)", gcn.Dropout)
	}
	return gcn
}

// OutChannels implements Encoder.
func (gcn *GCN) OutChannels() int {
	return gcn.OutputChannels
}

// Encode implements Encoder.
func (gcn *GCN) Encode(ctx *context.Context, in Inputs) *Node {
	x := in.Features
	if x.Rank() != 2 {
		Panicf("GCN: features must be shaped [num_nodes, num_features], got %s", x.Shape())
	}
	if in.Sources.Rank() != 1 || !in.Sources.Shape().Equal(in.Targets.Shape()) {
		Panicf("GCN: sources and targets must be shaped [num_edges], got %s and %s", in.Sources.Shape(), in.Targets.Shape())
	}
	g := x.Graph()
	dtype := x.DType()
	numNodes := in.NumNodes()
	sources := InsertAxes(in.Sources, -1)
	targets := InsertAxes(in.Targets, -1)
	weights := InsertAxes(ConvertDType(in.EdgeWeights(), dtype), -1) // [E, 1]

	// Symmetric normalization: weighted in-degree + self-loop.
	degree := Scatter(targets, weights, shapes.Make(dtype, numNodes, 1), false, false)
	degree = AddScalar(degree, 1)
	invSqrtDegree := Inverse(Sqrt(degree))
	edgeNorm := Mul(weights, Mul(Gather(invSqrtDegree, sources), Gather(invSqrtDegree, targets)))
	selfNorm := Inverse(degree)

	for layer := range gcn.NumLayers {
		layerCtx := ctx.Inf("gcn_%d", layer)
		dim := gcn.HiddenChannels
		isLast := layer == gcn.NumLayers-1
		if isLast {
			dim = gcn.OutputChannels
		}
		if gcn.Dropout > 0 && ctx.IsTraining(g) {
			x = layers.DropoutStatic(layerCtx, x, gcn.Dropout)
		}
		x = layers.Dense(layerCtx, x, false, dim)
		x = propagate(x, sources, targets, edgeNorm, selfNorm)
		bias := layerCtx.VariableWithValue("bias", make([]float32, dim)).ValueGraph(g)
		x = Add(x, ExpandLeftToRank(ConvertDType(bias, dtype), x.Rank()))
		if !isLast {
			x = activations.Apply(gcn.Activation, x)
		}
	}
	return x
}

// propagate sums the messages of the incoming edges of each node, weighted by edgeNorm, plus the node's
// own state weighted by selfNorm.
//
// It follows the gather/scatter pooling used for sampled graphs: values are gathered from the edges sources
// and scattered (summed) into the edges targets, so no dense adjacency matrix is ever built.
func propagate(x, sources, targets, edgeNorm, selfNorm *Node) *Node {
	numNodes := x.Shape().Dim(0)
	dim := x.Shape().Dim(1)
	messages := Mul(Gather(x, sources), edgeNorm) // [E, dim]
	pooled := Scatter(targets, messages, shapes.Make(x.DType(), numNodes, dim), false, false)
	return Add(pooled, Mul(x, selfNorm))
}
