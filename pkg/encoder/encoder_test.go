// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package encoder

import (
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/graphssl/pkg/graphdata"
	"github.com/gomlx/graphssl/pkg/hparams"
)

var testBackend = sync.OnceValue(func() backends.Backend {
	return must.M1(backends.New())
})

func TestPropagate(t *testing.T) {
	ctx := context.New()
	// Two nodes, a single edge 0->1: degrees (with self-loop) are 1 and 2.
	output := context.MustExecOnce(testBackend(), ctx, func(ctx *context.Context, g *Graph) *Node {
		x := Const(g, [][]float32{{1}, {2}})
		sources := Const(g, [][]int32{{0}})
		targets := Const(g, [][]int32{{1}})
		edgeNorm := Const(g, [][]float32{{0.70710678}})
		selfNorm := Const(g, [][]float32{{1}, {0.5}})
		return propagate(x, sources, targets, edgeNorm, selfNorm)
	})
	assert.InDeltaSlice(t, []float32{1, 1.70710678}, tensors.MustCopyFlatData[float32](output), 1e-5)
}

func TestGCN(t *testing.T) {
	data := &graphdata.Graph{
		NumNodes:    4,
		NumFeatures: 3,
		Features:    []float32{1, 0, 0, 0, 1, 0, 0, 0, 1, 1, 1, 1},
		Sources:     []int32{0, 1, 1, 2, 2, 3},
		Targets:     []int32{1, 0, 2, 1, 3, 2},
	}
	gcn := NewGCN(hparams.Params{ParamHiddenChannels: 8, ParamOutChannels: 5})
	assert.Equal(t, 5, gcn.OutChannels())
	assert.Equal(t, 2, gcn.NumLayers)

	ctx := context.New().Checked(false)
	must.M(ctx.SetRNGStateFromSeed(42))
	backend := testBackend()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		in := ConstInputs(g, data)
		full := gcn.Encode(StudentContext(ctx), in)

		// Zero-weight edges 2<->3 must be equivalent to removing them.
		weights := Const(g, []float32{1, 1, 1, 1, 0, 0})
		dropped := gcn.Encode(StudentContext(ctx), Inputs{
			Features: in.Features, Sources: in.Sources, Targets: in.Targets, Weights: weights})
		removed := gcn.Encode(StudentContext(ctx), Inputs{
			Features: in.Features,
			Sources:  Const(g, []int32{0, 1, 1, 2}),
			Targets:  Const(g, []int32{1, 0, 2, 1}),
		})
		return []*Node{full, dropped, removed}
	})
	outputs := exec.MustExec()
	require.Len(t, outputs, 3)
	assert.Equal(t, []int{4, 5}, outputs[0].Shape().Dimensions)
	full := tensors.MustCopyFlatData[float32](outputs[0])
	dropped := tensors.MustCopyFlatData[float32](outputs[1])
	removed := tensors.MustCopyFlatData[float32](outputs[2])
	assert.InDeltaSlice(t, removed, dropped, 1e-5)
	assert.NotEqual(t, full, dropped)

	// Variables are created in the encoder scope only.
	for v := range ctx.IterVariables() {
		if v.Name() == context.RNGStateVariableName {
			continue
		}
		assert.Contains(t, v.Scope(), Scope+"/gcn_")
	}
}

func TestGCNBias(t *testing.T) {
	data := &graphdata.Graph{
		NumNodes:    3,
		NumFeatures: 2,
		Features:    []float32{1, 0, 0, 1, 1, 1},
		Sources:     []int32{0, 1},
		Targets:     []int32{1, 2},
	}
	gcn := NewGCN(hparams.Params{ParamHiddenChannels: 4, ParamOutChannels: 3, ParamNumLayers: 1})
	ctx := context.New().Checked(false)
	exec := context.MustNewExec(testBackend(), ctx, func(ctx *context.Context, g *Graph) *Node {
		return gcn.Encode(StudentContext(ctx), ConstInputs(g, data))
	})
	before := exec.MustExec1()
	assert.Equal(t, []int{3, 3}, before.Shape().Dimensions)

	// The bias of the (single, linear) layer is added to every node.
	bias := ctx.GetVariableByScopeAndName(Scope+"/gcn_0", "bias")
	require.NotNil(t, bias)
	bias.MustSetValue(tensors.FromValue([]float32{1, 2, 3}))
	after := exec.MustExec1()
	assert.Equal(t, []int{3, 3}, after.Shape().Dimensions)
	beforeValues := tensors.MustCopyFlatData[float32](before)
	afterValues := tensors.MustCopyFlatData[float32](after)
	for node := range 3 {
		for col, want := range []float32{1, 2, 3} {
			assert.InDelta(t, beforeValues[node*3+col]+want, afterValues[node*3+col], 1e-5)
		}
	}
}

func TestNewGCNInvalid(t *testing.T) {
	assert.Panics(t, func() { NewGCN(hparams.Params{ParamNumLayers: 0}) })
	assert.Panics(t, func() { NewGCN(hparams.Params{ParamDropout: 1.0}) })
	assert.Panics(t, func() { NewGCN(hparams.Params{ParamActivation: "not_an_activation"}) })
}
