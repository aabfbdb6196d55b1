// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pretext

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gomlx/graphssl/pkg/encoder"
	"github.com/gomlx/graphssl/pkg/hparams"
)

// GRACE is the dual-view contrastive task (Zhu et al., "Deep Graph Contrastive Representation Learning").
//
// Every step two views of the graph are generated by randomly dropping edges and masking feature columns.
// Both are encoded, projected by a two-layer head, and the node-level InfoNCE loss is applied in both
// directions.
type GRACE struct {
	base
	config ContrastiveConfig

	// views generates the two augmented inputs. GCA replaces it with centrality weighted drops.
	views func(ctx *context.Context, in encoder.Inputs) (view1, view2 encoder.Inputs)
}

func newContrastiveConfig(params hparams.Params) (ContrastiveConfig, error) {
	config := ContrastiveConfig{
		Tau:               0.5,
		EdgeMaskRatio1:    0.2,
		EdgeMaskRatio2:    0.2,
		FeatureMaskRatio1: 0.2,
		FeatureMaskRatio2: 0.2,
		Threshold:         0.7,
	}
	if err := decodeConfig(params, &config); err != nil {
		return config, err
	}
	if config.Tau <= 0 {
		return config, errors.Errorf("tau=%g must be > 0", config.Tau)
	}
	for name, ratio := range map[string]float64{
		"edge_mask_ratio1": config.EdgeMaskRatio1, "edge_mask_ratio2": config.EdgeMaskRatio2,
		"feature_mask_ratio1": config.FeatureMaskRatio1, "feature_mask_ratio2": config.FeatureMaskRatio2,
		"threshold": config.Threshold,
	} {
		if err := checkRatio(name, ratio); err != nil {
			return config, err
		}
	}
	return config, nil
}

func newGRACE(params hparams.Params, env Env) (Task, error) {
	b, err := newBase("grace", env)
	if err != nil {
		return nil, err
	}
	config, err := newContrastiveConfig(params)
	if err != nil {
		return nil, err
	}
	task := &GRACE{base: b, config: config}
	task.views = func(ctx *context.Context, in encoder.Inputs) (view1, view2 encoder.Inputs) {
		view1 = uniformMaskView(ctx, in, config.FeatureMaskRatio1, config.EdgeMaskRatio1)
		view2 = uniformMaskView(ctx, in, config.FeatureMaskRatio2, config.EdgeMaskRatio2)
		return
	}
	return task, nil
}

// Config returns the resolved configuration of the task.
func (t *GRACE) Config() ContrastiveConfig { return t.config }

// project applies the projection head: fc2(elu(fc1(z))).
func (t *GRACE) project(ctx *context.Context, z *Node) *Node {
	ctx = t.headContext(ctx)
	dim := z.Shape().Dim(-1)
	z = elu(layers.Dense(ctx.In("fc1"), z, true, dim))
	return layers.Dense(ctx.In("fc2"), z, true, dim)
}

// MakeLoss implements Task.
func (t *GRACE) MakeLoss(ctx *context.Context, original encoder.Inputs, _ *Node) *Node {
	view1, view2 := t.views(ctx, t.inputs(original.Graph()))
	h1 := t.project(ctx, t.encode(ctx, view1))
	h2 := t.project(ctx, t.encode(ctx, view2))
	return SymmetricInfoNCE(h1, h2, t.config.Tau)
}

// newGCA creates the adaptive augmentation variant of GRACE (Zhu et al., "Graph Contrastive Learning with
// Adaptive Augmentation"), using the node degree as centrality.
//
// Edges pointing to low degree nodes, and feature columns that are weak on high degree nodes, are more
// likely to be dropped. Drop probabilities are scaled so that their mean matches the configured ratio, and
// capped by the threshold.
func newGCA(params hparams.Params, env Env) (Task, error) {
	b, err := newBase("gca", env)
	if err != nil {
		return nil, err
	}
	config, err := newContrastiveConfig(params)
	if err != nil {
		return nil, err
	}
	data := b.data
	degrees := data.InDegrees()

	edgeScores := make([]float64, data.NumEdges())
	for e, target := range data.Targets {
		edgeScores[e] = math.Log(float64(degrees[target]))
	}
	edgeWeights := centralityWeights(edgeScores)

	columnWeights := data.FeatureColumnWeights(degrees)
	featureScores := make([]float64, len(columnWeights))
	for ii, w := range columnWeights {
		featureScores[ii] = math.Log(float64(w))
	}
	featureWeights := centralityWeights(featureScores)

	keepProbabilities := func(weights []float64, ratio float64) *tensors.Tensor {
		drop := dropProbabilities(weights, ratio, config.Threshold)
		keep := make([]float32, len(drop))
		for ii, p := range drop {
			keep[ii] = float32(1 - p)
		}
		return tensors.FromFlatDataAndDimensions(keep, len(keep))
	}
	edgeKeep1 := keepProbabilities(edgeWeights, config.EdgeMaskRatio1)
	edgeKeep2 := keepProbabilities(edgeWeights, config.EdgeMaskRatio2)
	featureKeep1 := keepProbabilities(featureWeights, config.FeatureMaskRatio1)
	featureKeep2 := keepProbabilities(featureWeights, config.FeatureMaskRatio2)

	task := &GRACE{base: b, config: config}
	task.views = func(ctx *context.Context, in encoder.Inputs) (view1, view2 encoder.Inputs) {
		g := in.Graph()
		dtype := in.Features.DType()
		constant := func(t *tensors.Tensor) *Node { return ConvertDType(ConstTensor(g, t), dtype) }
		view1 = maskView(ctx, in, constant(featureKeep1), constant(edgeKeep1))
		view2 = maskView(ctx, in, constant(featureKeep2), constant(edgeKeep2))
		return
	}
	return task, nil
}

// centralityWeights maps centrality scores s to (max(s) - s) / (max(s) - mean(s)).
//
// Degenerate scores (all equal, or not finite) get uniform weights.
func centralityWeights(scores []float64) []float64 {
	weights := make([]float64, len(scores))
	for ii := range weights {
		weights[ii] = 1
	}
	if len(scores) == 0 {
		return weights
	}
	maxScore := floats.Max(scores)
	spread := maxScore - stat.Mean(scores, nil)
	if spread <= 0 || math.IsNaN(spread) || math.IsInf(spread, 0) {
		return weights
	}
	for ii, s := range scores {
		weights[ii] = (maxScore - s) / spread
	}
	return weights
}

// dropProbabilities scales weights to have mean ratio, capped at threshold.
func dropProbabilities(weights []float64, ratio, threshold float64) []float64 {
	probs := make([]float64, len(weights))
	if len(weights) == 0 {
		return probs
	}
	mean := stat.Mean(weights, nil)
	for ii, w := range weights {
		if mean > 0 {
			probs[ii] = min(w/mean*ratio, threshold)
		} else {
			probs[ii] = min(ratio, threshold)
		}
	}
	return probs
}
