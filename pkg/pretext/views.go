// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pretext

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	"github.com/gomlx/graphssl/pkg/encoder"
	"github.com/gomlx/graphssl/pkg/graphdata"
)

// ViewGenerator generates the two augmented views of a graph used by the siamese tasks.
//
// Views that don't depend on per-step randomness are computed once at construction. Random views are
// regenerated in every training step, using the context random number generator.
type ViewGenerator interface {
	GenerateViews(ctx *context.Context, g *Graph) (view1, view2 encoder.Inputs)
}

// maskView drops edges and feature columns at random.
//
// edgeKeep is the probability of keeping each edge (scalar or shaped [num_edges]) and featureKeep the
// probability of keeping each feature column (scalar or shaped [num_features]). Dropped edges get weight 0.
func maskView(ctx *context.Context, in encoder.Inputs, featureKeep, edgeKeep *Node) encoder.Inputs {
	dtype := in.Features.DType()
	numEdges := in.Sources.Shape().Dim(0)
	numFeatures := in.Features.Shape().Dim(1)
	view := in
	if numEdges > 0 {
		keep := ctx.RandomBernoulli(edgeKeep, shapes.Make(dtype, numEdges))
		view.Weights = Mul(ConvertDType(in.EdgeWeights(), dtype), keep)
	}
	keepColumns := ctx.RandomBernoulli(featureKeep, shapes.Make(dtype, numFeatures))
	view.Features = Mul(in.Features, InsertAxes(keepColumns, 0))
	return view
}

// uniformMaskView drops edges with probability edgeRatio and feature columns with probability featureRatio.
func uniformMaskView(ctx *context.Context, in encoder.Inputs, featureRatio, edgeRatio float64) encoder.Inputs {
	g := in.Graph()
	dtype := in.Features.DType()
	return maskView(ctx, in, Scalar(g, dtype, 1-featureRatio), Scalar(g, dtype, 1-edgeRatio))
}

// randomPermutation returns a random permutation of [0, n), shaped [n].
func randomPermutation(ctx *context.Context, g *Graph, n int) *Node {
	return ArgSort(ctx.RandomUniform(g, shapes.Make(dtypes.Float32, n)), 0, false)
}

// permuteRows returns x with its rows reordered by perm: row i of the result is row perm[i] of x.
func permuteRows(x, perm *Node) *Node {
	return Gather(x, InsertAxes(perm, -1))
}

// dropoutViews generates two views with random edge dropout and feature column masking, regenerated
// every step.
type dropoutViews struct {
	data                         *graphdata.Graph
	edgeRatio1, edgeRatio2       float64
	featureRatio1, featureRatio2 float64
}

func newDropoutViews(data *graphdata.Graph, config SiameseConfig) (ViewGenerator, error) {
	for name, ratio := range map[string]float64{
		"edge_mask_ratio1": config.EdgeMaskRatio1, "edge_mask_ratio2": config.EdgeMaskRatio2,
		"feature_mask_ratio1": config.FeatureMaskRatio1, "feature_mask_ratio2": config.FeatureMaskRatio2,
	} {
		if err := checkRatio(name, ratio); err != nil {
			return nil, err
		}
	}
	return &dropoutViews{
		data:          data,
		edgeRatio1:    config.EdgeMaskRatio1,
		edgeRatio2:    config.EdgeMaskRatio2,
		featureRatio1: config.FeatureMaskRatio1,
		featureRatio2: config.FeatureMaskRatio2,
	}, nil
}

// GenerateViews implements ViewGenerator.
func (v *dropoutViews) GenerateViews(ctx *context.Context, g *Graph) (view1, view2 encoder.Inputs) {
	in := encoder.ConstInputs(g, v.data)
	view1 = uniformMaskView(ctx, in, v.featureRatio1, v.edgeRatio1)
	view2 = uniformMaskView(ctx, in, v.featureRatio2, v.edgeRatio2)
	return
}

// fixedViews are precomputed at construction.
type fixedViews struct {
	view1, view2 *graphdata.Graph
}

// GenerateViews implements ViewGenerator.
func (v *fixedViews) GenerateViews(_ *context.Context, g *Graph) (view1, view2 encoder.Inputs) {
	return encoder.ConstInputs(g, v.view1), encoder.ConstInputs(g, v.view2)
}

// newSplitViews splits the feature columns in two halves: each view keeps one half and zeroes the other,
// so both keep the encoder input width. Rows are then L2-normalized.
func newSplitViews(data *graphdata.Graph, _ SiameseConfig) (ViewGenerator, error) {
	numFeatures := data.NumFeatures
	if numFeatures < 2 {
		return nil, errors.Errorf("cannot split %d feature columns in two views", numFeatures)
	}
	half := numFeatures / 2
	firstHalf, secondHalf := make([]int, 0, half), make([]int, 0, numFeatures-half)
	for col := range numFeatures {
		if col < half {
			firstHalf = append(firstHalf, col)
		} else {
			secondHalf = append(secondHalf, col)
		}
	}
	view1, view2 := data.Clone(), data.Clone()
	view1.MaskFeatureColumns(secondHalf)
	view2.MaskFeatureColumns(firstHalf)
	view1.NormalizeRows()
	view2.NormalizeRows()
	return &fixedViews{view1: view1, view2: view2}, nil
}

// newPPRViews pairs the original graph with a graph whose edges are the top personalized PageRank scores.
func newPPRViews(data *graphdata.Graph, config SiameseConfig) (ViewGenerator, error) {
	if err := checkRatio("ppr_alpha", config.PPRAlpha); err != nil {
		return nil, err
	}
	if config.PPRTopK <= 0 {
		return nil, errors.Errorf("ppr_top_k=%d must be > 0", config.PPRTopK)
	}
	scores, err := graphdata.Diffusion(data, graphdata.DiffusionPPR, config.PPRAlpha)
	if err != nil {
		return nil, err
	}
	return &fixedViews{view1: data, view2: graphdata.SparsifiedDiffusionGraph(data, scores, config.PPRTopK)}, nil
}

// newLDPViews pairs the original features with the local degree profile of each node, zero-padded (or
// truncated) to the same width. When the widths differ both views are L2-normalized per row.
func newLDPViews(data *graphdata.Graph, _ SiameseConfig) (ViewGenerator, error) {
	profile := data.WithFeatures(data.LocalDegreeProfile(), graphdata.LocalDegreeProfileSize, data.NumFeatures)
	original := data.Clone()
	if data.NumFeatures != graphdata.LocalDegreeProfileSize {
		original.NormalizeRows()
		profile.NormalizeRows()
	}
	return &fixedViews{view1: original, view2: profile}, nil
}

// newStandardizedViews pairs the original features with their per-column z-scores.
func newStandardizedViews(data *graphdata.Graph, _ SiameseConfig) (ViewGenerator, error) {
	standardized := data.Clone()
	standardized.Standardize()
	return &fixedViews{view1: data, view2: standardized}, nil
}
