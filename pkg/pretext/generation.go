// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pretext

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"k8s.io/klog/v2"

	"github.com/gomlx/graphssl/pkg/encoder"
	"github.com/gomlx/graphssl/pkg/graphdata"
	"github.com/gomlx/graphssl/pkg/hparams"
)

// MaxPseudoLabelDim is the maximum dimension of the features reconstructed by AttributeMask: wider features
// are reduced with PCA.
const MaxPseudoLabelDim = 256

// gatherRows returns the given rows of x, shaped [len(rows), ...].
func gatherRows(x *Node, rows []int32) *Node {
	indices := ConstTensor(x.Graph(), tensors.FromFlatDataAndDimensions(rows, len(rows), 1))
	return Gather(x, indices)
}

// selectionMatrix returns a [dim, len(columns)] one-hot matrix: x·selection selects the columns of x.
func selectionMatrix(g *Graph, dtype dtypes.DType, dim int, columns []int) *Node {
	values := make([]float32, dim*len(columns))
	for ii, col := range columns {
		values[col*len(columns)+ii] = 1
	}
	return ConvertDType(ConstTensor(g, tensors.FromFlatDataAndDimensions(values, dim, len(columns))), dtype)
}

// decode applies the linear decoder of a reconstruction task.
func (b *base) decode(ctx *context.Context, x *Node, outputDim int) *Node {
	return layers.Dense(b.headContext(ctx).In("decoder"), x, true, outputDim)
}

// AttributeMask zeroes the features of a random subset of the unlabeled nodes, and trains a decoder to
// reconstruct them from the encoder output of the masked graph.
//
// If no node is masked (for instance node_mask_ratio=0), the features of all nodes are reconstructed,
// making it a plain graph auto-encoder.
type AttributeMask struct {
	base
	config AttributeMaskConfig

	// reconstructed nodes, and their pseudo-labels shaped [len(reconstructed), labelDim].
	reconstructed []int32
	pseudoLabels  *tensors.Tensor
	labelDim      int
}

func newAttributeMask(params hparams.Params, env Env) (Task, error) {
	b, err := newBase("attribute_mask", env)
	if err != nil {
		return nil, err
	}
	config := AttributeMaskConfig{NodeMaskRatio: 0.1}
	if err := decodeConfig(params, &config); err != nil {
		return nil, err
	}
	if err := checkRatio("node_mask_ratio", config.NodeMaskRatio); err != nil {
		return nil, err
	}
	task := &AttributeMask{base: b, config: config}

	var unlabeled []int
	for node, labeled := range b.trainMask {
		if !labeled {
			unlabeled = append(unlabeled, node)
		}
	}
	b.rng.Shuffle(len(unlabeled), func(i, j int) { unlabeled[i], unlabeled[j] = unlabeled[j], unlabeled[i] })
	masked := unlabeled[:int(float64(len(unlabeled))*config.NodeMaskRatio)]

	data := task.data
	labels, labelDim := data.Features, data.NumFeatures
	if labelDim > MaxPseudoLabelDim {
		labelDim = min(MaxPseudoLabelDim, data.NumNodes)
		labels, err = graphdata.PCA(data.Features, data.NumNodes, data.NumFeatures, labelDim)
		if err != nil {
			return nil, err
		}
		klog.V(1).Infof("attribute_mask: pseudo-labels reduced from %d to %d dimensions", data.NumFeatures, labelDim)
	}
	if len(masked) == 0 {
		for node := range data.NumNodes {
			task.reconstructed = append(task.reconstructed, int32(node))
		}
	} else {
		for _, node := range masked {
			task.reconstructed = append(task.reconstructed, int32(node))
		}
	}
	selected := make([]float32, 0, len(task.reconstructed)*labelDim)
	for _, node := range task.reconstructed {
		selected = append(selected, labels[int(node)*labelDim:int(node+1)*labelDim]...)
	}
	task.pseudoLabels = tensors.FromFlatDataAndDimensions(selected, len(task.reconstructed), labelDim)
	task.labelDim = labelDim

	// Labels were copied above, now the inputs can be masked.
	data.MaskNodes(masked)
	return task, nil
}

// Config returns the resolved configuration of the task.
func (t *AttributeMask) Config() AttributeMaskConfig { return t.config }

// MakeLoss implements Task.
func (t *AttributeMask) MakeLoss(ctx *context.Context, original encoder.Inputs, _ *Node) *Node {
	g := original.Graph()
	z := t.encode(ctx, t.inputs(g))
	predictions := t.decode(ctx, gatherRows(z, t.reconstructed), t.labelDim)
	labels := ConvertDType(ConstTensor(g, t.pseudoLabels), predictions.DType())
	return MeanSquaredError(labels, predictions)
}

// CorruptedFeaturesReconstruction zeroes a random subset of the feature columns and trains a decoder to
// reconstruct the original features (only the corrupted columns, if partial reconstruction is enabled)
// from the encoder output.
type CorruptedFeaturesReconstruction struct {
	base
	config       CorruptedFeaturesConfig
	pseudoLabels *tensors.Tensor
	labelDim     int
}

func newCorruptedFeaturesReconstruction(params hparams.Params, env Env) (Task, error) {
	b, err := newBase("corrupted_features_reconstruction", env)
	if err != nil {
		return nil, err
	}
	config := CorruptedFeaturesConfig{FeatureCorruptionRatio: 0.1, PartialFeatureReconstruction: true}
	if err := decodeConfig(params, &config); err != nil {
		return nil, err
	}
	if err := checkRatio("feature_corruption_ratio", config.FeatureCorruptionRatio); err != nil {
		return nil, err
	}
	data := b.data
	columns := b.rng.Perm(data.NumFeatures)
	masked := columns[:int(float64(len(columns))*config.FeatureCorruptionRatio)]

	task := &CorruptedFeaturesReconstruction{base: b, config: config}
	if config.PartialFeatureReconstruction && len(masked) > 0 {
		task.labelDim = len(masked)
		task.pseudoLabels = tensors.FromFlatDataAndDimensions(data.SelectFeatureColumns(masked), data.NumNodes, len(masked))
	} else {
		task.labelDim = data.NumFeatures
		task.pseudoLabels = data.FeaturesTensor()
	}
	data.MaskFeatureColumns(masked)
	return task, nil
}

// Config returns the resolved configuration of the task.
func (t *CorruptedFeaturesReconstruction) Config() CorruptedFeaturesConfig { return t.config }

// MakeLoss implements Task.
func (t *CorruptedFeaturesReconstruction) MakeLoss(ctx *context.Context, original encoder.Inputs, _ *Node) *Node {
	g := original.Graph()
	z := t.encode(ctx, t.inputs(g))
	predictions := t.decode(ctx, z, t.labelDim)
	labels := ConvertDType(ConstTensor(g, t.pseudoLabels), predictions.DType())
	return MeanSquaredError(labels, predictions)
}

// CorruptedEmbeddingsReconstruction zeroes a random subset of the embedding columns and trains a decoder
// to reconstruct the embeddings (only the corrupted columns, if partial reconstruction is enabled).
//
// It works on the downstream embeddings given to MakeLoss, so gradients flow through both the corrupted
// input and the reconstruction target.
type CorruptedEmbeddingsReconstruction struct {
	base
	config CorruptedEmbeddingsConfig

	// keep is 1 for the preserved embedding columns and 0 for the corrupted ones.
	keep          []float32
	maskedColumns []int
}

func newCorruptedEmbeddingsReconstruction(params hparams.Params, env Env) (Task, error) {
	b, err := newBase("corrupted_embeddings_reconstruction", env)
	if err != nil {
		return nil, err
	}
	config := CorruptedEmbeddingsConfig{EmbeddingCorruptionRatio: 0.1, PartialEmbeddingReconstruction: true}
	if err := decodeConfig(params, &config); err != nil {
		return nil, err
	}
	if err := checkRatio("embedding_corruption_ratio", config.EmbeddingCorruptionRatio); err != nil {
		return nil, err
	}
	dim := b.encoder.OutChannels()
	columns := b.rng.Perm(dim)
	task := &CorruptedEmbeddingsReconstruction{
		base:          b,
		config:        config,
		keep:          make([]float32, dim),
		maskedColumns: columns[:int(float64(dim)*config.EmbeddingCorruptionRatio)],
	}
	for ii := range task.keep {
		task.keep[ii] = 1
	}
	for _, col := range task.maskedColumns {
		task.keep[col] = 0
	}
	return task, nil
}

// Config returns the resolved configuration of the task.
func (t *CorruptedEmbeddingsReconstruction) Config() CorruptedEmbeddingsConfig { return t.config }

// MakeLoss implements Task.
func (t *CorruptedEmbeddingsReconstruction) MakeLoss(ctx *context.Context, _ encoder.Inputs, embeddings *Node) *Node {
	g := embeddings.Graph()
	dtype := embeddings.DType()
	dim := embeddings.Shape().Dim(-1)
	keep := ConvertDType(ConstTensor(g, tensors.FromFlatDataAndDimensions(t.keep, 1, dim)), dtype)
	corrupted := Mul(embeddings, keep)
	labels := embeddings
	if t.config.PartialEmbeddingReconstruction && len(t.maskedColumns) > 0 {
		labels = MatMul(embeddings, selectionMatrix(g, dtype, dim, t.maskedColumns))
	}
	predictions := t.decode(ctx, corrupted, labels.Shape().Dim(-1))
	return MeanSquaredError(labels, predictions)
}
