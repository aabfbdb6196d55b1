// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pretext

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	"github.com/gomlx/graphssl/pkg/encoder"
	"github.com/gomlx/graphssl/pkg/hparams"
)

// DeepGraphInfomax (Veličković et al., "Deep Graph Infomax") maximizes the mutual information between
// node embeddings and a global summary of the graph.
//
// Negative embeddings are obtained by encoding the graph with its feature rows shuffled, and a bilinear
// discriminator scores (embedding, summary) pairs.
type DeepGraphInfomax struct {
	base
}

func newDeepGraphInfomax(params hparams.Params, env Env) (Task, error) {
	b, err := newBase("dgi", env)
	if err != nil {
		return nil, err
	}
	if err := decodeConfig(params, &struct{}{}); err != nil {
		return nil, err
	}
	return &DeepGraphInfomax{base: b}, nil
}

// infomaxEmbeddings returns the embeddings of the graph (positive), of the graph with shuffled features
// (negative) and the summary sigmoid(mean(positive)), shaped [H].
func (b *base) infomaxEmbeddings(ctx *context.Context, in encoder.Inputs) (positive, negative, summary *Node) {
	positive = b.encode(ctx, in)
	perm := randomPermutation(ctx, in.Graph(), in.NumNodes())
	negative = b.encode(ctx, in.WithFeatures(permuteRows(in.Features, perm)))
	summary = Sigmoid(ReduceMean(positive, 0))
	return
}

// bilinearDiscriminator returns zᵢ·W·summary for each node, shaped [N].
func (b *base) bilinearDiscriminator(ctx *context.Context, z, summary *Node) *Node {
	dim := z.Shape().Dim(-1)
	weight := b.headContext(ctx).In("discriminator").
		VariableWithShape("weight", shapes.Make(z.DType(), dim, dim)).ValueGraph(z.Graph())
	projected := MatMul(weight, InsertAxes(summary, -1)) // [H, 1]
	return Reshape(MatMul(z, projected), z.Shape().Dim(0))
}

// infomaxLoss is the discriminator loss of the global (DGI) objective.
func (b *base) infomaxLoss(ctx *context.Context, positive, negative, summary *Node) *Node {
	return DiscriminatorLoss(
		b.bilinearDiscriminator(ctx, positive, summary),
		b.bilinearDiscriminator(ctx, negative, summary))
}

// MakeLoss implements Task.
func (t *DeepGraphInfomax) MakeLoss(ctx *context.Context, original encoder.Inputs, _ *Node) *Node {
	positive, negative, summary := t.infomaxEmbeddings(ctx, t.inputs(original.Graph()))
	return t.infomaxLoss(ctx, positive, negative, summary)
}

// GraphInfoClust (Mavromatis & Karypis, "Graph InfoClust") adds to DeepGraphInfomax a cluster-level
// objective: embeddings are softly clustered with a differentiable k-means, and each node embedding is
// contrasted against the summary of its clusters.
//
// The loss is alpha·dgi + (1-alpha)·cluster.
type GraphInfoClust struct {
	base
	config      GraphInfoClustConfig
	numClusters int
}

func newGraphInfoClust(params hparams.Params, env Env) (Task, error) {
	b, err := newBase("graph_info_clust", env)
	if err != nil {
		return nil, err
	}
	config := GraphInfoClustConfig{ClusterRatio: 0.1, Temperature: 5, Alpha: 0.5, Iterations: 11}
	if err := decodeConfig(params, &config); err != nil {
		return nil, err
	}
	if err := checkRatio("alpha", config.Alpha); err != nil {
		return nil, err
	}
	if err := checkRatio("cluster_ratio", config.ClusterRatio); err != nil {
		return nil, err
	}
	if config.Iterations < 1 {
		return nil, errors.Errorf("iterations=%d must be >= 1", config.Iterations)
	}
	numClusters := max(int(math.Ceil(float64(b.data.NumNodes)*config.ClusterRatio)), 1)
	return &GraphInfoClust{base: b, config: config, numClusters: numClusters}, nil
}

// Config returns the resolved configuration of the task.
func (t *GraphInfoClust) Config() GraphInfoClustConfig { return t.config }

// NumClusters used by the soft k-means.
func (t *GraphInfoClust) NumClusters() int { return t.numClusters }

// softKMeans runs iterations of a differentiable k-means on the L2-normalized rows of x [N, H], starting
// from the centroids mu [K, H]. It returns the final centroids and the soft assignments r [N, K].
func softKMeans(x, mu *Node, temperature float64, iterations int) (centroids, assignments *Node) {
	x = L2Normalize(x, -1)
	for range iterations {
		mu = L2Normalize(mu, -1)
		similarities := MatMul(x, Transpose(mu, 0, 1)) // [N, K]
		assignments = Softmax(MulScalar(similarities, -temperature), -1)
		clusterWeights := ReduceSum(assignments, 0)            // [K]
		clusterSums := MatMul(Transpose(assignments, 0, 1), x) // [K, H]
		mu = Div(clusterSums, InsertAxes(clusterWeights, -1))
	}
	return mu, assignments
}

// cluster returns the soft assignments [N, K] and centroids [K, H] of the embeddings. The initial centroids
// are random, refined by one k-means iteration.
func (t *GraphInfoClust) cluster(ctx *context.Context, embeddings *Node) (centroids, assignments *Node) {
	dim := embeddings.Shape().Dim(-1)
	initial := ctx.RandomUniform(embeddings.Graph(), shapes.Make(embeddings.DType(), t.numClusters, dim))
	initial, _ = softKMeans(embeddings, initial, t.config.Temperature, 1)
	return softKMeans(embeddings, initial, t.config.Temperature, t.config.Iterations)
}

// MakeLoss implements Task.
func (t *GraphInfoClust) MakeLoss(ctx *context.Context, original encoder.Inputs, _ *Node) *Node {
	positive, negative, summary := t.infomaxEmbeddings(ctx, t.inputs(original.Graph()))
	globalLoss := t.infomaxLoss(ctx, positive, negative, summary)

	centroids, assignments := t.cluster(ctx, positive)
	clusterSummary := Sigmoid(MatMul(assignments, centroids)) // [N, H]
	positiveScores := Sigmoid(ReduceSum(Mul(positive, clusterSummary), -1))
	negativeScores := Sigmoid(ReduceSum(Mul(negative, clusterSummary), -1))
	clusterLoss := JensenShannon(positiveScores, negativeScores)

	return Add(MulScalar(globalLoss, t.config.Alpha), MulScalar(clusterLoss, 1-t.config.Alpha))
}
