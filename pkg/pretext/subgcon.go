// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pretext

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/graphssl/pkg/encoder"
	"github.com/gomlx/graphssl/pkg/graphdata"
	"github.com/gomlx/graphssl/pkg/hparams"
	"github.com/gomlx/graphssl/pkg/subgraph"
)

// SubgCon (Jiao et al., "Sub-graph Contrast for Scalable Self-Supervised Graph Representation Learning")
// contrasts each node with the summary of its own neighborhood subgraph, against the summary of another
// node's subgraph.
//
// Neighborhoods are the top-k nodes by diffusion score. All the subgraphs are batched into one
// disconnected graph, encoded at once. The downstream embeddings are the embeddings of each central node
// in its own subgraph.
type SubgCon struct {
	base
	config SubgConConfig
	set    *subgraph.Set
}

func newSubgCon(params hparams.Params, env Env) (Task, error) {
	b, err := newBase("subg_con", env)
	if err != nil {
		return nil, err
	}
	config := SubgConConfig{Alpha: 0.85, K: 20, Margin: 0.5, Diffusion: string(graphdata.DiffusionPinv)}
	if err := decodeConfig(params, &config); err != nil {
		return nil, err
	}
	if err := checkRatio("alpha", config.Alpha); err != nil {
		return nil, err
	}
	if config.K <= 0 {
		return nil, errors.Errorf("k=%d must be > 0", config.K)
	}
	strategy := graphdata.DiffusionStrategy(config.Diffusion)
	if strategy != graphdata.DiffusionPinv && strategy != graphdata.DiffusionPPR {
		return nil, errors.Errorf("unknown diffusion %q, valid values are %q and %q",
			config.Diffusion, graphdata.DiffusionPinv, graphdata.DiffusionPPR)
	}
	scores, err := graphdata.Diffusion(b.data, strategy, config.Alpha)
	if err != nil {
		return nil, err
	}
	set, err := subgraph.NewSet(b.data, subgraph.TopK(scores, config.K))
	if err != nil {
		return nil, errors.WithMessage(err, "building subgraphs")
	}
	klog.V(1).Infof("subg_con: %d subgraphs batched into %d nodes and %d edges",
		set.Len(), set.Batch.NumNodes, set.Batch.NumEdges())
	return &SubgCon{base: b, config: config, set: set}, nil
}

// Config returns the resolved configuration of the task.
func (t *SubgCon) Config() SubgConConfig { return t.config }

// Subgraphs returns the batched neighborhood subgraphs.
func (t *SubgCon) Subgraphs() *subgraph.Set { return t.set }

// embeddingsAndSummaries encodes the batch of subgraphs and returns, for each node i, the embedding of i
// within its own subgraph and the summary sigmoid(mean) of that subgraph, both shaped [N, H].
func (t *SubgCon) embeddingsAndSummaries(ctx *context.Context, g *Graph) (embeddings, summaries *Node) {
	all := t.encode(ctx, encoder.ConstInputs(g, t.set.Batch))
	dtype := all.DType()
	numSubgraphs := t.set.Len()
	dim := all.Shape().Dim(-1)

	batchIndex := InsertAxes(ConstTensor(g, t.set.BatchIndexTensor()), -1)
	sums := Scatter(batchIndex, all, shapes.Make(dtype, numSubgraphs, dim), true, false)
	sizes := ConvertDType(ConstTensor(g, tensors.FromFlatDataAndDimensions(t.set.Sizes(), numSubgraphs, 1)), dtype)
	summaries = Sigmoid(Div(sums, sizes))

	embeddings = Gather(all, InsertAxes(ConstTensor(g, t.set.CentralIndicesTensor()), -1))
	if !embeddings.Shape().Equal(summaries.Shape()) {
		Panicf("subg_con: embeddings shaped %s don't match the summaries shaped %s",
			embeddings.Shape(), summaries.Shape())
	}
	return
}

// DownstreamEmbeddings implements Task: the embedding of each node within its own subgraph.
func (t *SubgCon) DownstreamEmbeddings(ctx *context.Context, original encoder.Inputs) *Node {
	embeddings, _ := t.embeddingsAndSummaries(ctx, original.Graph())
	return embeddings
}

// MakeLoss implements Task.
func (t *SubgCon) MakeLoss(ctx *context.Context, original encoder.Inputs, _ *Node) *Node {
	g := original.Graph()
	embeddings1, summaries1 := t.embeddingsAndSummaries(ctx, g)
	perm := randomPermutation(ctx, g, t.set.Len())
	embeddings2, summaries2 := permuteRows(embeddings1, perm), permuteRows(summaries1, perm)

	score := func(embeddings, summaries *Node) *Node {
		return Sigmoid(ReduceSum(Mul(embeddings, summaries), -1))
	}
	loss1 := MarginRanking(score(embeddings1, summaries1), score(embeddings1, summaries2), t.config.Margin)
	loss2 := MarginRanking(score(embeddings2, summaries2), score(embeddings2, summaries1), t.config.Margin)
	return Add(loss1, loss2)
}
