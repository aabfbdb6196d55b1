// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pretext implements self-supervised "pretext" objectives for graph encoders.
//
// A Task is constructed once per training run, from the graph, the (shared) encoder, the training
// mask and its hyperparameters. Construction does all host-side preparation (masks, pseudo-labels,
// alternate views, subgraphs), and MakeLoss builds the differentiable loss in the computation graph of
// each training step.
//
// Families implemented:
//
//   - Generation based: attribute_mask, corrupted_features_reconstruction, corrupted_embeddings_reconstruction.
//   - Contrastive dual-view: grace, gca.
//   - Global-local and clustering: dgi, graph_info_clust.
//   - Subgraph contrastive: subg_con.
//   - Siamese self-distillation (student/teacher with EMA): bgrl, selfgnn_split, selfgnn_ppr, selfgnn_ldp,
//     selfgnn_standard.
//
// Variable scopes: the student encoder lives in encoder.Scope, task heads in "/pretext/<task name>", and
// the teacher copy of the siamese tasks in encoder.TeacherScope+encoder.Scope.
package pretext

import (
	"math/rand/v2"
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	"github.com/gomlx/graphssl/pkg/encoder"
	"github.com/gomlx/graphssl/pkg/graphdata"
	"github.com/gomlx/graphssl/pkg/hparams"
)

// Scope under which the pretext task heads (decoders, projections, discriminators) are stored.
const Scope = "/pretext"

// Env holds everything a Task needs to be constructed, other than its own hyperparameters.
type Env struct {
	// Graph the task is trained on. Tasks clone it, and never modify the caller's copy.
	Graph *graphdata.Graph

	// Encoder shared with the downstream task: its variables are the "student" ones.
	Encoder encoder.Encoder

	// TrainMask marks the nodes with labels used by the downstream task. Optional.
	TrainMask []bool

	// Rng used for host-side randomness during construction. If nil, a source seeded with 0 is used.
	Rng *rand.Rand

	// Epochs is the number of training steps of the run, used by schedules (the siamese EMA).
	Epochs int
}

// Task is a self-supervised objective for the encoder.
type Task interface {
	// Name of the task, as registered.
	Name() string

	// MakeLoss builds the scalar loss of the task. original are the inputs of the unmodified graph, and
	// embeddings are the current downstream embeddings (see DownstreamEmbeddings), which some tasks use
	// directly, while others encode their own private views.
	MakeLoss(ctx *context.Context, original encoder.Inputs, embeddings *Node) *Node

	// DownstreamEmbeddings returns the node embeddings to be used by the downstream task, shaped
	// [num_nodes, DownstreamEmbeddingsSize()].
	DownstreamEmbeddings(ctx *context.Context, original encoder.Inputs) *Node

	// DownstreamEmbeddingsSize is the width of the embeddings returned by DownstreamEmbeddings.
	DownstreamEmbeddingsSize() int
}

// PostUpdater is implemented by tasks that need to update state after the optimizer updated the
// student variables, in the same training step graph.
type PostUpdater interface {
	PostUpdateGraph(ctx *context.Context, g *Graph)
}

// base implements the defaults of Task, and holds the state shared by all tasks.
type base struct {
	name      string
	data      *graphdata.Graph
	encoder   encoder.Encoder
	trainMask []bool
	rng       *rand.Rand
	epochs    int
}

func newBase(name string, env Env) (base, error) {
	if env.Graph == nil {
		return base{}, errors.Errorf("pretext task %q requires a graph", name)
	}
	if env.Encoder == nil {
		return base{}, errors.Errorf("pretext task %q requires an encoder", name)
	}
	trainMask := env.TrainMask
	if trainMask == nil {
		trainMask = make([]bool, env.Graph.NumNodes)
	}
	if len(trainMask) != env.Graph.NumNodes {
		return base{}, errors.Errorf("pretext task %q: train mask has %d entries for a graph with %d nodes",
			name, len(trainMask), env.Graph.NumNodes)
	}
	rng := env.Rng
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}
	return base{
		name:      name,
		data:      env.Graph.Clone(),
		encoder:   env.Encoder,
		trainMask: slices.Clone(trainMask),
		rng:       rng,
		epochs:    env.Epochs,
	}, nil
}

// Name implements Task.
func (b *base) Name() string { return b.name }

// DownstreamEmbeddings implements Task: the student encoder applied to the original graph.
func (b *base) DownstreamEmbeddings(ctx *context.Context, original encoder.Inputs) *Node {
	return b.encoder.Encode(encoder.StudentContext(ctx), original)
}

// DownstreamEmbeddingsSize implements Task.
func (b *base) DownstreamEmbeddingsSize() int { return b.encoder.OutChannels() }

// headContext returns the scope of the task's own variables.
func (b *base) headContext(ctx *context.Context) *context.Context {
	return ctx.InAbsPath(Scope).In(b.name)
}

// inputs returns the task's private copy of the graph as inputs in g.
func (b *base) inputs(g *Graph) encoder.Inputs {
	return encoder.ConstInputs(g, b.data)
}

// encode applies the student encoder.
func (b *base) encode(ctx *context.Context, in encoder.Inputs) *Node {
	return b.encoder.Encode(encoder.StudentContext(ctx), in)
}

// Constructor of a Task from its hyperparameters.
type Constructor func(params hparams.Params, env Env) (Task, error)

var registry = map[string]Constructor{
	"attribute_mask":                      newAttributeMask,
	"corrupted_features_reconstruction":   newCorruptedFeaturesReconstruction,
	"corrupted_embeddings_reconstruction": newCorruptedEmbeddingsReconstruction,
	"grace":                               newGRACE,
	"gca":                                 newGCA,
	"dgi":                                 newDeepGraphInfomax,
	"graph_info_clust":                    newGraphInfoClust,
	"subg_con":                            newSubgCon,
	"bgrl":                                siameseConstructor("bgrl", newDropoutViews),
	"selfgnn_split":                       siameseConstructor("selfgnn_split", newSplitViews),
	"selfgnn_ppr":                         siameseConstructor("selfgnn_ppr", newPPRViews),
	"selfgnn_ldp":                         siameseConstructor("selfgnn_ldp", newLDPViews),
	"selfgnn_standard":                    siameseConstructor("selfgnn_standard", newStandardizedViews),
}

// Names returns the sorted names of the registered tasks.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New creates the pretext task registered under name.
//
// It returns an error if the name is unknown, if params has keys the task doesn't know, or if their values
// are invalid.
func New(name string, params hparams.Params, env Env) (Task, error) {
	constructor, found := registry[name]
	if !found {
		return nil, errors.Errorf("unknown pretext task %q, valid tasks are %q", name, Names())
	}
	if !params.IsResolved() {
		return nil, errors.Errorf("pretext task %q: parameters %v are not resolved to a single configuration",
			name, params)
	}
	task, err := constructor(params, env)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating pretext task %q", name)
	}
	return task, nil
}
